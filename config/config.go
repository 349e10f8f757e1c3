package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mhtml/extract"
	"github.com/dhcgn/mhtml/fetch"
	"github.com/dhcgn/mhtml/mhtml"
)

// Config captures all command-line options of the mhtml commands. Options a
// command does not register keep their zero value.
type Config struct {
	LogLevel   string
	LogDir     string
	ConfigFile string

	Extractor      string
	DefaultCharset string
	Strict         bool
	Policy         mhtml.Policy

	UserAgent   string
	BearerToken string
	TokenHosts  []string
	Timeout     time.Duration
	MaxBytes    int64
	RedisURL    string
	CacheTTL    time.Duration

	URLsPath           string
	OutDir             string
	MboxPath           string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
	PostgresDSN        string
	MetricsAddr        string
	StateDir           string
	StateTTL           time.Duration
	DryRun             bool

	FromMbox        bool
	IncludeType     []string
	IncludeLocation []string
	ExcludeType     []string
	ExcludeLocation []string
}

// Batch reports whether the batch options were loaded.
func (c Config) Batch() bool {
	return c.URLsPath != ""
}

// RegisterGlobalFlags attaches the flags shared by every command.
func RegisterGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.CountP("debug", "d", "Raise the log level to debug")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("config", "", "YAML config file (${VAR} references are expanded)")
	flags.String("extractor", extract.NamePattern, "Resource extractor: pattern or tokenizer")
	flags.String("default-charset", mhtml.DefaultCharset, "Charset used when a page declares none")
	flags.Bool("strict", false, "Fail on the first malformed part instead of skipping it")
	flags.String("user-agent", fetch.DefaultUserAgent, "User-Agent header for fetches")
	flags.String("bearer-token", "", "Bearer token sent to the page host (falls back to MHTML_BEARER_TOKEN env var)")
	flags.StringArray("token-host", nil, "Additional host that receives the bearer token")
	flags.Duration("timeout", 30*time.Second, "Timeout of a single fetch")
	flags.Int64("max-bytes", 32<<20, "Maximum size of a fetched resource, 0 for no limit")
	flags.String("redis-url", "", "Redis URL for the fetch cache and shared capture state")
	flags.Duration("cache-ttl", fetch.DefaultCacheTTL, "Lifetime of cached fetches in Redis")
}

// RegisterPartFlags attaches the flags selecting decoded parts.
func RegisterPartFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("from-mbox", false, "Treat the input as an mbox archive of MHTML messages")
	flags.String("postgres-dsn", "", "Treat the input as a captured URL and load its message from this Postgres database")
	flags.StringArray("include-type", nil, "Regex allow-list applied to part content types (mutually exclusive with exclude flags)")
	flags.StringArray("include-location", nil, "Regex allow-list applied to part locations (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-type", nil, "Regex block-list applied to part content types (mutually exclusive with include flags)")
	flags.StringArray("exclude-location", nil, "Regex block-list applied to part locations (mutually exclusive with include flags)")
}

// RegisterBatchFlags attaches the flags of the batch command.
func RegisterBatchFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("urls", "", "File with one URL per line, - for stdin")
	flags.String("out-dir", "", "Write each capture as a .mht file into this directory")
	flags.String("mbox", "", "Append each capture to this mbox archive")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("target-folder", "Archive", "Target IMAP folder for captures")
	flags.String("postgres-dsn", "", "Store captures in this Postgres database")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	flags.String("state-dir", defaultStateDir, "Directory for incremental capture state files")
	flags.Duration("state-ttl", 7*24*time.Hour, "How long a captured URL is skipped by later runs (0 keeps it forever in the state file)")
	flags.Bool("dry-run", false, "Capture pages without delivering them")

	return cmd.MarkFlagRequired("urls")
}

// LoadConfig converts the parsed Cobra flags into a Config struct with
// validation. Values from the --config file apply to options whose flag was
// not set explicitly.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	r := flagReader{cmd: cmd}

	cfg := Config{
		LogLevel:       r.String("log-level"),
		LogDir:         r.String("log-dir"),
		ConfigFile:     r.String("config"),
		Extractor:      r.String("extractor"),
		DefaultCharset: r.String("default-charset"),
		Strict:         r.Bool("strict"),
		Policy:         mhtml.DefaultPolicy(),

		UserAgent:   r.String("user-agent"),
		BearerToken: r.String("bearer-token"),
		TokenHosts:  r.StringArray("token-host"),
		Timeout:     r.Duration("timeout"),
		MaxBytes:    r.Int64("max-bytes"),
		RedisURL:    r.String("redis-url"),
		CacheTTL:    r.Duration("cache-ttl"),

		URLsPath:           r.String("urls"),
		OutDir:             r.String("out-dir"),
		MboxPath:           r.String("mbox"),
		IMAPHost:           r.String("imap-host"),
		IMAPPort:           r.Int("imap-port"),
		IMAPUser:           r.String("imap-user"),
		IMAPPass:           r.String("imap-pass"),
		UseTLS:             r.Bool("use-tls"),
		InsecureSkipVerify: r.Bool("insecure-skip-verify"),
		TargetFolder:       r.String("target-folder"),
		PostgresDSN:        r.String("postgres-dsn"),
		MetricsAddr:        r.String("metrics-addr"),
		StateDir:           r.String("state-dir"),
		StateTTL:           r.Duration("state-ttl"),
		DryRun:             r.Bool("dry-run"),

		FromMbox:        r.Bool("from-mbox"),
		IncludeType:     r.StringArray("include-type"),
		IncludeLocation: r.StringArray("include-location"),
		ExcludeType:     r.StringArray("exclude-type"),
		ExcludeLocation: r.StringArray("exclude-location"),
	}
	debug := r.Count("debug")
	if r.err != nil {
		return Config{}, r.err
	}

	if cfg.ConfigFile != "" {
		file, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return Config{}, err
		}
		file.apply(&cfg, r.Changed)
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.BearerToken == "" {
		cfg.BearerToken = os.Getenv("MHTML_BEARER_TOKEN")
	}

	if cfg.Batch() && strings.TrimSpace(cfg.StateDir) == "" {
		stateDir, err := defaultStateDir()
		if err != nil {
			return Config{}, err
		}
		cfg.StateDir = stateDir
	}
	if cfg.StateDir != "" {
		cfg.StateDir = filepath.Clean(cfg.StateDir)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if debug > 0 {
		cfg.LogLevel = "debug"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}
	if _, err := extract.New(cfg.Extractor); err != nil {
		return fmt.Errorf("invalid --extractor: %w", err)
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("--timeout must not be negative")
	}
	if cfg.MaxBytes < 0 {
		return fmt.Errorf("--max-bytes must not be negative")
	}

	includeActive := len(cfg.IncludeType) > 0 || len(cfg.IncludeLocation) > 0
	excludeActive := len(cfg.ExcludeType) > 0 || len(cfg.ExcludeLocation) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	if !cfg.Batch() {
		if cfg.FromMbox && cfg.PostgresDSN != "" {
			return fmt.Errorf("--from-mbox and --postgres-dsn are mutually exclusive")
		}
		return nil
	}

	if cfg.OutDir == "" && cfg.MboxPath == "" && cfg.IMAPHost == "" && cfg.PostgresDSN == "" && !cfg.DryRun {
		return fmt.Errorf("no sink configured: set --out-dir, --mbox, --imap-host or --postgres-dsn, or use --dry-run")
	}
	if cfg.IMAPHost != "" {
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required with --imap-host")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mhtml", "state"), nil
}

// flagReader reads flags by name, tolerating flags the command does not
// register. The first lookup error is kept in err.
type flagReader struct {
	cmd *cobra.Command
	err error
}

func (r *flagReader) has(name string) bool {
	return r.err == nil && r.cmd.Flags().Lookup(name) != nil
}

// Changed reports whether the flag was set on the command line.
func (r *flagReader) Changed(name string) bool {
	f := r.cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

func (r *flagReader) String(name string) string {
	if !r.has(name) {
		return ""
	}
	v, err := r.cmd.Flags().GetString(name)
	r.err = err
	return v
}

func (r *flagReader) Bool(name string) bool {
	if !r.has(name) {
		return false
	}
	v, err := r.cmd.Flags().GetBool(name)
	r.err = err
	return v
}

func (r *flagReader) Int(name string) int {
	if !r.has(name) {
		return 0
	}
	v, err := r.cmd.Flags().GetInt(name)
	r.err = err
	return v
}

func (r *flagReader) Int64(name string) int64 {
	if !r.has(name) {
		return 0
	}
	v, err := r.cmd.Flags().GetInt64(name)
	r.err = err
	return v
}

func (r *flagReader) Count(name string) int {
	if !r.has(name) {
		return 0
	}
	v, err := r.cmd.Flags().GetCount(name)
	r.err = err
	return v
}

func (r *flagReader) Duration(name string) time.Duration {
	if !r.has(name) {
		return 0
	}
	v, err := r.cmd.Flags().GetDuration(name)
	r.err = err
	return v
}

func (r *flagReader) StringArray(name string) []string {
	if !r.has(name) {
		return nil
	}
	v, err := r.cmd.Flags().GetStringArray(name)
	r.err = err
	return v
}

// Codec returns the encoder and decoder settings.
func (c Config) Codec() (mhtml.Config, error) {
	ex, err := extract.New(c.Extractor)
	if err != nil {
		return mhtml.Config{}, err
	}
	return mhtml.Config{
		Policy:         c.Policy,
		Extractor:      ex,
		DefaultCharset: c.DefaultCharset,
		Strict:         c.Strict,
	}, nil
}
