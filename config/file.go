package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dhcgn/mhtml/mhtml"
)

// File mirrors the YAML config file. Empty values leave the flag value in
// place.
type File struct {
	LogLevel       string       `yaml:"log_level"`
	LogDir         string       `yaml:"log_dir"`
	Extractor      string       `yaml:"extractor"`
	DefaultCharset string       `yaml:"default_charset"`
	Strict         *bool        `yaml:"strict"`
	Policy         mhtml.Policy `yaml:"policy"`

	Fetch struct {
		UserAgent   string   `yaml:"user_agent"`
		BearerToken string   `yaml:"bearer_token"`
		TokenHosts  []string `yaml:"token_hosts"`
		Timeout     string   `yaml:"timeout"`
		MaxBytes    int64    `yaml:"max_bytes"`
	} `yaml:"fetch"`

	Redis struct {
		URL      string `yaml:"url"`
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"redis"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	IMAP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		User               string `yaml:"user"`
		Pass               string `yaml:"pass"`
		UseTLS             *bool  `yaml:"use_tls"`
		InsecureSkipVerify *bool  `yaml:"insecure_skip_verify"`
		TargetFolder       string `yaml:"target_folder"`
	} `yaml:"imap"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	OutDir   string `yaml:"out_dir"`
	MboxPath string `yaml:"mbox"`
	StateDir string `yaml:"state_dir"`
	StateTTL string `yaml:"state_ttl"`

	timeout  time.Duration
	cacheTTL time.Duration
	stateTTL time.Duration
}

// LoadFile reads a YAML config file. ${VAR} references are expanded from the
// environment before parsing.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	if f.timeout, err = parseDuration("fetch.timeout", f.Fetch.Timeout); err != nil {
		return nil, err
	}
	if f.cacheTTL, err = parseDuration("redis.cache_ttl", f.Redis.CacheTTL); err != nil {
		return nil, err
	}
	if f.stateTTL, err = parseDuration("state_ttl", f.StateTTL); err != nil {
		return nil, err
	}

	return &f, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse config %s: %w", key, err)
	}
	return d, nil
}

// apply copies file values into cfg for every option whose flag was not
// changed on the command line.
func (f *File) apply(cfg *Config, changed func(name string) bool) {
	setString := func(name string, dst *string, v string) {
		if v != "" && !changed(name) {
			*dst = v
		}
	}
	setBool := func(name string, dst *bool, v *bool) {
		if v != nil && !changed(name) {
			*dst = *v
		}
	}
	setDuration := func(name string, dst *time.Duration, v time.Duration) {
		if v != 0 && !changed(name) {
			*dst = v
		}
	}

	setString("log-level", &cfg.LogLevel, f.LogLevel)
	setString("log-dir", &cfg.LogDir, f.LogDir)
	setString("extractor", &cfg.Extractor, f.Extractor)
	setString("default-charset", &cfg.DefaultCharset, f.DefaultCharset)
	setBool("strict", &cfg.Strict, f.Strict)

	setString("user-agent", &cfg.UserAgent, f.Fetch.UserAgent)
	setString("bearer-token", &cfg.BearerToken, f.Fetch.BearerToken)
	if len(f.Fetch.TokenHosts) > 0 && !changed("token-host") {
		cfg.TokenHosts = f.Fetch.TokenHosts
	}
	setDuration("timeout", &cfg.Timeout, f.timeout)
	if f.Fetch.MaxBytes != 0 && !changed("max-bytes") {
		cfg.MaxBytes = f.Fetch.MaxBytes
	}

	setString("redis-url", &cfg.RedisURL, f.Redis.URL)
	setDuration("cache-ttl", &cfg.CacheTTL, f.cacheTTL)
	setDuration("state-ttl", &cfg.StateTTL, f.stateTTL)
	setString("postgres-dsn", &cfg.PostgresDSN, f.Postgres.DSN)
	setString("metrics-addr", &cfg.MetricsAddr, f.Metrics.Addr)

	setString("imap-host", &cfg.IMAPHost, f.IMAP.Host)
	if f.IMAP.Port != 0 && !changed("imap-port") {
		cfg.IMAPPort = f.IMAP.Port
	}
	setString("imap-user", &cfg.IMAPUser, f.IMAP.User)
	setString("imap-pass", &cfg.IMAPPass, f.IMAP.Pass)
	setBool("use-tls", &cfg.UseTLS, f.IMAP.UseTLS)
	setBool("insecure-skip-verify", &cfg.InsecureSkipVerify, f.IMAP.InsecureSkipVerify)
	setString("target-folder", &cfg.TargetFolder, f.IMAP.TargetFolder)

	setString("out-dir", &cfg.OutDir, f.OutDir)
	setString("mbox", &cfg.MboxPath, f.MboxPath)
	setString("state-dir", &cfg.StateDir, f.StateDir)

	cfg.Policy = mergePolicy(cfg.Policy, f.Policy)
}

// mergePolicy replaces each table of base that is set in override.
// Signatures are merged key by key.
func mergePolicy(base, override mhtml.Policy) mhtml.Policy {
	if len(override.Base64Types) > 0 {
		base.Base64Types = override.Base64Types
	}
	if len(override.QuotedPrintableTypes) > 0 {
		base.QuotedPrintableTypes = override.QuotedPrintableTypes
	}
	if len(override.IgnoreTypes) > 0 {
		base.IgnoreTypes = override.IgnoreTypes
	}
	if len(override.Signatures) > 0 {
		merged := make(map[string]string, len(base.Signatures)+len(override.Signatures))
		for k, v := range base.Signatures {
			merged[k] = v
		}
		for k, v := range override.Signatures {
			merged[k] = v
		}
		base.Signatures = merged
	}
	return base
}
