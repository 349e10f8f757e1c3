package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mhtml/model"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
}

// Uploader is a sink appending each capture to the target folder. The
// connection is opened on the first delivery and reused until Close.
type Uploader struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	client  *imapclient.Client
	cleanup func()
}

func NewUploader(opts Options, logger *slog.Logger) (*Uploader, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{opts: opts, logger: logger}, nil
}

func (u *Uploader) Name() string {
	return "imap"
}

func (u *Uploader) Deliver(ctx context.Context, c model.Capture) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.client == nil {
		client, cleanup, err := u.dial(ctx)
		if err != nil {
			return err
		}
		u.client, u.cleanup = client, cleanup
	}

	if err := u.appendMessage(u.client, c); err != nil {
		return fmt.Errorf("upload capture %s: %w", c.URL, err)
	}

	u.logger.Debug("uploaded capture", "url", c.URL, "target", u.targetFolder(), "bytes", len(c.Raw))
	return nil
}

func (u *Uploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.cleanup != nil {
		u.cleanup()
	}
	u.client, u.cleanup = nil, nil
	return nil
}

func (u *Uploader) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(u.opts.Host, strconv.Itoa(u.opts.Port))
	options := &imapclient.Options{}

	if u.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         u.opts.Host,
			InsecureSkipVerify: u.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if u.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(u.opts.Username, u.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if err := u.ensureMailbox(client); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	u.logger.Debug("imap connection established", "address", address, "user", u.opts.Username, "target", u.targetFolder(), "tls", u.opts.UseTLS)

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				u.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil {
			u.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (u *Uploader) appendMessage(client *imapclient.Client, c model.Capture) error {
	target := u.targetFolder()
	raw := ToCRLF(c.Raw)

	var opts *imapv2.AppendOptions
	if !c.CapturedAt.IsZero() {
		opts = &imapv2.AppendOptions{Time: c.CapturedAt}
	}

	cmd := client.Append(target, int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

// ToCRLF converts bare line feeds to CRLF, the line ending IMAP servers
// expect in appended messages. Existing CRLF pairs are kept.
func ToCRLF(raw []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(raw) + bytes.Count(raw, []byte{'\n'}))
	for i, b := range raw {
		if b == '\n' && (i == 0 || raw[i-1] != '\r') {
			buf.WriteByte('\r')
		}
		buf.WriteByte(b)
	}
	return buf.Bytes()
}

func (u *Uploader) targetFolder() string {
	if u.opts.TargetFolder == "" {
		return "INBOX"
	}
	return u.opts.TargetFolder
}

func (u *Uploader) ensureMailbox(client *imapclient.Client) error {
	target := u.targetFolder()
	cmd := client.Create(target, nil)
	if err := cmd.Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			if respErr.Code == imapv2.ResponseCodeAlreadyExists {
				u.logger.Debug("imap mailbox already exists", "mailbox", target)
				return nil
			}
		}
		return fmt.Errorf("ensure mailbox %s: %w", target, err)
	}

	u.logger.Info("imap mailbox created", "mailbox", target)
	return nil
}
