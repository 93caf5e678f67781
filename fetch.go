package rmbg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Fetcher downloads the model artifact to dst.
type Fetcher interface {
	Fetch(ctx context.Context, dst string) error
}

// errDownloadStalled is the cause of a download aborted for going quiet.
var errDownloadStalled = errors.New("download stalled")

// HTTPFetcher downloads a model with a GET request. The file appears at dst
// only once it was fully written; failures leave nothing behind.
//
// IdleTimeout bounds connecting, waiting for the response headers and every
// gap between body reads, so a slow but steady transfer is never cut off.
// Timeout caps the whole download.
type HTTPFetcher struct {
	URL         string
	IdleTimeout time.Duration
	Timeout     time.Duration
	Client      *http.Client
	Logger      *slog.Logger
}

func NewHTTPFetcher(cfg *Config) *HTTPFetcher {
	cfg = cfg.withDefaults()
	return &HTTPFetcher{
		URL:         cfg.ModelURL,
		IdleTimeout: cfg.FetchTimeout,
		Timeout:     cfg.DownloadTimeout,
		Client:      &http.Client{Transport: newIdleTransport(cfg.FetchTimeout)},
		Logger:      cfg.Logger,
	}
}

func newIdleTransport(idle time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: idle, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = idle
	t.ResponseHeaderTimeout = idle
	return t
}

func (f *HTTPFetcher) Fetch(ctx context.Context, dst string) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Transport: newIdleTransport(f.IdleTimeout)}
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download model: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download model: unexpected status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.IdleTimeout > 0 {
		idle := newIdleReader(resp.Body, f.IdleTimeout, func() { abort(errDownloadStalled) })
		defer idle.stop()
		body = idle
	}

	n, err := writeAtomic(dst, body)
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, errDownloadStalled) {
			return fmt.Errorf("failed to download model: %w after %d bytes", cause, n)
		}
		return err
	}

	if f.Logger != nil {
		f.Logger.Info("model downloaded", "url", f.URL, "path", dst, "bytes", n, "elapsed", time.Since(start))
	}
	return nil
}

// idleReader calls onIdle when no data arrived for timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newIdleReader(r io.Reader, timeout time.Duration, onIdle func()) *idleReader {
	return &idleReader{r: r, timeout: timeout, timer: time.AfterFunc(timeout, onIdle)}
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) stop() {
	r.timer.Stop()
}

// writeAtomic streams r into a temp file next to dst and renames it into
// place once complete.
func writeAtomic(dst string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, fmt.Errorf("failed to write model: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("failed to write model: empty response")
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("failed to sync model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close model: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		committed = true
		return n, fmt.Errorf("failed to move model into place: %w", err)
	}
	committed = true
	return n, nil
}
