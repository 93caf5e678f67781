package rmbg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const loadKey = "session"

type loadedSession struct {
	Session
}

// ModelProvider resolves, loads and caches the segmentation session for the
// lifetime of the process. At most one resolve/fetch/load runs at a time;
// callers arriving meanwhile share its result.
type ModelProvider struct {
	cfg     *Config
	loader  Loader
	fetcher Fetcher
	logger  *slog.Logger

	session atomic.Pointer[loadedSession]
	group   singleflight.Group
}

// NewModelProvider wires a provider. A nil fetcher disables downloading.
func NewModelProvider(cfg *Config, loader Loader, fetcher Fetcher) *ModelProvider {
	cfg = cfg.withDefaults()
	return &ModelProvider{
		cfg:     cfg,
		loader:  loader,
		fetcher: fetcher,
		logger:  cfg.Logger,
	}
}

// GetSession returns the cached session, loading it first if needed. Errors
// wrap ErrModelUnavailable. ctx only bounds this caller's wait: a load already
// in flight keeps going for the other callers.
func (p *ModelProvider) GetSession(ctx context.Context) (Session, error) {
	if s := p.session.Load(); s != nil {
		return s.Session, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(loadKey, func() (any, error) {
		if s := p.session.Load(); s != nil {
			return s, nil
		}
		s, err := p.load(loadCtx)
		if err != nil {
			return nil, err
		}
		loaded := &loadedSession{Session: s}
		p.session.Store(loaded)
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*loadedSession).Session, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, ctx.Err())
	}
}

func (p *ModelProvider) load(ctx context.Context) (Session, error) {
	path, cached, err := p.resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	start := time.Now()
	s, err := p.loadSession(ctx, path)
	if errors.Is(err, errLoadTimeout) {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if err != nil {
		if cached {
			// Drop the unusable copy so a later request fetches a fresh one.
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				p.logger.Warn("failed to remove unusable model", "path", path, "error", rmErr)
			}
		}
		return nil, fmt.Errorf("%w: failed to load %s: %w", ErrModelUnavailable, path, err)
	}

	p.logger.Info("model loaded", "path", path, "elapsed", time.Since(start))
	return s, nil
}

var errLoadTimeout = errors.New("model load timed out")

// loadSession runs the loader bounded by LoadTimeout. Session creation cannot
// be interrupted, so a load that finishes after the deadline has its session
// closed.
func (p *ModelProvider) loadSession(ctx context.Context, path string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.LoadTimeout)
	defer cancel()

	type result struct {
		s   Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := p.loader.Load(path)
		done <- result{s: s, err: err}
	}()

	select {
	case res := <-done:
		return res.s, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.s != nil {
				if err := res.s.Close(); err != nil {
					p.logger.Warn("failed to close late session", "path", path, "error", err)
				}
			}
		}()
		return nil, fmt.Errorf("%w after %s: %s", errLoadTimeout, p.cfg.LoadTimeout, path)
	}
}

// resolve finds a model file, fetching it into the cache directory when no
// local copy exists. cached reports whether the file lives in the cache.
func (p *ModelProvider) resolve(ctx context.Context) (path string, cached bool, err error) {
	if p.cfg.ModelPath != "" && fileExists(p.cfg.ModelPath) {
		return p.cfg.ModelPath, false, nil
	}

	path = p.cfg.CachedModelPath()
	if fileExists(path) {
		p.logger.Debug("using cached model", "path", path)
		return path, true, nil
	}

	if p.fetcher == nil {
		return "", false, fmt.Errorf("no model at %s and fetching is disabled", path)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()

	p.logger.Info("fetching model", "path", path)
	if err := p.fetcher.Fetch(ctx, path); err != nil {
		p.logger.Error("model fetch failed", "error", err)
		return "", false, err
	}
	return path, true, nil
}

// Close releases the session, if one was loaded.
func (p *ModelProvider) Close() error {
	s := p.session.Swap(nil)
	if s == nil {
		return nil
	}
	return s.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
