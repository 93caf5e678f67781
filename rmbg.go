package rmbg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"
)

// errSessionStuck is returned while a run abandoned after its timeout still
// occupies the session.
var errSessionStuck = errors.New("previous inference still running")

// Outcome tells a segmented result apart from the degraded fallback.
type Outcome int

const (
	// Segmented means the background was removed.
	Segmented Outcome = iota
	// Degraded means a session existed but inference or postprocessing failed;
	// the image is the original converted to NRGBA, background intact.
	Degraded
)

func (o Outcome) String() string {
	switch o {
	case Segmented:
		return "segmented"
	case Degraded:
		return "degraded"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result of RemoveBackground.
type Result struct {
	Image   *image.NRGBA
	Outcome Outcome
	// Mask is nil for degraded results.
	Mask *image.Gray
	// Cause is why the result was degraded.
	Cause error
}

// Output of RemoveBackgroundBytes.
type Output struct {
	PNG     []byte
	Outcome Outcome
	Width   int
	Height  int
}

// RemBG removes image backgrounds with a lazily loaded segmentation model.
type RemBG struct {
	provider         *ModelProvider
	inferenceTimeout time.Duration
	disableFallback  bool
	logger           *slog.Logger
	buffers          *encodeBufferPool

	// abandoned counts runs that outlived their deadline and have not
	// returned yet.
	abandoned atomic.Int32
}

// New builds a RemBG backed by ONNX Runtime. The model is resolved on first
// use, fetching it from config.ModelURL when no local copy exists.
func New(config *Config) (*RemBG, error) {
	cfg := config.withDefaults()
	if u, err := url.Parse(cfg.ModelURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid model url %q", cfg.ModelURL)
	}
	provider := NewModelProvider(cfg, NewORTLoader(cfg), NewHTTPFetcher(cfg))
	return NewWithProvider(provider, cfg), nil
}

// NewWithProvider builds a RemBG around an existing provider.
func NewWithProvider(provider *ModelProvider, config *Config) *RemBG {
	cfg := config.withDefaults()
	return &RemBG{
		provider:         provider,
		inferenceTimeout: cfg.InferenceTimeout,
		disableFallback:  cfg.DisableFallback,
		logger:           cfg.Logger,
		buffers:          newEncodeBufferPool(),
	}
}

// Close destroys the session
func (r *RemBG) Close() error {
	return r.provider.Close()
}

// RemoveBackground segments img and cuts out its background.
//
// It fails with ErrServiceUnavailable when no model can be obtained. Once a
// session exists, failures produce a Degraded result instead of an error
// unless the fallback is disabled, in which case ErrProcessingFailed is
// returned.
func (r *RemBG) RemoveBackground(ctx context.Context, img image.Image) (*Result, error) {
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrDecode, bounds.Dx(), bounds.Dy())
	}

	session, err := r.provider.GetSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	mask, err := r.segment(ctx, session, img)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if r.disableFallback {
			return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
		}
		r.logger.Warn("model-based background removal failed, returning original", "error", err)
		return &Result{
			Image:   degrade(img),
			Outcome: Degraded,
			Cause:   err,
		}, nil
	}

	return &Result{
		Image:   Composite(img, mask),
		Outcome: Segmented,
		Mask:    mask,
	}, nil
}

// RemoveBackgroundBytes decodes data, removes its background and returns the
// result as PNG.
func (r *RemBG) RemoveBackgroundBytes(ctx context.Context, data []byte) (*Output, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}

	res, err := r.RemoveBackground(ctx, img)
	if err != nil {
		return nil, err
	}

	b := res.Image.Bounds()
	buf := r.buffers.get(len(data))
	defer r.buffers.put(buf)
	if err := encodePNG(buf, res.Image, r.buffers); err != nil {
		return nil, err
	}

	return &Output{
		PNG:     append([]byte(nil), buf.Bytes()...),
		Outcome: res.Outcome,
		Width:   b.Dx(),
		Height:  b.Dy(),
	}, nil
}

func (r *RemBG) segment(ctx context.Context, session Session, img image.Image) (mask *image.Gray, err error) {
	defer func() {
		if p := recover(); p != nil {
			mask, err = nil, fmt.Errorf("%w: segmentation panicked: %v", ErrInference, p)
		}
	}()

	start := time.Now()
	tensor := Preprocess(img)

	raw, err := r.RunInference(ctx, session, tensor)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	mask, err = Postprocess(raw, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	r.logger.Debug("mask computed", "width", b.Dx(), "height", b.Dy(), "elapsed", time.Since(start))
	return mask, nil
}

// RunInference runs session on t, bounded by the configured inference
// timeout. Every failure, including a panic inside the session, wraps
// ErrInference. Nothing is retried.
//
// A run that misses its deadline keeps going in the background; until it
// returns, further calls fail immediately instead of queueing behind it.
func (r *RemBG) RunInference(ctx context.Context, session Session, t *Tensor) (*RawOutput, error) {
	if r.abandoned.Load() > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInference, errSessionStuck)
	}
	if r.inferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.inferenceTimeout)
		defer cancel()
	}

	type result struct {
		raw *RawOutput
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("session panicked: %v", p)}
			}
		}()
		raw, err := session.Run(ctx, t)
		done <- result{raw: raw, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInference, res.err)
		}
		if res.raw == nil {
			return nil, fmt.Errorf("%w: session returned no output", ErrInference)
		}
		return res.raw, nil
	case <-ctx.Done():
		r.abandoned.Add(1)
		go func() {
			<-done
			r.abandoned.Add(-1)
		}()
		return nil, fmt.Errorf("%w: %w", ErrInference, ctx.Err())
	}
}
