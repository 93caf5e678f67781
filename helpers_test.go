package rmbg

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.DiscardHandler)

// stubSession is a Session whose behaviour is set by run.
type stubSession struct {
	run    func(ctx context.Context, t *Tensor) (*RawOutput, error)
	calls  atomic.Int32
	closed atomic.Bool
}

func (s *stubSession) Run(ctx context.Context, t *Tensor) (*RawOutput, error) {
	s.calls.Add(1)
	return s.run(ctx, t)
}

func (s *stubSession) Close() error {
	s.closed.Store(true)
	return nil
}

// constantSession always returns a (1, 1, 320, 320) output filled with v.
func constantSession(v float32) *stubSession {
	return &stubSession{run: func(_ context.Context, _ *Tensor) (*RawOutput, error) {
		data := make([]float32, InputSize*InputSize)
		for i := range data {
			data[i] = v
		}
		return &RawOutput{Shape: []int64{1, 1, InputSize, InputSize}, Data: data}, nil
	}}
}

func failingSession(err error) *stubSession {
	return &stubSession{run: func(context.Context, *Tensor) (*RawOutput, error) {
		return nil, err
	}}
}

// newTestRemBG wires a RemBG whose provider loads session from a local dummy
// model file.
func newTestRemBG(t *testing.T, session Session, mutate ...func(*Config)) *RemBG {
	t.Helper()
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.onnx")
	require.NoError(t, os.WriteFile(modelPath, []byte("onnx"), 0o644))

	cfg := &Config{
		ModelPath: modelPath,
		CacheDir:  filepath.Join(dir, "cache"),
		Logger:    discardLogger,
	}
	for _, m := range mutate {
		m(cfg)
	}

	loader := LoaderFunc(func(string) (Session, error) { return session, nil })
	return NewWithProvider(NewModelProvider(cfg, loader, nil), cfg)
}

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// patternRGBA draws an opaque image where every pixel differs from its
// neighbours.
func patternRGBA(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func bytesReader(s string) io.Reader {
	return strings.NewReader(s)
}
