package rmbg

import (
	"errors"
	"image/png"
	"testing"

	ort "github.com/yalue/onnxruntime_go"
)

func TestEncodeBufferPool(t *testing.T) {
	pool := newEncodeBufferPool()

	t.Run("GetAndPut", func(t *testing.T) {
		buf := pool.get(1024)
		if buf.Len() != 0 {
			t.Errorf("Expected empty buffer, got %d bytes", buf.Len())
		}
		if buf.Cap() < 1024 {
			t.Errorf("Expected capacity of at least 1024, got %d", buf.Cap())
		}
		buf.WriteString("leftover")
		pool.put(buf)

		again := pool.get(16)
		if again.Len() != 0 {
			t.Errorf("Expected reused buffer to be reset, got %q", again.String())
		}
		pool.put(again)
	})

	t.Run("EncoderBuffers", func(t *testing.T) {
		var _ png.EncoderBufferPool = pool
		if b := pool.Get(); b != nil {
			pool.Put(b)
		}
		b := &png.EncoderBuffer{}
		pool.Put(b)
		// sync.Pool may drop items at any time; only the type matters here.
		if got := pool.Get(); got != nil && got != b {
			t.Errorf("Expected pooled encoder buffer or nil, got %p", got)
		}
	})
}

func TestNewStaticTensorPool(t *testing.T) {
	tests := []struct {
		name  string
		shape ort.Shape
		want  bool
	}{
		{"Static", ort.NewShape(1, 1, InputSize, InputSize), true},
		{"DynamicBatch", ort.NewShape(-1, 1, InputSize, InputSize), false},
		{"Empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newStaticTensorPool(tt.shape) != nil; got != tt.want {
				t.Errorf("newStaticTensorPool(%v) != nil = %v; want %v", tt.shape, got, tt.want)
			}
		})
	}
}

type fakeTensor struct {
	id        int
	destroyed int
	err       error
}

func (f *fakeTensor) Destroy() error {
	f.destroyed++
	return f.err
}

func newFakePool() (*tensorPool[*fakeTensor], *[]*fakeTensor) {
	var made []*fakeTensor
	pool := &tensorPool[*fakeTensor]{alloc: func() (*fakeTensor, error) {
		t := &fakeTensor{id: len(made)}
		made = append(made, t)
		return t, nil
	}}
	return pool, &made
}

func TestTensorPool(t *testing.T) {
	t.Run("Reuses", func(t *testing.T) {
		pool, made := newFakePool()
		first, err := pool.get()
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		pool.put(first)
		again, err := pool.get()
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if again != first || len(*made) != 1 {
			t.Errorf("Expected the idle tensor to be reused, allocated %d", len(*made))
		}
	})

	t.Run("DestroyFreesIdleTensors", func(t *testing.T) {
		pool, made := newFakePool()
		a, _ := pool.get()
		b, _ := pool.get()
		inUse, _ := pool.get()
		pool.put(a)
		pool.put(b)

		if err := pool.destroy(); err != nil {
			t.Fatalf("destroy failed: %v", err)
		}
		if a.destroyed != 1 || b.destroyed != 1 {
			t.Errorf("Expected idle tensors destroyed once, got %d and %d", a.destroyed, b.destroyed)
		}
		if inUse.destroyed != 0 {
			t.Errorf("Expected in-use tensor to survive destroy")
		}

		pool.put(inUse)
		if inUse.destroyed != 1 {
			t.Errorf("Expected tensor returned after destroy to be freed")
		}
		if _, err := pool.get(); !errors.Is(err, errPoolClosed) {
			t.Errorf("Expected errPoolClosed, got %v", err)
		}
		if len(*made) != 3 {
			t.Errorf("Expected 3 allocations, got %d", len(*made))
		}
	})

	t.Run("DestroyReportsErrors", func(t *testing.T) {
		pool, _ := newFakePool()
		bad, _ := pool.get()
		bad.err = errors.New("release failed")
		pool.put(bad)
		if err := pool.destroy(); err == nil {
			t.Error("Expected destroy to report the failure")
		}
	})
}
