package rmbg

import (
	"errors"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var errPoolClosed = errors.New("tensor pool closed")

type destroyer interface {
	Destroy() error
}

// tensorPool recycles native tensors. Unlike sync.Pool it keeps every idle
// tensor reachable, so destroy can free their native memory.
type tensorPool[T destroyer] struct {
	alloc func() (T, error)

	mu     sync.Mutex
	free   []T
	closed bool
}

type ortTensorPool = tensorPool[*ort.Tensor[float32]]

func newTensorPool(shape ort.Shape) *ortTensorPool {
	shape = shape.Clone()
	return &ortTensorPool{alloc: func() (*ort.Tensor[float32], error) {
		return ort.NewEmptyTensor[float32](shape)
	}}
}

// newStaticTensorPool returns nil when shape has a dynamic (non-positive) dim.
func newStaticTensorPool(shape ort.Shape) *ortTensorPool {
	if len(shape) == 0 {
		return nil
	}
	for _, d := range shape {
		if d <= 0 {
			return nil
		}
	}
	return newTensorPool(shape)
}

func (p *tensorPool[T]) get() (T, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		var zero T
		return zero, errPoolClosed
	}
	if n := len(p.free); n > 0 {
		t := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()
	return p.alloc()
}

// put returns t to the pool, or destroys it once the pool is closed.
func (p *tensorPool[T]) put(t T) {
	p.mu.Lock()
	if !p.closed {
		p.free = append(p.free, t)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	_ = t.Destroy()
}

// destroy frees every idle tensor. Tensors still in use are freed when they
// are put back.
func (p *tensorPool[T]) destroy() error {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, t := range free {
		if err := t.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
