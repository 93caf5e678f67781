package rmbg

import (
	"bytes"
	"image/png"
	"sync"
)

// encodeBufferPool recycles the output buffers and the PNG encoder's scratch
// space between requests.
type encodeBufferPool struct {
	buffers  sync.Pool
	encoders sync.Pool
}

func newEncodeBufferPool() *encodeBufferPool {
	return &encodeBufferPool{
		buffers: sync.Pool{
			New: func() any {
				return new(bytes.Buffer)
			},
		},
	}
}

func (p *encodeBufferPool) get(size int) *bytes.Buffer {
	buf := p.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	buf.Grow(size)
	return buf
}

func (p *encodeBufferPool) put(buf *bytes.Buffer) {
	p.buffers.Put(buf)
}

// Get and Put implement png.EncoderBufferPool.
func (p *encodeBufferPool) Get() *png.EncoderBuffer {
	b, _ := p.encoders.Get().(*png.EncoderBuffer)
	return b
}

func (p *encodeBufferPool) Put(b *png.EncoderBuffer) {
	p.encoders.Put(b)
}
