package codec

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// Decoder is a scoped-acquisition wrapper around an astiav codec context:
// Close always runs Free, including when construction fails partway
// through.
type Decoder struct {
	ctx *astiav.CodecContext
}

// NewDecoder opens a decoder for the given stream's codec parameters.
func NewDecoder(stream *astiav.Stream) (*Decoder, error) {
	if stream == nil {
		return nil, fmt.Errorf("new decoder: nil stream")
	}

	params := stream.CodecParameters()
	avCodec := astiav.FindDecoder(params.CodecID())
	if avCodec == nil {
		return nil, fmt.Errorf("find decoder for codec id %v", params.CodecID())
	}

	ctx := astiav.AllocCodecContext(avCodec)
	if ctx == nil {
		return nil, fmt.Errorf("alloc codec context for %s", avCodec.Name())
	}

	if err := params.ToCodecContext(ctx); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("copy codec parameters for %s: %w", avCodec.Name(), err)
	}

	ctx.SetTimeBase(stream.TimeBase())

	if err := ctx.Open(avCodec, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("open codec %s: %w", avCodec.Name(), err)
	}

	return &Decoder{ctx: ctx}, nil
}

// Close releases the codec context. Safe to call on a nil Decoder.
func (d *Decoder) Close() {
	if d == nil || d.ctx == nil {
		return
	}
	d.ctx.Free()
	d.ctx = nil
}

// SendPacket feeds a compressed packet to the decoder. A nil packet flushes
// the decoder's internal buffer ahead of an end-of-stream or seek.
func (d *Decoder) SendPacket(pkt *astiav.Packet) error {
	return d.ctx.SendPacket(pkt)
}

// ReceiveFrame pulls one decoded frame. A returned error of astiav.ErrEagain
// means the decoder needs another packet; astiav.ErrEof means it is fully
// drained after a flush.
func (d *Decoder) ReceiveFrame(frame *astiav.Frame) error {
	return d.ctx.ReceiveFrame(frame)
}

// CodecContext exposes the underlying context for callers that need codec
// metadata (sample format, channel layout, pixel format, ticks-per-frame)
// beyond what Decoder itself surfaces.
func (d *Decoder) CodecContext() *astiav.CodecContext { return d.ctx }
