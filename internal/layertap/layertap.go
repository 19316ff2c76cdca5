// Package layertap implements an alternative frame source to a demuxed
// producer: a bounded-capacity tap attached to another channel's layer,
// copying each frame it produces into this channel's native pixel layout.
package layertap

import (
	"log/slog"
	"sync"

	"github.com/mediaforge/ffproducer/media"
)

// capacity is the tap's fixed buffer depth.
const capacity = 3

// consumerIndexBase is added to a channel number to get that channel's
// tap consumer index.
const consumerIndexBase = 78500

// ConsumerIndex returns the consumer index a tap installed at channel n is
// registered under.
func ConsumerIndex(n int) int { return consumerIndexBase + n }

// Tap is a bounded queue of frames copied out of another channel's layer,
// implementing the same poll() contract as FrameMaker so a producer can use
// either interchangeably as its output source.
type Tap struct {
	log    *slog.Logger
	format media.VideoFormatDesc

	mu    sync.Mutex
	queue []*media.OutputFrame

	detach func()
}

func newTap(format media.VideoFormatDesc, log *slog.Logger, detach func()) *Tap {
	if log == nil {
		log = slog.Default()
	}
	return &Tap{
		log:    log.With("component", "layer_tap"),
		format: format,
		detach: detach,
	}
}

// push is called by the owning stage for every frame it emits. The picture
// is copied plane by plane into freshly allocated buffers tagged with this
// tap's channel format, so the tap never aliases the stage's own buffers
// and the copy survives past the stage reusing or freeing its source frame.
// At capacity, the oldest buffered frame is dropped to make room.
func (t *Tap) push(frame *media.OutputFrame) {
	if frame == nil {
		return
	}
	copied := &media.OutputFrame{
		Picture:   copyPicture(frame.Picture, t.format.Layout),
		Audio:     frame.Audio,
		FieldMode: frame.FieldMode,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.queue) >= capacity {
		t.log.Debug("tap at capacity, dropping oldest frame")
		t.queue = t.queue[1:]
	}
	t.queue = append(t.queue, copied)
}

// copyPicture duplicates pic's planes one memcpy each, tagging the result
// with layout (the destination channel's native pixel layout).
func copyPicture(pic *media.RawPicture, layout media.PixelLayout) *media.RawPicture {
	if pic == nil {
		return nil
	}
	planes := make([]media.Plane, len(pic.Planes))
	for i, p := range pic.Planes {
		data := make([]byte, len(p.Data))
		copy(data, p.Data)
		planes[i] = media.Plane{Data: data, Stride: p.Stride, Height: p.Height, PixelLen: p.PixelLen}
	}
	return &media.RawPicture{
		Width:         pic.Width,
		Height:        pic.Height,
		Layout:        layout,
		NativeFormat:  pic.NativeFormat,
		Planes:        planes,
		Interlaced:    pic.Interlaced,
		TopFieldFirst: pic.TopFieldFirst,
		RepeatPict:    pic.RepeatPict,
	}
}

// Poll pops the oldest buffered frame. late is true (with a nil frame) when
// the tap currently has nothing buffered.
func (t *Tap) Poll() (frame *media.OutputFrame, late bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.queue) == 0 {
		return nil, true
	}
	frame = t.queue[0]
	t.queue = t.queue[1:]
	return frame, false
}

// Len reports the number of frames currently buffered, mostly useful for
// diagnostics and tests.
func (t *Tap) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Detach removes the tap from its source stage's registry and discards any
// pending frames. Safe to call more than once.
func (t *Tap) Detach() {
	t.mu.Lock()
	t.queue = nil
	detach := t.detach
	t.detach = nil
	t.mu.Unlock()

	if detach != nil {
		detach()
	}
}
