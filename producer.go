// Package ffproducer assembles one real-time clip producer: it opens a
// resource, decodes whichever of its video/audio streams exist, reconciles
// them against a channel's fixed output format, and exposes the resulting
// bounded frame queue to an external polling mixer.
//
// A Producer is the public surface a mixer embeds; everything under
// internal/ is the machinery New wires together.
package ffproducer

import (
	"context"
	"log/slog"

	"github.com/mediaforge/ffproducer/internal/audiodecoder"
	"github.com/mediaforge/ffproducer/internal/errs"
	"github.com/mediaforge/ffproducer/internal/ffinput"
	"github.com/mediaforge/ffproducer/internal/framemaker"
	"github.com/mediaforge/ffproducer/internal/framemuxer"
	"github.com/mediaforge/ffproducer/internal/layertap"
	"github.com/mediaforge/ffproducer/internal/videodecoder"
	"github.com/mediaforge/ffproducer/media"
)

// Producer is a running clip producer bound to one channel format. Its
// methods are safe to call from a different goroutine than the one that
// built it; the underlying frame maker synchronizes them internally.
//
// Producer also plays the "layer" role layertap.Registry expects: every
// frame a caller pulls through Receive is rebroadcast to whatever taps are
// currently attached, so another channel can run off this producer's
// output the same way it would off a live layer.
type Producer struct {
	fm     *framemaker.FrameMaker
	format media.VideoFormatDesc
	log    *slog.Logger

	taps *layertap.Registry
}

// New opens resource, builds whichever decoders its streams support, and
// starts the producer's worker goroutine bound to ctx. format is the
// channel's fixed output format the producer must match; it is never
// mutated here. Closing ctx (or calling Close) stops the worker.
//
// Returns an *errs.StreamNotFound if the resource carries neither a video
// nor an audio stream.
func New(ctx context.Context, params media.ProducerParams, format media.VideoFormatDesc, log *slog.Logger) (*Producer, error) {
	if log == nil {
		log = slog.Default()
	}

	input, err := ffinput.Open(params, log)
	if err != nil {
		return nil, err
	}

	var videoDec *videodecoder.VideoDecoder
	if vs := input.VideoStream(); vs != nil {
		videoDec, err = videodecoder.New(vs, log)
		if err != nil {
			input.Close()
			return nil, err
		}
	}

	var audioDec *audiodecoder.AudioDecoder
	if as := input.AudioStream(); as != nil {
		audioDec, err = audiodecoder.New(as, format.AudioChannels, format.AudioSampleRate, log)
		if err != nil {
			input.Close()
			return nil, err
		}
	}

	if videoDec == nil && audioDec == nil {
		input.Close()
		return nil, &errs.StreamNotFound{Resource: params.Resource}
	}

	inFPS := input.ReadFPS(format.FPS)
	muxer := framemuxer.New(inFPS, format, params.FilterStr, log)

	fm, err := framemaker.New(ctx, input, videoDec, audioDec, muxer, params, log)
	if err != nil {
		input.Close()
		return nil, err
	}

	return &Producer{
		fm:     fm,
		format: format,
		log:    log,
		taps:   layertap.NewRegistry(),
	}, nil
}

// Receive polls the producer's output queue for the next frame. hints is
// passed through to the frame maker, which does not use it. When the queue
// is empty, the last delivered frame is returned again with late false;
// late is true, with a nil frame, only while no frame has been delivered
// yet. Every frame returned here is also rebroadcast to any taps attached
// via AttachTap.
func (p *Producer) Receive(hints int) (frame *media.OutputFrame, late bool, err error) {
	frame, late, err = p.fm.Receive(hints)
	if frame != nil {
		p.taps.Broadcast(frame)
	}
	return frame, late, err
}

// AttachTap installs a bounded-capacity tap at consumer index n onto this
// producer's output, letting another channel run off it the way it would
// off a live layer. The returned handle is polled and eventually detached
// by its caller; see internal/layertap.
func (p *Producer) AttachTap(n int) *layertap.Tap {
	return p.taps.Attach(n, p.format, p.log)
}

// LastFrame returns a copy of the most recently emitted frame with its
// audio samples zeroed, or nil before the first one.
func (p *Producer) LastFrame() *media.OutputFrame {
	return p.fm.LastFrame()
}

// NbFrames returns the number of output frames the producer expects to
// emit: math.MaxUint32 for DEVICE/STREAM resources or while looping,
// otherwise the source frame count (capped by params.Length) scaled by the
// muxer's display mode, minus params.Start.
func (p *Producer) NbFrames() uint32 {
	return p.fm.NbFrames()
}

// Call issues a runtime command (LOOP, SEEK <n>) against the running
// producer and returns its textual reply.
func (p *Producer) Call(command string) (string, error) {
	return p.fm.Call(command)
}

// Info returns a snapshot of diagnostic key/value pairs describing the
// producer's current state.
func (p *Producer) Info() map[string]string {
	return p.fm.Info()
}

// Print returns a short human-readable description of the producer,
// matching the original's producer::print() debug line.
func (p *Producer) Print() string {
	return p.fm.Print()
}

// Err returns the worker's terminal error, if it has stopped abnormally.
func (p *Producer) Err() error {
	return p.fm.Err()
}

// Exhausted reports whether the worker has stopped (end of stream reached
// without LOOP, or a terminal error).
func (p *Producer) Exhausted() bool {
	return p.fm.Exhausted()
}

// Close stops the worker and releases the decoders and the input.
func (p *Producer) Close() error {
	return p.fm.Close()
}
