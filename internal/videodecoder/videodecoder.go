// Package videodecoder decodes packets from a producer's video stream into
// raw picture frames, tracking the progressive/interlaced flag and the
// stream's own frame counter across flush/seek boundaries.
package videodecoder

import (
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/mediaforge/ffproducer/internal/codec"
	"github.com/mediaforge/ffproducer/internal/errs"
	"github.com/mediaforge/ffproducer/media"
)

// VideoDecoder owns one astiav codec context opened against a stream's
// video parameters.
type VideoDecoder struct {
	log *slog.Logger

	dec    *codec.Decoder
	frame  *astiav.Frame
	stream *astiav.Stream

	streamFrameNumber int64
	streamNbFrames    int64
	isProgressive     bool
}

// New opens a video decoder for the given stream, applying the codec's
// known wrong-framerate fixup before opening.
func New(stream *astiav.Stream, log *slog.Logger) (*VideoDecoder, error) {
	if log == nil {
		log = slog.Default()
	}

	fixCodecFramerate(stream)

	dec, err := codec.NewDecoder(stream)
	if err != nil {
		return nil, errs.NewDecodeError(stream.Index(), err)
	}

	return &VideoDecoder{
		log:            log.With("component", "video_decoder"),
		dec:            dec,
		frame:          astiav.AllocFrame(),
		stream:         stream,
		streamNbFrames: stream.NbFrames(),
		isProgressive:  true,
	}, nil
}

// fixCodecFramerate repairs codecs that report a time base in milliseconds
// dressed up as whole units (time_base.num > 999, time_base.den == 1).
func fixCodecFramerate(stream *astiav.Stream) {
	tb := stream.CodecParameters().TimeBase()
	if tb.Num() > 999 && tb.Den() == 1 {
		stream.CodecParameters().SetTimeBase(astiav.NewRational(tb.Num(), 1000))
	}
}

// Close releases the decoder and its working frame.
func (d *VideoDecoder) Close() {
	if d == nil {
		return
	}
	d.dec.Close()
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
}

// Decode feeds one packet to the decoder. A flush packet (nil Data) resets
// the stream frame counter to its Pos and drains the decoder's internal
// delay buffer, returning any picture still inside it. Decode returns
// (nil, nil) when the packet produced no complete picture yet.
func (d *VideoDecoder) Decode(pkt *media.Packet) (*media.RawPicture, error) {
	if pkt.IsFlush() {
		d.streamFrameNumber = pkt.Pos
		if pic, err := d.drainDelayed(); pic != nil || err != nil {
			return pic, err
		}
		return nil, nil
	}
	return d.decodePacket(pkt)
}

// drainDelayed pulls one more frame out of a decoder with B-frame delay by
// sending a flush (nil) packet, matching CODEC_CAP_DELAY handling.
func (d *VideoDecoder) drainDelayed() (*media.RawPicture, error) {
	if err := d.dec.SendPacket(nil); err != nil {
		return nil, nil
	}
	if err := d.dec.ReceiveFrame(d.frame); err != nil {
		return nil, nil
	}
	pic := d.toRawPicture()
	d.frame.Unref()
	return pic, nil
}

func (d *VideoDecoder) decodePacket(pkt *media.Packet) (*media.RawPicture, error) {
	avpkt := astiav.AllocPacket()
	defer avpkt.Free()
	if err := avpkt.FromData(pkt.Data); err != nil {
		return nil, errs.NewDecodeError(pkt.StreamIndex, err)
	}

	if err := d.dec.SendPacket(avpkt); err != nil {
		return nil, errs.NewDecodeError(pkt.StreamIndex, err)
	}

	if err := d.dec.ReceiveFrame(d.frame); err != nil {
		if err == astiav.ErrEagain {
			return nil, nil
		}
		return nil, errs.NewDecodeError(pkt.StreamIndex, err)
	}

	d.isProgressive = !d.frame.InterlacedFrame()
	if d.frame.RepeatPict() > 0 {
		d.log.Warn("field repeat_pict not implemented", "repeat_pict", d.frame.RepeatPict())
	}

	d.streamFrameNumber++

	pic := d.toRawPicture()
	d.frame.Unref()
	return pic, nil
}

// IsProgressive reports whether the most recently decoded picture was
// progressive (not flagged interlaced by the codec).
func (d *VideoDecoder) IsProgressive() bool { return d.isProgressive }

// NbFrames returns the larger of the stream's declared frame count and the
// decoder's own running counter, matching the original's nb_frames().
func (d *VideoDecoder) NbFrames() uint32 {
	if d.streamFrameNumber > d.streamNbFrames {
		return uint32(d.streamFrameNumber)
	}
	return uint32(d.streamNbFrames)
}

// FileFrameNumber returns the decoder's running stream frame counter.
func (d *VideoDecoder) FileFrameNumber() uint32 { return uint32(d.streamFrameNumber) }
