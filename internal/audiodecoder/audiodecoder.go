// Package audiodecoder decodes packets from a producer's audio stream into
// interleaved signed 32-bit samples at the channel's target layout and
// rate. Every decoded frame goes through a resampler, which is built on the
// first frame and rebuilt only when the source format, layout, or rate
// changes; frames already at the target format are resampled too.
package audiodecoder

import (
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/mediaforge/ffproducer/internal/codec"
	"github.com/mediaforge/ffproducer/internal/errs"
	"github.com/mediaforge/ffproducer/media"
)

// AudioDecoder owns one astiav codec context opened against a stream's
// audio parameters, plus a resampler built on first use.
type AudioDecoder struct {
	log *slog.Logger

	dec    *codec.Decoder
	frame  *astiav.Frame
	stream *astiav.Stream

	resampler *codec.Resampler
	dstLayout astiav.ChannelLayout
	dstRate   int

	streamFrameNumber int64
}

// New opens an audio decoder for the given stream, targeting the channel's
// audio channel count and sample rate.
func New(stream *astiav.Stream, dstChannels, dstRate int, log *slog.Logger) (*AudioDecoder, error) {
	if log == nil {
		log = slog.Default()
	}

	dec, err := codec.NewDecoder(stream)
	if err != nil {
		return nil, errs.NewDecodeError(stream.Index(), err)
	}

	return &AudioDecoder{
		log:       log.With("component", "audio_decoder"),
		dec:       dec,
		frame:     astiav.AllocFrame(),
		stream:    stream,
		dstLayout: astiav.ChannelLayoutDefault(dstChannels),
		dstRate:   dstRate,
	}, nil
}

// Close releases the decoder, its resampler, and its working frame.
func (d *AudioDecoder) Close() {
	if d == nil {
		return
	}
	d.dec.Close()
	d.resampler.Close()
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
}

// Decode feeds one packet to the decoder. A flush packet (nil Data) resets
// the stream frame counter to its Pos and drains the decoder's buffers.
func (d *AudioDecoder) Decode(pkt *media.Packet) (*media.AudioChunk, error) {
	if pkt.IsFlush() {
		d.streamFrameNumber = pkt.Pos
		if err := d.dec.SendPacket(nil); err == nil {
			_ = d.dec.ReceiveFrame(d.frame)
			d.frame.Unref()
		}
		return nil, nil
	}
	return d.decodePacket(pkt)
}

func (d *AudioDecoder) decodePacket(pkt *media.Packet) (*media.AudioChunk, error) {
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
	defer d.frame.Unref()

	if err := d.ensureResampler(); err != nil {
		return nil, errs.NewDecodeError(pkt.StreamIndex, err)
	}

	samples, samplesPerChannel, err := d.resampler.Convert(d.frame)
	if err != nil {
		return nil, errs.NewDecodeError(pkt.StreamIndex, err)
	}

	d.streamFrameNumber++

	return &media.AudioChunk{Samples: samples, Len: samplesPerChannel}, nil
}

// ensureResampler (re)builds the resampler only when the decoded frame's
// format, layout, or rate has changed since the last build, matching the
// "lazily created only on mismatch" requirement.
func (d *AudioDecoder) ensureResampler() error {
	srcFmt := d.frame.SampleFormat()
	srcLayout := d.frame.ChannelLayout()
	srcRate := d.frame.SampleRate()

	if d.resampler != nil && d.resampler.Matches(srcFmt, srcLayout, srcRate) {
		return nil
	}

	d.resampler.Close()

	r, err := codec.NewResampler(srcFmt, srcLayout, srcRate, d.dstLayout, d.dstRate)
	if err != nil {
		return err
	}
	d.resampler = r
	return nil
}

// FileFrameNumber returns the decoder's running stream frame counter.
func (d *AudioDecoder) FileFrameNumber() uint32 { return uint32(d.streamFrameNumber) }
