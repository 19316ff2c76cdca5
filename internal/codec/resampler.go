package codec

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// Resampler wraps an astiav software-resample context for one set of source
// audio parameters (format, channel layout, sample rate), converting into
// the channel's target audio parameters.
type Resampler struct {
	swr *astiav.SoftwareResampleContext
	dst *astiav.Frame

	srcFmt    astiav.SampleFormat
	srcLayout astiav.ChannelLayout
	srcRate   int
}

// NewResampler builds a resampler converting from the given source
// parameters into S32 interleaved samples at dstLayout/dstRate.
func NewResampler(srcFmt astiav.SampleFormat, srcLayout astiav.ChannelLayout, srcRate int, dstLayout astiav.ChannelLayout, dstRate int) (*Resampler, error) {
	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		return nil, fmt.Errorf("alloc resample context")
	}

	dst := astiav.AllocFrame()
	dst.SetSampleFormat(astiav.SampleFormatS32)
	dst.SetChannelLayout(dstLayout)
	dst.SetSampleRate(dstRate)

	r := &Resampler{
		swr:       swr,
		dst:       dst,
		srcFmt:    srcFmt,
		srcLayout: srcLayout,
		srcRate:   srcRate,
	}
	return r, nil
}

// Matches reports whether this resampler was built for the given source
// parameters, so the audio decoder only rebuilds it on a genuine mismatch.
func (r *Resampler) Matches(fmt_ astiav.SampleFormat, layout astiav.ChannelLayout, rate int) bool {
	return r.srcFmt == fmt_ && r.srcLayout.String() == layout.String() && r.srcRate == rate
}

// Close releases the resample context and its destination frame.
func (r *Resampler) Close() {
	if r == nil {
		return
	}
	if r.dst != nil {
		r.dst.Free()
		r.dst = nil
	}
	if r.swr != nil {
		r.swr.Free()
		r.swr = nil
	}
}

// Convert resamples src into S32-interleaved samples at the configured
// target rate/layout, returning the interleaved []int32 and the number of
// samples per channel produced.
func (r *Resampler) Convert(src *astiav.Frame) ([]int32, int, error) {
	r.dst.Unref()
	r.dst.SetSampleFormat(astiav.SampleFormatS32)

	if err := r.swr.ConvertFrame(src, r.dst); err != nil {
		return nil, 0, fmt.Errorf("resample convert: %w", err)
	}

	samplesPerChannel := r.dst.NbSamples()
	channels := r.dst.ChannelLayout().Channels()

	raw := r.dst.Data().Bytes(0)
	out := make([]int32, samplesPerChannel*channels)
	for i := range out {
		off := i * 4
		if off+4 > len(raw) {
			break
		}
		out[i] = int32(raw[off]) | int32(raw[off+1])<<8 | int32(raw[off+2])<<16 | int32(raw[off+3])<<24
	}

	return out, samplesPerChannel, nil
}
