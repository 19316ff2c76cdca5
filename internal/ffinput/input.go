// Package ffinput opens a producer's resource (file, capture device, or
// network stream) and pulls demuxed packets from it, handling fps
// inference, seek, loop, and end-of-stream detection.
package ffinput

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"

	"github.com/asticode/go-astiav"

	"github.com/mediaforge/ffproducer/internal/codec"
	"github.com/mediaforge/ffproducer/internal/errs"
	"github.com/mediaforge/ffproducer/media"
)

// knownFPS is the channel-format table read_fps snaps to, mirroring
// CasparCG's core::video_format_desc table of standard broadcast rates.
var knownFPS = []float64{23.976, 24, 25, 29.97, 30, 50, 59.94, 60}

// Input opens one resource and demuxes packets from it on demand.
type Input struct {
	log *slog.Logger

	resource *codec.Resource
	params   media.ProducerParams

	frameNumber   uint32
	lastReadEOF   bool
	lastReadError bool
}

// Open opens the resource named by params and probes its streams. Returns
// an errs.ResourceError if the resource cannot be opened.
func Open(params media.ProducerParams, log *slog.Logger) (*Input, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "input", "resource", params.Resource)

	var (
		res *codec.Resource
		err error
	)

	switch params.Kind {
	case media.ResourceFile, media.ResourceStream:
		res, err = codec.OpenFile(params.Resource)
	case media.ResourceDevice:
		res, err = codec.OpenDevice(params.Resource, platformCaptureFormat(), params.Device)
	default:
		return nil, errs.NewResourceError(params.Resource, fmt.Errorf("unknown resource kind %v", params.Kind))
	}
	if err != nil {
		return nil, errs.NewResourceError(params.Resource, err)
	}

	in := &Input{log: log, resource: res, params: params}

	if params.Start > 0 {
		if err := in.Seek(params.Start); err != nil {
			res.Close()
			return nil, errs.NewResourceError(params.Resource, err)
		}
	}

	log.Info("opened", "video_stream", res.VideoStreamIndex(), "audio_stream", res.AudioStreamIndex())
	return in, nil
}

// Close releases the underlying demuxer handle.
func (in *Input) Close() {
	if in == nil || in.resource == nil {
		return
	}
	in.resource.Close()
	in.resource = nil
}

// VideoStreamIndex returns the first video stream's index, or -1 if absent.
func (in *Input) VideoStreamIndex() int { return in.resource.VideoStreamIndex() }

// AudioStreamIndex returns the first audio stream's index, or -1 if absent.
func (in *Input) AudioStreamIndex() int { return in.resource.AudioStreamIndex() }

// VideoStream returns the demuxer's video stream descriptor, or nil.
func (in *Input) VideoStream() *astiav.Stream { return in.resource.VideoStream() }

// AudioStream returns the demuxer's audio stream descriptor, or nil.
func (in *Input) AudioStream() *astiav.Stream { return in.resource.AudioStream() }

// ReadPacket pulls the next demuxed packet. When the stream is the producer's
// designated frame-counting stream (video if present, else audio), the
// internal frame counter is advanced so Eof can honor params.Length.
func (in *Input) ReadPacket(pkt *astiav.Packet) error {
	err := in.resource.ReadPacket(pkt)
	if err != nil {
		// av_read_frame doesn't always correctly return EOF on I/O failure;
		// the original treats any non-EOF read error as an EOF-equivalent too.
		in.lastReadEOF = true
		in.lastReadError = !errors.Is(err, astiav.ErrEof)
		return err
	}

	countingStream := in.resource.VideoStreamIndex()
	if countingStream < 0 {
		countingStream = in.resource.AudioStreamIndex()
	}
	if pkt.StreamIndex() == countingStream {
		in.frameNumber++
	}

	return nil
}

// Eof reports whether the demuxer has hit end-of-stream, a non-recoverable
// I/O error, or the configured frame-count length.
func (in *Input) Eof() bool {
	if in.lastReadEOF || in.lastReadError {
		return true
	}
	return in.params.Length > 0 && in.frameNumber >= in.params.Length
}

// Seek repositions the demuxer to target, given in output frames, applying
// the video stream's time-base/ticks-per-frame correction and the VP6-family
// byte-seek exception at target zero.
func (in *Input) Seek(target uint32) error {
	in.log.Debug("seeking", "target", target)

	byteSeek := target == 0 && in.resource.IsVP6Family()
	if err := in.resource.SeekFrame(target, byteSeek); err != nil {
		return err
	}

	in.frameNumber = 0
	in.lastReadEOF = false
	in.lastReadError = false
	return nil
}

// ReadFPS returns the best-guess source frame rate, snapped to the nearest
// entry in the channel's known format table, or fallback if there is no
// video stream.
func (in *Input) ReadFPS(fallback float64) float64 {
	vs := in.VideoStream()
	if vs == nil {
		return fallback
	}

	if fps, ok := in.readFLVMetaFPS(); ok {
		return snapFPS(fps)
	}

	tb := vs.CodecParameters().TimeBase()
	ticks := vs.CodecParameters().TicksPerFrame()
	if ticks <= 0 {
		ticks = 1
	}
	num := tb.Num() * ticks
	den := tb.Den()

	if !isSaneFPS(num, den) {
		num, den = fixTimeBase(num, den)

		if !isSaneFPS(num, den) {
			as := in.AudioStream()
			if as != nil && as.CodecParameters().SampleRate() > 0 && vs.NbFrames() > 0 {
				durationSec := float64(as.Duration()) / float64(as.CodecParameters().SampleRate())
				num = int(durationSec * 100000.0)
				den = int(vs.NbFrames()) * 100000
			}
		}
	}

	if num == 0 {
		return fallback
	}

	return snapFPS(float64(den) / float64(num))
}

func isSaneFPS(num, den int) bool {
	if num == 0 {
		return false
	}
	fps := float64(den) / float64(num)
	return fps > 20.0 && fps < 65.0
}

// fixTimeBase applies the original input layer's two-step repair: first
// rebase num from a bare "1" using the order of magnitude of den, then halve
// den once if that alone isn't enough to land in the sane range.
func fixTimeBase(num, den int) (int, int) {
	if num == 1 {
		num = int(math.Pow(10.0, math.Floor(math.Log10(float64(den)))-1))
	}

	if !isSaneFPS(num, den) {
		halved := den / 2
		if isSaneFPS(num, halved) {
			den = halved
		}
	}

	return num, den
}

func snapFPS(fps float64) float64 {
	closest := knownFPS[0]
	closestDiff := math.Abs(closest - fps)
	for _, f := range knownFPS[1:] {
		if d := math.Abs(f - fps); d < closestDiff {
			closest = f
			closestDiff = d
		}
	}
	return closest
}

// readFLVMetaFPS reads the framerate from a "<resource>.flv.meta" JSON
// sidecar, for FLV resources whose container doesn't carry a usable
// duration/fps pair. This is a deliberate simplification of the original's
// proprietary FLV on-disk metadata reader; see DESIGN.md.
func (in *Input) readFLVMetaFPS() (float64, bool) {
	if filepath.Ext(in.params.Resource) != ".flv" {
		return 0, false
	}
	meta, err := readSidecar(in.params.Resource + ".meta")
	if err != nil {
		return 0, false
	}
	raw, ok := meta["framerate"]
	if !ok {
		return 0, false
	}
	fps, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return fps, true
}
