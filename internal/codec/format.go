// Package codec wraps the opaque codec library (demuxing, decoding,
// resampling, pixel scaling) behind scoped-acquisition handles: every Open
// returns a value whose Close releases every native resource it acquired,
// including on a partial-construction error path.
package codec

import (
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/mediaforge/ffproducer/media"
)

// Resource is an opened demux source: a file, capture device, or network
// stream, together with whichever video/audio streams it carries.
type Resource struct {
	fc *astiav.FormatContext

	videoStreamIndex int
	audioStreamIndex int

	resourceName string
}

// OpenFile opens a plain file or network-stream URL, letting the format
// probe auto-detect the container.
func OpenFile(resource string) (*Resource, error) {
	return open(resource, nil, nil)
}

// OpenDevice opens a capture device through the named input format (e.g.
// "dshow", "v4l2", "avfoundation") with the given capture geometry.
func OpenDevice(resource, inputFormatName string, geometry media.DeviceGeometry) (*Resource, error) {
	inputFormat := astiav.FindInputFormat(inputFormatName)
	if inputFormat == nil {
		return nil, fmt.Errorf("input format %q not found", inputFormatName)
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	if geometry.VideoSize != "" {
		opts.Set("video_size", geometry.VideoSize, 0)
	}
	if geometry.PixelFormat != "" {
		opts.Set("pixel_format", geometry.PixelFormat, 0)
	}
	if geometry.Framerate != "" {
		opts.Set("framerate", geometry.Framerate, 0)
	}

	return open(resource, inputFormat, opts)
}

func open(resource string, inputFormat *astiav.InputFormat, opts *astiav.Dictionary) (*Resource, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, fmt.Errorf("alloc format context for %q", resource)
	}

	if err := fc.OpenInput(resource, inputFormat, opts); err != nil {
		fc.Free()
		return nil, fmt.Errorf("open input %q: %w", resource, err)
	}

	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("find stream info %q: %w", resource, err)
	}

	r := &Resource{
		fc:               fc,
		resourceName:     resource,
		videoStreamIndex: -1,
		audioStreamIndex: -1,
	}

	for _, s := range fc.Streams() {
		switch s.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if r.videoStreamIndex < 0 {
				r.videoStreamIndex = s.Index()
			}
		case astiav.MediaTypeAudio:
			if r.audioStreamIndex < 0 {
				r.audioStreamIndex = s.Index()
			}
		}
	}

	return r, nil
}

// Close releases the format context. Safe to call on a nil Resource.
func (r *Resource) Close() {
	if r == nil || r.fc == nil {
		return
	}
	r.fc.CloseInput()
	r.fc.Free()
	r.fc = nil
}

// VideoStreamIndex returns the index of the first video stream the demuxer
// lists, or -1 if none. No other selection heuristic is applied.
func (r *Resource) VideoStreamIndex() int { return r.videoStreamIndex }

// AudioStreamIndex returns the index of the first audio stream the demuxer
// lists, or -1 if none. No other selection heuristic is applied.
func (r *Resource) AudioStreamIndex() int { return r.audioStreamIndex }

// VideoStream returns the video stream descriptor, or nil if absent.
func (r *Resource) VideoStream() *astiav.Stream {
	return r.streamAt(r.videoStreamIndex)
}

// AudioStream returns the audio stream descriptor, or nil if absent.
func (r *Resource) AudioStream() *astiav.Stream {
	return r.streamAt(r.audioStreamIndex)
}

func (r *Resource) streamAt(index int) *astiav.Stream {
	if index < 0 {
		return nil
	}
	for _, s := range r.fc.Streams() {
		if s.Index() == index {
			return s
		}
	}
	return nil
}

// Name returns the resource identifier this Resource was opened from.
func (r *Resource) Name() string { return r.resourceName }

// ReadPacket pulls the next demuxed packet. A returned error of astiav.ErrEof
// means end of stream; callers compare with errors.Is.
func (r *Resource) ReadPacket(pkt *astiav.Packet) error {
	return r.fc.ReadFrame(pkt)
}

// SeekFrame repositions the demuxer to the frame-accurate timestamp
// corresponding to target on the video stream, matching the codec
// time-base conversion the original input layer performs. byteSeek selects
// AVSEEK_FLAG_BYTE, needed only for the VP6 family at target 0.
func (r *Resource) SeekFrame(target uint32, byteSeek bool) error {
	if r.videoStreamIndex < 0 {
		return fmt.Errorf("seek %q: no video stream", r.resourceName)
	}

	stream := r.streamAt(r.videoStreamIndex)
	streamTB := stream.TimeBase()
	codecTB := stream.CodecParameters().TimeBase()
	ticksPerFrame := stream.CodecParameters().TicksPerFrame()
	if ticksPerFrame <= 0 {
		ticksPerFrame = 1
	}

	fixedTarget := int64(target) * int64(streamTB.Den()) * int64(codecTB.Num())
	if streamTB.Num() > 0 && codecTB.Den() > 0 {
		fixedTarget /= int64(streamTB.Num()) * int64(codecTB.Den())
	}
	fixedTarget *= int64(ticksPerFrame)

	flags := astiav.NewSeekFlags(astiav.SeekFlagFrame)
	if byteSeek {
		flags = astiav.NewSeekFlags(astiav.SeekFlagByte)
	}

	if err := r.fc.SeekFrame(r.videoStreamIndex, fixedTarget, flags); err != nil {
		return fmt.Errorf("seek %q to frame %d: %w", r.resourceName, target, err)
	}
	return nil
}

// IsVP6Family reports whether the video codec of this resource is one of
// the VP6 variants that require a byte-accurate seek at target 0.
func (r *Resource) IsVP6Family() bool {
	vs := r.VideoStream()
	if vs == nil {
		return false
	}
	switch vs.CodecParameters().CodecID() {
	case astiav.CodecIDVp6, astiav.CodecIDVp6F, astiav.CodecIDVp6A:
		return true
	default:
		return false
	}
}
