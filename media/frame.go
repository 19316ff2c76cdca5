// Package media defines the core frame and format types that flow through
// the clip-producer pipeline: demuxed packets in, channel-formatted output
// frames out.
package media

// PixelLayout tags the native plane layout of a RawPicture or OutputFrame.
// These are the layouts the frame muxer's fast conversion path understands
// directly; anything else takes the slow (scaler) path.
type PixelLayout int

const (
	PixelLayoutInvalid PixelLayout = iota
	PixelLayoutGray
	PixelLayoutLuma // alpha-remapped YCbCr, luma plane only
	PixelLayoutBGRA
	PixelLayoutARGB
	PixelLayoutRGBA
	PixelLayoutABGR
	PixelLayoutYCbCr
	PixelLayoutYCbCrA
)

func (l PixelLayout) String() string {
	switch l {
	case PixelLayoutGray:
		return "gray"
	case PixelLayoutLuma:
		return "luma"
	case PixelLayoutBGRA:
		return "bgra"
	case PixelLayoutARGB:
		return "argb"
	case PixelLayoutRGBA:
		return "rgba"
	case PixelLayoutABGR:
		return "abgr"
	case PixelLayoutYCbCr:
		return "ycbcr"
	case PixelLayoutYCbCrA:
		return "ycbcra"
	default:
		return "invalid"
	}
}

// FieldMode describes whether a frame is progressive or which field comes
// first in an interlaced frame.
type FieldMode int

const (
	FieldModeProgressive FieldMode = iota
	FieldModeUpper
	FieldModeLower
)

func (m FieldMode) String() string {
	switch m {
	case FieldModeUpper:
		return "upper"
	case FieldModeLower:
		return "lower"
	default:
		return "progressive"
	}
}

// Packet is an opaque compressed unit pulled from the demuxer. A Packet with
// nil Data is a flush packet: Pos carries the stream frame-number the
// decoder should reset its counter to once it has drained its internal
// delay buffer.
type Packet struct {
	StreamIndex int
	Data        []byte
	Size        int
	Pos         int64
}

// IsFlush reports whether p is a flush packet (nil payload).
func (p *Packet) IsFlush() bool { return p == nil || p.Data == nil }

// Plane describes one image plane of a decoded picture: byte pointer,
// line stride, and height, all in the native layout.
type Plane struct {
	Data     []byte
	Stride   int
	Height   int
	PixelLen int // bytes per pixel unit for this plane (1 for chroma/luma, 4 for packed RGBA)
}

// RawPicture is one decoded video frame, still in the decoder's native
// pixel layout (or an "invalid" layout requiring the slow scaler path).
type RawPicture struct {
	Width, Height int
	Layout        PixelLayout
	NativeFormat  int // opaque codec-library pixel format id, used by the slow path
	Planes        []Plane
	Interlaced    bool
	TopFieldFirst bool
	RepeatPict    int
}

// FieldMode derives the FieldMode of a decoded picture from its interlace
// flags: progressive frames report FieldModeProgressive; an interlaced
// frame's top-field-first flag selects upper vs. lower.
func (p *RawPicture) FieldMode() FieldMode {
	if !p.Interlaced {
		return FieldModeProgressive
	}
	if p.TopFieldFirst {
		return FieldModeUpper
	}
	return FieldModeLower
}

// AudioChunk is a contiguous run of signed 32-bit interleaved samples at the
// channel's target layout and rate. Len is in samples-per-channel.
type AudioChunk struct {
	Samples []int32
	Len     int // samples per channel; len(Samples) == Len*Channels
}

// OutputFrame is a channel-formatted picture with an attached audio buffer
// sized to exactly one cadence slot, plus the field mode it was emitted in.
type OutputFrame struct {
	Picture   *RawPicture
	Audio     AudioChunk
	FieldMode FieldMode
}

// ZeroedAudio returns a copy of f with its audio buffer's samples zeroed,
// used to build the "last frame frozen" value the producer hands back to a
// stalled mixer.
func (f *OutputFrame) ZeroedAudio() *OutputFrame {
	if f == nil {
		return nil
	}
	cp := *f
	if n := len(f.Audio.Samples); n > 0 {
		cp.Audio.Samples = make([]int32, n)
	}
	return &cp
}

// DisplayMode describes how source frames map onto target frames across
// mismatched fps/field-mode pairs. Computed by the frame muxer, never
// configured directly.
type DisplayMode int

const (
	DisplayModeInvalid DisplayMode = iota
	DisplayModeSimple
	DisplayModeDuplicate
	DisplayModeHalf
	DisplayModeInterlace
	DisplayModeDeinterlace
	DisplayModeDeinterlaceBob
	DisplayModeDeinterlaceBobReinterlace
)

func (m DisplayMode) String() string {
	switch m {
	case DisplayModeSimple:
		return "simple"
	case DisplayModeDuplicate:
		return "duplicate"
	case DisplayModeHalf:
		return "half"
	case DisplayModeInterlace:
		return "interlace"
	case DisplayModeDeinterlace:
		return "deinterlace"
	case DisplayModeDeinterlaceBob:
		return "deinterlace_bob"
	case DisplayModeDeinterlaceBobReinterlace:
		return "deinterlace_bob_reinterlace"
	default:
		return "invalid"
	}
}
