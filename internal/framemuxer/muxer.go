// Package framemuxer reconciles a decoded source's native frame rate and
// field order with the output channel's target rate and field order,
// pairing converted pictures with audio-cadence-sliced samples into
// channel-native output frames.
package framemuxer

import (
	"log/slog"

	"github.com/mediaforge/ffproducer/internal/errs"
	"github.com/mediaforge/ffproducer/media"
)

// Hints carries the per-picture flags the producer attaches to a push,
// mirroring the original's DEINTERLACE_HINT/ALPHA_HINT bits.
type Hints struct {
	Deinterlace bool
	Alpha       bool
}

const (
	videoOverflowLimit = 32
	audioOverflowMul   = 32
)

// Muxer is a single producer's frame muxer: sub-stream queues, the current
// display mode, cadence state, and the output buffer poll drains from.
type Muxer struct {
	log *slog.Logger

	format media.VideoFormatDesc
	inFPS  float64

	videoStreams [][]*media.RawPicture
	audioStreams [][]int32

	cadence *media.Cadence

	displayMode      media.DisplayMode
	filterStr        string
	baseFilterStr    string
	forceDeinterlace bool

	outBuffer []*media.OutputFrame
}

// New builds a Muxer targeting format, fed from a source reporting inFPS,
// with an optional caller-supplied filter chain (e.g. a user filter string
// independent of deinterlacing).
func New(inFPS float64, format media.VideoFormatDesc, filterStr string, log *slog.Logger) *Muxer {
	if log == nil {
		log = slog.Default()
	}

	m := &Muxer{
		log:           log.With("component", "frame_muxer"),
		format:        format,
		inFPS:         inFPS,
		videoStreams:  [][]*media.RawPicture{nil},
		audioStreams:  [][]int32{nil},
		cadence:       media.NewCadence(format.AudioCadence),
		displayMode:   media.DisplayModeInvalid,
		baseFilterStr: filterStr,
		filterStr:     filterStr,
	}
	return m
}

// PushVideoFlush opens a new video sub-stream, separating whatever is
// already queued from frames that will arrive after a seek or EOS boundary.
func (m *Muxer) PushVideoFlush() {
	m.videoStreams = append(m.videoStreams, nil)
}

// PushVideoEmpty pushes a blank picture sentinel, used when the producer has
// no video stream at all so video and audio stay paired one-for-one.
func (m *Muxer) PushVideoEmpty() error {
	front := len(m.videoStreams) - 1
	m.videoStreams[front] = append(m.videoStreams[front], &media.RawPicture{})
	m.displayMode = media.DisplayModeSimple
	return m.checkVideoOverflow()
}

// PushVideo converts a decoded picture to channel format and enqueues it,
// recomputing the display mode on the first real picture or when the
// deinterlace hint changes. A change of the alpha hint alone does not
// trigger a recompute.
func (m *Muxer) PushVideo(pic *media.RawPicture, hints Hints) error {
	if pic == nil {
		return nil
	}

	if hints.Deinterlace != m.forceDeinterlace {
		m.forceDeinterlace = hints.Deinterlace
		m.displayMode = media.DisplayModeInvalid
	}

	if m.displayMode == media.DisplayModeInvalid {
		m.updateDisplayMode(pic)
	}

	layout := pic.Layout
	if hints.Alpha {
		layout = alphaLayout(layout)
	}

	converted, err := m.convertToChannelFormat(withLayout(pic, layout))
	if err != nil {
		return err
	}

	front := len(m.videoStreams) - 1
	m.videoStreams[front] = append(m.videoStreams[front], converted)

	return m.checkVideoOverflow()
}

func withLayout(pic *media.RawPicture, layout media.PixelLayout) *media.RawPicture {
	if layout == pic.Layout {
		return pic
	}
	cp := *pic
	cp.Layout = layout
	return &cp
}

// alphaLayout remaps a ycbcr(a) picture to its luma-only variant, the
// alpha-hint substitution described above.
func alphaLayout(layout media.PixelLayout) media.PixelLayout {
	switch layout {
	case media.PixelLayoutYCbCr, media.PixelLayoutYCbCrA:
		return media.PixelLayoutLuma
	default:
		return layout
	}
}

func (m *Muxer) checkVideoOverflow() error {
	if len(m.videoStreams[0]) > videoOverflowLimit {
		return &errs.OverflowError{Kind: errs.OverflowVideo, Depth: len(m.videoStreams[0]), Limit: videoOverflowLimit}
	}
	return nil
}

// PushAudioFlush opens a new audio sub-stream.
func (m *Muxer) PushAudioFlush() {
	m.audioStreams = append(m.audioStreams, nil)
}

// PushAudioEmpty appends one cadence slot's worth of silence, used when the
// producer has no audio stream so audio and video stay paired one-for-one.
func (m *Muxer) PushAudioEmpty() error {
	front := len(m.audioStreams) - 1
	m.audioStreams[front] = append(m.audioStreams[front], make([]int32, m.cadence.Front()*channelsOrOne(m.format.AudioChannels))...)
	return m.checkAudioOverflow()
}

// PushAudio appends a decoded audio chunk verbatim.
func (m *Muxer) PushAudio(chunk media.AudioChunk) error {
	if chunk.Samples == nil {
		return nil
	}
	front := len(m.audioStreams) - 1
	m.audioStreams[front] = append(m.audioStreams[front], chunk.Samples...)
	return m.checkAudioOverflow()
}

func (m *Muxer) checkAudioOverflow() error {
	limit := audioOverflowMul * m.cadence.Front() * channelsOrOne(m.format.AudioChannels)
	if limit > 0 && len(m.audioStreams[0]) > limit {
		return &errs.OverflowError{Kind: errs.OverflowAudio, Depth: len(m.audioStreams[0]), Limit: limit}
	}
	return nil
}

func channelsOrOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// VideoReady reports whether the muxer has enough queued pictures to emit,
// per the display mode's picture-count requirement.
func (m *Muxer) VideoReady() bool {
	if len(m.videoStreams) > 1 {
		return true
	}
	return len(m.videoStreams) >= len(m.audioStreams) && m.videoReadyFront()
}

// AudioReady reports whether the muxer has enough queued samples to emit.
func (m *Muxer) AudioReady() bool {
	if len(m.audioStreams) > 1 {
		return true
	}
	return len(m.audioStreams) >= len(m.videoStreams) && m.audioReadyFront()
}

func (m *Muxer) videoReadyFront() bool {
	need := 1
	switch m.displayMode {
	case media.DisplayModeInterlace, media.DisplayModeDeinterlaceBobReinterlace, media.DisplayModeHalf:
		need = 2
	}
	return len(m.videoStreams[0]) >= need
}

func (m *Muxer) audioReadyFront() bool {
	need := m.cadence.Front() * channelsOrOne(m.format.AudioChannels)
	if m.displayMode == media.DisplayModeDuplicate || m.displayMode == media.DisplayModeDeinterlaceBob {
		need *= 2
	}
	return len(m.audioStreams[0]) >= need
}

// Poll returns the next channel-formatted output frame, or nil if none is
// ready yet. When multiple sub-streams exist and the front one isn't ready,
// it is dropped as the truncated tail of an interrupted seek or EOS.
func (m *Muxer) Poll() *media.OutputFrame {
	if len(m.outBuffer) > 0 {
		f := m.outBuffer[0]
		m.outBuffer = m.outBuffer[1:]
		return f
	}

	for len(m.videoStreams) > 1 && len(m.audioStreams) > 1 && (!m.videoReadyFront() || !m.audioReadyFront()) {
		if len(m.videoStreams[0]) > 0 || len(m.audioStreams[0]) > 0 {
			m.log.Debug("truncating stale sub-stream", "video_frames", len(m.videoStreams[0]), "audio_samples", len(m.audioStreams[0]))
		}
		m.videoStreams = m.videoStreams[1:]
		m.audioStreams = m.audioStreams[1:]
	}

	if !m.VideoReady() || !m.AudioReady() || m.displayMode == media.DisplayModeInvalid {
		return nil
	}

	f1 := m.popVideo()
	f1.Audio = m.popAudio()

	switch m.displayMode {
	case media.DisplayModeSimple, media.DisplayModeDeinterlace:
		m.outBuffer = append(m.outBuffer, f1)

	case media.DisplayModeInterlace, media.DisplayModeDeinterlaceBobReinterlace:
		f2 := m.popVideo()
		m.outBuffer = append(m.outBuffer, interlace(f1, f2, m.format.FieldMode))

	case media.DisplayModeDuplicate, media.DisplayModeDeinterlaceBob:
		// Both modes emit two OutputFrames per source picture, each with its
		// own cadence slot of audio. The second frame carries the same
		// picture as the first: no filter chain is run on it here, so bob
		// mode does not split the picture into separate fields.
		f2 := &media.OutputFrame{Picture: f1.Picture, FieldMode: f1.FieldMode}
		f2.Audio = m.popAudio()
		m.outBuffer = append(m.outBuffer, f1, f2)

	case media.DisplayModeHalf:
		m.popVideo() // discard
		m.outBuffer = append(m.outBuffer, f1)
	}

	if len(m.outBuffer) == 0 {
		return nil
	}
	return m.Poll()
}

func (m *Muxer) popVideo() *media.OutputFrame {
	pic := m.videoStreams[0][0]
	m.videoStreams[0] = m.videoStreams[0][1:]
	return &media.OutputFrame{Picture: pic, FieldMode: pic.FieldMode()}
}

func (m *Muxer) popAudio() media.AudioChunk {
	channels := channelsOrOne(m.format.AudioChannels)
	n := m.cadence.Front() * channels

	if n > len(m.audioStreams[0]) {
		n = len(m.audioStreams[0])
	}
	samples := m.audioStreams[0][:n]
	m.audioStreams[0] = m.audioStreams[0][n:]

	m.cadence.Advance()

	return media.AudioChunk{Samples: samples, Len: n / channels}
}

// interlace combines two progressive source pictures into one output frame
// by weaving their lines: the field named by targetMode (upper or lower)
// contributes the even-numbered rows of each plane, the other field the
// odd-numbered rows.
func interlace(f1, f2 *media.OutputFrame, targetMode media.FieldMode) *media.OutputFrame {
	return &media.OutputFrame{
		Picture:   weaveFields(f1.Picture, f2.Picture, targetMode),
		Audio:     f1.Audio,
		FieldMode: targetMode,
	}
}

// weaveFields builds one interlaced RawPicture from two progressive source
// pictures of identical dimensions and plane layout. first is the field
// targetMode names (upper's rows come first); its rows land on even plane
// indices, second's on odd.
func weaveFields(top, bottom *media.RawPicture, targetMode media.FieldMode) *media.RawPicture {
	first, second := top, bottom
	if targetMode == media.FieldModeLower {
		first, second = bottom, top
	}
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}

	planes := make([]media.Plane, len(first.Planes))
	for i, pa := range first.Planes {
		var pb media.Plane
		if i < len(second.Planes) {
			pb = second.Planes[i]
		}
		planes[i] = weavePlane(pa, pb)
	}

	return &media.RawPicture{
		Width:         first.Width,
		Height:        first.Height,
		Layout:        first.Layout,
		NativeFormat:  first.NativeFormat,
		Planes:        planes,
		Interlaced:    true,
		TopFieldFirst: targetMode != media.FieldModeLower,
	}
}

// weavePlane interleaves a's and b's rows row-by-row: a's rows occupy even
// row indices, b's occupy odd ones. Falls back to a's row when b is too
// short to supply one, rather than leaving a gap.
func weavePlane(a, b media.Plane) media.Plane {
	out := make([]byte, len(a.Data))
	for row := 0; row*a.Stride < len(out); row++ {
		start := row * a.Stride
		end := start + a.Stride
		if end > len(out) {
			end = len(out)
		}

		src := a.Data
		if row%2 == 1 {
			src = b.Data
		}
		if start < len(src) {
			srcEnd := end
			if srcEnd > len(src) {
				srcEnd = len(src)
			}
			copy(out[start:start+(srcEnd-start)], src[start:srcEnd])
		}
	}
	return media.Plane{Data: out, Stride: a.Stride, Height: a.Height, PixelLen: a.PixelLen}
}

// CalcNbFrames converts a source frame count into the count of output
// frames this muxer's current display mode and filter chain will produce.
func (m *Muxer) CalcNbFrames(nbFrames uint32) uint32 {
	n := uint64(nbFrames)

	switch m.displayMode {
	case media.DisplayModeDeinterlaceBobReinterlace, media.DisplayModeInterlace, media.DisplayModeHalf:
		n /= 2
	case media.DisplayModeDuplicate, media.DisplayModeDeinterlaceBob:
		n *= 2
	}

	return uint32(n)
}
