package framemaker

import (
	"math"
	"testing"

	"github.com/mediaforge/ffproducer/internal/framemuxer"
	"github.com/mediaforge/ffproducer/media"
)

func testFrameMaker(params media.ProducerParams) *FrameMaker {
	format := media.VideoFormatDesc{
		Width: 1920, Height: 1080,
		Layout:          media.PixelLayoutBGRA,
		FieldMode:       media.FieldModeProgressive,
		FPS:             25,
		AudioChannels:   2,
		AudioSampleRate: 48000,
		AudioCadence:    []int{1920},
	}
	muxer := framemuxer.New(25, format, "", nil)

	fm := &FrameMaker{
		muxer:        muxer,
		params:       params,
		drainSignal:  make(chan struct{}, 1),
		seekRequests: make(chan uint32, 1),
	}
	fm.loop.Store(params.Loop)
	return fm
}

func testFrame(n int) *media.OutputFrame {
	return &media.OutputFrame{
		Picture: &media.RawPicture{Width: 1, Height: 1, Planes: []media.Plane{{Data: []byte{byte(n)}, Stride: 1, Height: 1, PixelLen: 1}}},
	}
}

func TestFrameMakerReceiveLateSentinelBeforeFirstFrame(t *testing.T) {
	t.Parallel()

	fm := testFrameMaker(media.ProducerParams{Resource: "test.mov"})

	frame, late, err := fm.Receive(0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !late || frame != nil {
		t.Fatalf("Receive() before any frame = (%v, %v), want (nil, true)", frame, late)
	}
}

func TestFrameMakerReceiveFreezesOnUnderflowAfterFirstFrame(t *testing.T) {
	t.Parallel()

	fm := testFrameMaker(media.ProducerParams{Resource: "test.mov"})
	fm.pushOutput(testFrame(1))

	got, late, err := fm.Receive(0)
	if err != nil || late || got == nil {
		t.Fatalf("first Receive() = (%v, %v, %v), want a real frame", got, late, err)
	}

	// Queue now empty: should freeze on the last emitted frame, not report late.
	frozen, late2, err := fm.Receive(0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if late2 {
		t.Fatal("Receive() after at least one frame emitted should not report late")
	}
	if frozen != got {
		t.Fatalf("Receive() on underflow should return the last emitted frame unchanged")
	}
}

func TestFrameMakerLastFrameZeroesAudio(t *testing.T) {
	t.Parallel()

	fm := testFrameMaker(media.ProducerParams{Resource: "test.mov"})
	f := testFrame(1)
	f.Audio = media.AudioChunk{Samples: []int32{1, 2, 3, 4}, Len: 2}
	fm.pushOutput(f)

	if _, _, err := fm.Receive(0); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	last := fm.LastFrame()
	if last == nil {
		t.Fatal("LastFrame() = nil")
	}
	for _, s := range last.Audio.Samples {
		if s != 0 {
			t.Fatalf("LastFrame().Audio.Samples = %v, want all zero", last.Audio.Samples)
		}
	}
	if f.Audio.Samples[0] != 1 {
		t.Fatal("LastFrame() must not mutate the original frame's audio samples")
	}
}

func TestFrameMakerQueueTrimsOverSoftMax(t *testing.T) {
	t.Parallel()

	fm := testFrameMaker(media.ProducerParams{Resource: "test.mov"})
	for i := 0; i < queueSoftMax+10; i++ {
		fm.pushOutput(testFrame(i))
	}

	// Push queueSoftMax+1 trims the queue to queueSoftMin; the 9 pushes after
	// that stay below queueSoftMax and are kept.
	want := queueSoftMin + 9
	if got := fm.queueLen(); got != want {
		t.Fatalf("queueLen() after overflow = %d, want %d (trimmed to %d, then 9 more pushes)", got, want, queueSoftMin)
	}
}

func TestFrameMakerCallLoopToggle(t *testing.T) {
	t.Parallel()

	fm := testFrameMaker(media.ProducerParams{Resource: "test.mov", Loop: false})

	got, err := fm.Call("LOOP 1")
	if err != nil || got != "1" {
		t.Fatalf("Call(LOOP 1) = (%q, %v), want (\"1\", nil)", got, err)
	}
	if !fm.loop.Load() {
		t.Fatal("loop flag not set after Call(LOOP 1)")
	}

	got, err = fm.Call("LOOP")
	if err != nil || got != "1" {
		t.Fatalf("Call(LOOP) query = (%q, %v), want (\"1\", nil)", got, err)
	}
}

func TestFrameMakerCallSeekEnqueues(t *testing.T) {
	t.Parallel()

	fm := testFrameMaker(media.ProducerParams{Resource: "test.mov"})

	got, err := fm.Call("SEEK 42")
	if err != nil || got != "" {
		t.Fatalf("Call(SEEK 42) = (%q, %v), want (\"\", nil)", got, err)
	}

	select {
	case target := <-fm.seekRequests:
		if target != 42 {
			t.Fatalf("enqueued seek target = %d, want 42", target)
		}
	default:
		t.Fatal("SEEK did not enqueue a request")
	}
}

func TestFrameMakerCallInvalidCommand(t *testing.T) {
	t.Parallel()

	fm := testFrameMaker(media.ProducerParams{Resource: "test.mov"})

	if _, err := fm.Call("FROB"); err == nil {
		t.Fatal("Call(FROB) should return an error")
	}
	if _, err := fm.Call("SEEK notanumber"); err == nil {
		t.Fatal("Call(SEEK notanumber) should return an error")
	}
	if _, err := fm.Call(""); err == nil {
		t.Fatal("Call(\"\") should return an error")
	}
}

func TestFrameMakerNbFramesUnboundedForStreamAndLoop(t *testing.T) {
	t.Parallel()

	stream := testFrameMaker(media.ProducerParams{Resource: "rtp://x", Kind: media.ResourceStream})
	if got := stream.NbFrames(); got != math.MaxUint32 {
		t.Fatalf("NbFrames() for STREAM = %d, want MaxUint32", got)
	}

	looped := testFrameMaker(media.ProducerParams{Resource: "test.mov", Loop: true})
	if got := looped.NbFrames(); got != math.MaxUint32 {
		t.Fatalf("NbFrames() while looping = %d, want MaxUint32", got)
	}
}

func TestFrameMakerNbFramesAudioOnlyIsUnboundedBySourceCount(t *testing.T) {
	t.Parallel()

	// No video decoder: source count defaults to unbounded, but params.Length
	// still caps it if set.
	fm := testFrameMaker(media.ProducerParams{Resource: "test.wav", Length: 10})
	if got := fm.NbFrames(); got != 10 {
		t.Fatalf("NbFrames() with Length=10 and no video decoder = %d, want 10", got)
	}
}

func TestFrameMakerInfoReportsChannelFormat(t *testing.T) {
	t.Parallel()

	fm := testFrameMaker(media.ProducerParams{Resource: "test.mov"})
	info := fm.Info()

	if info["width"] != "1920" || info["height"] != "1080" {
		t.Fatalf("Info() width/height = %s/%s, want 1920/1080", info["width"], info["height"])
	}
	if info["type"] != "ffmpeg" {
		t.Fatalf("Info()[type] = %q, want ffmpeg", info["type"])
	}
	if info["progressive"] != "false" {
		t.Fatalf("Info()[progressive] = %q, want false (no video decoder)", info["progressive"])
	}
}

func TestFrameMakerPrintFormat(t *testing.T) {
	t.Parallel()

	fm := testFrameMaker(media.ProducerParams{Resource: "clip.mov", Length: 5})
	got := fm.Print()
	want := "ffmpeg[clip.mov|1920x1080 p 25|0/5]"
	if got != want {
		t.Fatalf("Print() = %q, want %q", got, want)
	}
}
