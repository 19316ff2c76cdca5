package layertap

import (
	"testing"

	"github.com/mediaforge/ffproducer/media"
)

func testFormat(layout media.PixelLayout) media.VideoFormatDesc {
	return media.VideoFormatDesc{Width: 4, Height: 4, Layout: layout, FieldMode: media.FieldModeProgressive, FPS: 25}
}

func testOutputFrame(b byte) *media.OutputFrame {
	return &media.OutputFrame{
		Picture: &media.RawPicture{
			Width: 4, Height: 4, Layout: media.PixelLayoutBGRA,
			Planes: []media.Plane{{Data: []byte{b, b, b, b}, Stride: 4, Height: 1, PixelLen: 4}},
		},
	}
}

func TestConsumerIndex(t *testing.T) {
	t.Parallel()

	if got := ConsumerIndex(0); got != 78500 {
		t.Fatalf("ConsumerIndex(0) = %d, want 78500", got)
	}
	if got := ConsumerIndex(3); got != 78503 {
		t.Fatalf("ConsumerIndex(3) = %d, want 78503", got)
	}
}

func TestTapPollReportsLateWhenEmpty(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	tap := reg.Attach(0, testFormat(media.PixelLayoutBGRA), nil)

	frame, late := tap.Poll()
	if !late || frame != nil {
		t.Fatalf("Poll() on empty tap = (%v, %v), want (nil, true)", frame, late)
	}
}

func TestTapPushThenPollFIFO(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	tap := reg.Attach(0, testFormat(media.PixelLayoutBGRA), nil)

	reg.Broadcast(testOutputFrame(1))
	reg.Broadcast(testOutputFrame(2))

	f1, late := tap.Poll()
	if late || f1.Picture.Planes[0].Data[0] != 1 {
		t.Fatalf("first Poll() = %v, %v, want frame tagged 1", f1, late)
	}
	f2, late := tap.Poll()
	if late || f2.Picture.Planes[0].Data[0] != 2 {
		t.Fatalf("second Poll() = %v, %v, want frame tagged 2", f2, late)
	}
	if _, late := tap.Poll(); !late {
		t.Fatal("Poll() after draining both frames should report late")
	}
}

func TestTapPushCopiesRatherThanAliasing(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	tap := reg.Attach(0, testFormat(media.PixelLayoutBGRA), nil)

	src := testOutputFrame(9)
	reg.Broadcast(src)
	src.Picture.Planes[0].Data[0] = 0xFF

	frame, late := tap.Poll()
	if late {
		t.Fatal("Poll() unexpectedly late")
	}
	if frame.Picture.Planes[0].Data[0] != 9 {
		t.Fatalf("tap frame mutated by source mutation: got %d, want 9", frame.Picture.Planes[0].Data[0])
	}
}

func TestTapDropsOldestPastCapacity(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	tap := reg.Attach(0, testFormat(media.PixelLayoutBGRA), nil)

	for i := byte(1); i <= capacity+2; i++ {
		reg.Broadcast(testOutputFrame(i))
	}

	if got := tap.Len(); got != capacity {
		t.Fatalf("Len() = %d, want %d", got, capacity)
	}

	frame, _ := tap.Poll()
	if frame.Picture.Planes[0].Data[0] != 3 {
		t.Fatalf("oldest surviving frame tagged %d, want 3 (1 and 2 dropped)", frame.Picture.Planes[0].Data[0])
	}
}

func TestTapCopyUsesDestinationLayout(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	tap := reg.Attach(0, testFormat(media.PixelLayoutGray), nil)

	reg.Broadcast(testOutputFrame(1))

	frame, _ := tap.Poll()
	if frame.Picture.Layout != media.PixelLayoutGray {
		t.Fatalf("copied picture layout = %v, want %v (tap's own channel layout)", frame.Picture.Layout, media.PixelLayoutGray)
	}
}

func TestDetachRemovesFromRegistryAndDiscardsPending(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	tap := reg.Attach(0, testFormat(media.PixelLayoutBGRA), nil)
	reg.Broadcast(testOutputFrame(1))

	if got := reg.Len(); got != 1 {
		t.Fatalf("registry Len() = %d, want 1", got)
	}

	tap.Detach()

	if got := reg.Len(); got != 0 {
		t.Fatalf("registry Len() after Detach() = %d, want 0", got)
	}
	if got := tap.Len(); got != 0 {
		t.Fatalf("tap Len() after Detach() = %d, want 0 (pending frames discarded)", got)
	}

	// Safe to call twice.
	tap.Detach()
}

func TestAttachReplacesExistingTapAtSameIndex(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	first := reg.Attach(0, testFormat(media.PixelLayoutBGRA), nil)
	reg.Broadcast(testOutputFrame(1))

	second := reg.Attach(0, testFormat(media.PixelLayoutBGRA), nil)

	if reg.Len() != 1 {
		t.Fatalf("registry Len() after re-attach = %d, want 1", reg.Len())
	}
	if first.Len() != 0 {
		t.Fatal("replaced tap should have been detached and its pending frames discarded")
	}
	if _, late := second.Poll(); !late {
		t.Fatal("new tap at same index should start empty")
	}
}

func TestBroadcastReachesAllAttachedTaps(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := reg.Attach(0, testFormat(media.PixelLayoutBGRA), nil)
	b := reg.Attach(1, testFormat(media.PixelLayoutBGRA), nil)

	reg.Broadcast(testOutputFrame(7))

	fa, lateA := a.Poll()
	if lateA || fa.Picture.Planes[0].Data[0] != 7 {
		t.Fatalf("first tap did not receive broadcast frame: %v, %v", fa, lateA)
	}
	fb, lateB := b.Poll()
	if lateB || fb.Picture.Planes[0].Data[0] != 7 {
		t.Fatalf("second tap did not receive broadcast frame: %v, %v", fb, lateB)
	}
}
