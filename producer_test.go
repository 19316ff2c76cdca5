package ffproducer

import (
	"context"
	"errors"
	"testing"

	"github.com/mediaforge/ffproducer/internal/errs"
	"github.com/mediaforge/ffproducer/internal/layertap"
	"github.com/mediaforge/ffproducer/media"
)

func testFormat() media.VideoFormatDesc {
	return media.VideoFormatDesc{
		Width: 1920, Height: 1080,
		Layout:          media.PixelLayoutBGRA,
		FieldMode:       media.FieldModeProgressive,
		FPS:             25,
		AudioChannels:   2,
		AudioSampleRate: 48000,
		AudioCadence:    []int{1920},
	}
}

func TestNewRejectsUnknownResourceKind(t *testing.T) {
	t.Parallel()

	params := media.ProducerParams{Kind: media.ResourceKind(99), Resource: "whatever"}
	_, err := New(context.Background(), params, testFormat(), nil)
	if err == nil {
		t.Fatal("New should reject an unrecognized resource kind")
	}
	var re *errs.ResourceError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *errs.ResourceError", err)
	}
}

func TestNewWrapsResourceErrorForMissingFile(t *testing.T) {
	t.Parallel()

	params := media.ProducerParams{Kind: media.ResourceFile, Resource: "does-not-exist-2f9c1a.mov"}
	_, err := New(context.Background(), params, testFormat(), nil)
	if err == nil {
		t.Fatal("New should error opening a nonexistent file")
	}
	var re *errs.ResourceError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *errs.ResourceError", err)
	}
	if re.Resource != params.Resource {
		t.Fatalf("ResourceError.Resource = %q, want %q", re.Resource, params.Resource)
	}
}

func testProducer() *Producer {
	format := testFormat()
	return &Producer{
		format: format,
		taps:   layertap.NewRegistry(),
	}
}

func TestReceiveBroadcastsToAttachedTaps(t *testing.T) {
	t.Parallel()

	p := testProducer()
	tap := p.AttachTap(1)

	frame := &media.OutputFrame{Picture: &media.RawPicture{
		Width: 1, Height: 1,
		Planes: []media.Plane{{Data: []byte{9}, Stride: 1, Height: 1, PixelLen: 1}},
	}}

	// Receive delegates to the frame maker for the actual poll; here we
	// exercise the broadcast side directly, the way Receive would after a
	// non-nil frame comes back.
	p.taps.Broadcast(frame)

	got, late := tap.Poll()
	if late {
		t.Fatal("Poll() reported late after a broadcast frame")
	}
	if got.Picture.Planes[0].Data[0] != 9 {
		t.Fatalf("tap received the wrong frame: %+v", got)
	}
}

func TestAttachTapRegistersOneTap(t *testing.T) {
	t.Parallel()

	p := testProducer()
	p.AttachTap(2)

	if got := p.taps.Len(); got != 1 {
		t.Fatalf("taps.Len() = %d, want 1", got)
	}
}
