package videodecoder

import (
	"testing"

	"github.com/asticode/go-astiav"

	"github.com/mediaforge/ffproducer/media"
)

func TestClassifyPixelFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pf   astiav.PixelFormat
		want media.PixelLayout
	}{
		{astiav.PixelFormatGray8, media.PixelLayoutGray},
		{astiav.PixelFormatBgra, media.PixelLayoutBGRA},
		{astiav.PixelFormatArgb, media.PixelLayoutARGB},
		{astiav.PixelFormatRgba, media.PixelLayoutRGBA},
		{astiav.PixelFormatAbgr, media.PixelLayoutABGR},
		{astiav.PixelFormatYuv420P, media.PixelLayoutYCbCr},
		{astiav.PixelFormatYuv422P, media.PixelLayoutYCbCr},
		{astiav.PixelFormatYuva420P, media.PixelLayoutYCbCrA},
	}
	for _, c := range cases {
		if got := classifyPixelFormat(c.pf); got != c.want {
			t.Errorf("classifyPixelFormat(%v) = %v, want %v", c.pf, got, c.want)
		}
	}
}

func TestClassifyPixelFormatUnknownIsInvalid(t *testing.T) {
	t.Parallel()

	if got := classifyPixelFormat(astiav.PixelFormatNone); got != media.PixelLayoutInvalid {
		t.Fatalf("classifyPixelFormat(None) = %v, want PixelLayoutInvalid", got)
	}
}

func TestPlaneHeightLumaIsUnscaled(t *testing.T) {
	t.Parallel()

	if got := planeHeight(1080, 0, astiav.PixelFormatYuv420P); got != 1080 {
		t.Fatalf("planeHeight(luma) = %d, want 1080", got)
	}
}

func TestPlaneHeightChromaSubsamples420(t *testing.T) {
	t.Parallel()

	if got := planeHeight(1081, 1, astiav.PixelFormatYuv420P); got != 541 {
		t.Fatalf("planeHeight(chroma, odd height) = %d, want 541", got)
	}
	if got := planeHeight(1080, 1, astiav.PixelFormatYuv420P); got != 540 {
		t.Fatalf("planeHeight(chroma) = %d, want 540", got)
	}
}

func TestPlaneHeightNonSubsampledLayoutKeepsLumaHeight(t *testing.T) {
	t.Parallel()

	if got := planeHeight(1080, 1, astiav.PixelFormatYuv444P); got != 1080 {
		t.Fatalf("planeHeight(444p chroma) = %d, want 1080", got)
	}
}

func TestPixelLenPackedFormatsAreFour(t *testing.T) {
	t.Parallel()

	for _, layout := range []media.PixelLayout{media.PixelLayoutBGRA, media.PixelLayoutARGB, media.PixelLayoutRGBA, media.PixelLayoutABGR} {
		if got := pixelLen(layout, 0); got != 4 {
			t.Errorf("pixelLen(%v) = %d, want 4", layout, got)
		}
	}
}

func TestPixelLenPlanarFormatsAreOne(t *testing.T) {
	t.Parallel()

	for _, layout := range []media.PixelLayout{media.PixelLayoutYCbCr, media.PixelLayoutYCbCrA, media.PixelLayoutGray, media.PixelLayoutLuma} {
		if got := pixelLen(layout, 1); got != 1 {
			t.Errorf("pixelLen(%v) = %d, want 1", layout, got)
		}
	}
}
