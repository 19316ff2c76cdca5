package videodecoder

import (
	"github.com/asticode/go-astiav"

	"github.com/mediaforge/ffproducer/media"
)

// toRawPicture copies the decoder's current frame into a RawPicture. Native
// layouts the frame muxer's fast path understands are tagged directly;
// anything else is tagged PixelLayoutInvalid so the muxer takes the slow
// (scaler) path, keeping NativeFormat around for that conversion.
func (d *VideoDecoder) toRawPicture() *media.RawPicture {
	f := d.frame
	layout := classifyPixelFormat(f.PixelFormat())

	planes := make([]media.Plane, 0, 4)
	data := f.Data()
	for i := 0; i < data.PlanesCount(); i++ {
		view := data.Bytes(i)
		if len(view) == 0 {
			break
		}
		// Copy out of the frame's native buffer: d.frame is reused (Unref)
		// by the next Decode call, so a RawPicture outliving that call
		// cannot hold a view into it.
		buf := make([]byte, len(view))
		copy(buf, view)
		planes = append(planes, media.Plane{
			Data:     buf,
			Stride:   data.Linesize(i),
			Height:   planeHeight(f.Height(), i, f.PixelFormat()),
			PixelLen: pixelLen(layout, i),
		})
	}

	return &media.RawPicture{
		Width:         f.Width(),
		Height:        f.Height(),
		Layout:        layout,
		NativeFormat:  int(f.PixelFormat()),
		Planes:        planes,
		Interlaced:    f.InterlacedFrame(),
		TopFieldFirst: f.TopFieldFirst(),
		RepeatPict:    f.RepeatPict(),
	}
}

// classifyPixelFormat maps an astiav pixel format to the fast-path
// PixelLayout it matches exactly, or PixelLayoutInvalid when the frame
// needs the scaler's slow path.
func classifyPixelFormat(pf astiav.PixelFormat) media.PixelLayout {
	switch pf {
	case astiav.PixelFormatGray8:
		return media.PixelLayoutGray
	case astiav.PixelFormatBgra:
		return media.PixelLayoutBGRA
	case astiav.PixelFormatArgb:
		return media.PixelLayoutARGB
	case astiav.PixelFormatRgba:
		return media.PixelLayoutRGBA
	case astiav.PixelFormatAbgr:
		return media.PixelLayoutABGR
	case astiav.PixelFormatYuv420P, astiav.PixelFormatYuv422P, astiav.PixelFormatYuv444P, astiav.PixelFormatYuv411P:
		return media.PixelLayoutYCbCr
	case astiav.PixelFormatYuva420P:
		return media.PixelLayoutYCbCrA
	default:
		return media.PixelLayoutInvalid
	}
}

// planeHeight returns the chroma-subsampled height for plane index i of a
// YUV 4:2:0 frame, falling back to the luma height for all other layouts.
func planeHeight(lumaHeight, planeIndex int, pf astiav.PixelFormat) int {
	if planeIndex == 0 {
		return lumaHeight
	}
	switch pf {
	case astiav.PixelFormatYuv420P:
		return (lumaHeight + 1) / 2
	default:
		return lumaHeight
	}
}

func pixelLen(layout media.PixelLayout, planeIndex int) int {
	switch layout {
	case media.PixelLayoutBGRA, media.PixelLayoutARGB, media.PixelLayoutRGBA, media.PixelLayoutABGR:
		return 4
	default:
		return 1
	}
}
