package framemuxer

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"golang.org/x/sync/errgroup"

	"github.com/mediaforge/ffproducer/internal/codec"
	"github.com/mediaforge/ffproducer/media"
)

// convertToChannelFormat converts a decoded picture into the channel's
// native layout at the channel's width/height, taking the fast per-plane
// copy path when the source already matches, and the scaler-pool slow path
// otherwise.
func (m *Muxer) convertToChannelFormat(src *media.RawPicture) (*media.RawPicture, error) {
	if src == nil || src.Width < 1 || src.Height < 1 {
		return src, nil
	}

	if src.Layout != media.PixelLayoutInvalid && src.Layout == m.targetLayout() && src.Width == m.format.Width && src.Height == m.format.Height {
		return fastCopy(src)
	}

	return m.slowConvert(src)
}

// targetLayout is the channel's native pixel layout, matching the fast
// path's required tag equality check.
func (m *Muxer) targetLayout() media.PixelLayout { return m.format.Layout }

// fastCopyRowBand is the row-count threshold above which a plane's copy is
// split across row bands run by an errgroup, instead of a single memcpy.
const fastCopyRowBand = 64

// fastCopy copies each plane verbatim into a freshly allocated buffer, one
// goroutine per plane, each plane's own copy further split across row bands
// when it is tall enough to be worth the fan-out.
func fastCopy(src *media.RawPicture) (*media.RawPicture, error) {
	dst := &media.RawPicture{
		Width:         src.Width,
		Height:        src.Height,
		Layout:        src.Layout,
		NativeFormat:  src.NativeFormat,
		Interlaced:    src.Interlaced,
		TopFieldFirst: src.TopFieldFirst,
		RepeatPict:    src.RepeatPict,
		Planes:        make([]media.Plane, len(src.Planes)),
	}

	g := new(errgroup.Group)

	for i := range src.Planes {
		plane := src.Planes[i]
		out := make([]byte, len(plane.Data))
		dst.Planes[i] = media.Plane{Data: out, Stride: plane.Stride, Height: plane.Height, PixelLen: plane.PixelLen}

		g.Go(func() error {
			copyPlaneRows(out, plane.Data, plane.Stride, plane.Height)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dst, nil
}

// copyPlaneRows copies a plane's bytes, fanning out across row bands with
// an errgroup when the plane is tall enough for the parallelism to pay for
// itself; a single memcpy otherwise.
func copyPlaneRows(dst, src []byte, stride, height int) {
	if height < fastCopyRowBand || stride <= 0 {
		copy(dst, src)
		return
	}

	workers := height / fastCopyRowBand
	if workers < 1 {
		workers = 1
	}
	rowsPerWorker := (height + workers - 1) / workers

	g := new(errgroup.Group)
	for start := 0; start < height; start += rowsPerWorker {
		start := start
		end := start + rowsPerWorker
		if end > height {
			end = height
		}
		g.Go(func() error {
			from := start * stride
			to := end * stride
			if to > len(src) {
				to = len(src)
			}
			if to > len(dst) {
				to = len(dst)
			}
			if from < to {
				copy(dst[from:to], src[from:to])
			}
			return nil
		})
	}
	_ = g.Wait()
}

// slowConvert runs the decoded picture through the process-wide scaler pool,
// converting to ycbcr variants for 10-bit/interleaved sources and BGRA
// otherwise, matching the original's target-format selection.
func (m *Muxer) slowConvert(src *media.RawPicture) (*media.RawPicture, error) {
	srcFmt := astiav.PixelFormat(src.NativeFormat)
	dstFmt := slowPathTargetFormat(srcFmt)

	scaler, err := codec.DefaultScalerPool().Get(src.Width, src.Height, srcFmt, m.format.Width, m.format.Height, dstFmt)
	if err != nil {
		return nil, fmt.Errorf("slow path scaler: %w", err)
	}

	srcPlanes := make([][]byte, len(src.Planes))
	srcStrides := make([]int, len(src.Planes))
	for i, p := range src.Planes {
		srcPlanes[i] = p.Data
		srcStrides[i] = p.Stride
	}

	dstPlanes, dstStrides, err := scaler.ConvertPlanes(srcPlanes, srcStrides)
	if err != nil {
		return nil, fmt.Errorf("slow path convert: %w", err)
	}

	layout := layoutForAstiavFormat(dstFmt)
	planes := make([]media.Plane, len(dstPlanes))
	for i := range dstPlanes {
		planes[i] = media.Plane{
			Data:     dstPlanes[i],
			Stride:   dstStrides[i],
			Height:   scaler.DstHeight(),
			PixelLen: pixelLenForLayout(layout),
		}
	}

	return &media.RawPicture{
		Width:         scaler.DstWidth(),
		Height:        scaler.DstHeight(),
		Layout:        layout,
		NativeFormat:  int(dstFmt),
		Planes:        planes,
		Interlaced:    src.Interlaced,
		TopFieldFirst: src.TopFieldFirst,
		RepeatPict:    src.RepeatPict,
	}, nil
}

// slowPathTargetFormat picks the scaler's destination pixel format,
// matching the original's interleaved/10-bit source special cases and BGRA
// default.
func slowPathTargetFormat(src astiav.PixelFormat) astiav.PixelFormat {
	switch src {
	case astiav.PixelFormatUyvy422, astiav.PixelFormatYuyv422:
		return astiav.PixelFormatYuv422P
	case astiav.PixelFormatUyyvyy411:
		return astiav.PixelFormatYuv411P
	case astiav.PixelFormatYuv420P10Le:
		return astiav.PixelFormatYuv420P
	case astiav.PixelFormatYuv422P10Le:
		return astiav.PixelFormatYuv422P
	case astiav.PixelFormatYuv444P10Le:
		return astiav.PixelFormatYuv444P
	default:
		return astiav.PixelFormatBgra
	}
}

func layoutForAstiavFormat(pf astiav.PixelFormat) media.PixelLayout {
	switch pf {
	case astiav.PixelFormatBgra:
		return media.PixelLayoutBGRA
	case astiav.PixelFormatYuv420P, astiav.PixelFormatYuv422P, astiav.PixelFormatYuv444P, astiav.PixelFormatYuv411P:
		return media.PixelLayoutYCbCr
	default:
		return media.PixelLayoutInvalid
	}
}

func pixelLenForLayout(layout media.PixelLayout) int {
	switch layout {
	case media.PixelLayoutBGRA, media.PixelLayoutARGB, media.PixelLayoutRGBA, media.PixelLayoutABGR:
		return 4
	default:
		return 1
	}
}
