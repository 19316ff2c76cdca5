package codec

import (
	"fmt"
	"sync"

	"github.com/asticode/go-astiav"
)

// scalerKey identifies one (source, destination) pixel conversion job. The
// scaler pool is process-wide and keyed by this tuple so any producer's
// slow-path conversion can share an already-built swscale context with any
// other producer doing the same conversion.
type scalerKey struct {
	srcW, srcH int
	dstW, dstH int
	srcFmt     astiav.PixelFormat
	dstFmt     astiav.PixelFormat
}

// Scaler wraps one swscale context plus the destination frame buffer it
// converts into.
type Scaler struct {
	sws *astiav.SoftwareScaleContext
	dst *astiav.Frame
	key scalerKey

	mu sync.Mutex
}

// ScalerPool is the process-wide, concurrency-safe cache of swscale
// contexts keyed by (width, height, source format, destination format). It
// survives any single producer's teardown, matching the requirement that
// the scaler pool is a shared resource independent of producer lifetime.
type ScalerPool struct {
	scalers sync.Map // scalerKey -> *Scaler
}

var defaultPool = &ScalerPool{}

// DefaultScalerPool returns the process-wide scaler pool instance.
func DefaultScalerPool() *ScalerPool { return defaultPool }

// Get returns the Scaler for the given conversion, creating and caching one
// on first use.
func (p *ScalerPool) Get(srcW, srcH int, srcFmt astiav.PixelFormat, dstW, dstH int, dstFmt astiav.PixelFormat) (*Scaler, error) {
	key := scalerKey{srcW: srcW, srcH: srcH, dstW: dstW, dstH: dstH, srcFmt: srcFmt, dstFmt: dstFmt}

	if v, ok := p.scalers.Load(key); ok {
		return v.(*Scaler), nil
	}

	// Point-sample, matching the original's SWS_POINT: the slow path exists
	// for format/size correctness, not resampling quality.
	flags := astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagPoint)
	sws, err := astiav.CreateSoftwareScaleContext(srcW, srcH, srcFmt, dstW, dstH, dstFmt, flags)
	if err != nil {
		return nil, fmt.Errorf("create scaler %dx%d %v -> %dx%d %v: %w", srcW, srcH, srcFmt, dstW, dstH, dstFmt, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(dstW)
	dst.SetHeight(dstH)
	dst.SetPixelFormat(dstFmt)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		sws.Free()
		return nil, fmt.Errorf("alloc scaler destination buffer: %w", err)
	}

	s := &Scaler{sws: sws, dst: dst, key: key}

	actual, loaded := p.scalers.LoadOrStore(key, s)
	if loaded {
		// lost the race against a concurrent producer building the same
		// conversion; drop ours and use the winner.
		dst.Free()
		sws.Free()
		return actual.(*Scaler), nil
	}
	return s, nil
}

// Convert scales src into the scaler's cached destination frame and returns
// it. The returned frame is owned by the pool and must not be freed by the
// caller; it is only valid until the next call to Convert on this Scaler.
func (s *Scaler) Convert(src *astiav.Frame) (*astiav.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sws.ScaleFrame(src, s.dst); err != nil {
		return nil, fmt.Errorf("scale frame: %w", err)
	}
	return s.dst, nil
}

// ConvertPlanes scales a source picture given as plain byte planes (the
// decoded-frame representation media.RawPicture carries) into freshly
// allocated destination planes. It builds a temporary astiav source frame,
// copies the caller's bytes into it respecting the caller's strides, runs
// the cached swscale context, then copies the result out into plain Go
// byte slices the caller owns outright.
func (s *Scaler) ConvertPlanes(srcPlanes [][]byte, srcStrides []int) (dstPlanes [][]byte, dstStrides []int, err error) {
	src := astiav.AllocFrame()
	defer src.Free()

	src.SetWidth(s.key.srcW)
	src.SetHeight(s.key.srcH)
	src.SetPixelFormat(s.key.srcFmt)
	if err := src.AllocBuffer(1); err != nil {
		return nil, nil, fmt.Errorf("alloc scaler source buffer: %w", err)
	}

	srcData := src.Data()
	for i, plane := range srcPlanes {
		linesize := srcData.Linesize(i)
		dst := srcData.Bytes(i)
		copyPlane(dst, plane, linesize, srcStrides[i])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sws.ScaleFrame(src, s.dst); err != nil {
		return nil, nil, fmt.Errorf("scale planes: %w", err)
	}

	dstData := s.dst.Data()
	dstPlanes = make([][]byte, dstData.PlanesCount())
	dstStrides = make([]int, dstData.PlanesCount())
	for i := range dstPlanes {
		view := dstData.Bytes(i)
		if len(view) == 0 {
			dstPlanes = dstPlanes[:i]
			dstStrides = dstStrides[:i]
			break
		}
		buf := make([]byte, len(view))
		copy(buf, view)
		dstPlanes[i] = buf
		dstStrides[i] = dstData.Linesize(i)
	}

	return dstPlanes, dstStrides, nil
}

// copyPlane copies one image plane from src (stride srcStride) into dst
// (stride dstStride), row by row when the strides differ.
func copyPlane(dst, src []byte, dstStride, srcStride int) {
	if dstStride == srcStride {
		copy(dst, src)
		return
	}
	rows := len(src) / srcStride
	for y := 0; y < rows; y++ {
		so := y * srcStride
		do := y * dstStride
		if so+srcStride > len(src) || do+dstStride > len(dst) {
			break
		}
		copy(dst[do:do+dstStride], src[so:so+srcStride])
	}
}

// DstWidth and DstHeight expose the scaler's destination geometry, needed
// by callers building the resulting media.RawPicture.
func (s *Scaler) DstWidth() int  { return s.key.dstW }
func (s *Scaler) DstHeight() int { return s.key.dstH }
func (s *Scaler) DstPixelFormat() astiav.PixelFormat { return s.key.dstFmt }
