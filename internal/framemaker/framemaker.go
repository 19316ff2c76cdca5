// Package framemaker runs the single-worker orchestration loop that drives
// a producer's Input, decoders, and FrameMuxer, exposing a bounded output
// queue the external mixer polls from.
package framemaker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"golang.org/x/sync/errgroup"

	"github.com/mediaforge/ffproducer/internal/audiodecoder"
	"github.com/mediaforge/ffproducer/internal/errs"
	"github.com/mediaforge/ffproducer/internal/ffinput"
	"github.com/mediaforge/ffproducer/internal/framemuxer"
	"github.com/mediaforge/ffproducer/internal/videodecoder"
	"github.com/mediaforge/ffproducer/media"
)

const (
	// backpressureDepth is the output-queue length at which the worker
	// stops reading new packets until the mixer drains some.
	backpressureDepth = 10

	// queueSoftMin/queueSoftMax bound the queue's forced-trim policy: once
	// the queue exceeds queueSoftMax entries or queueByteCap bytes, the
	// oldest entries are dropped, but never below queueSoftMin.
	queueSoftMin = 50
	queueSoftMax = 100
	queueByteCap = 64 * 1024 * 1024
)

// FrameMaker owns the Input → decoders → FrameMuxer chain for one producer
// and runs it on a single worker goroutine. All of that chain's state is
// touched only by the worker; callers interact exclusively through the
// methods below, which synchronize via a mutex-guarded queue and a small
// set of atomic flags.
type FrameMaker struct {
	log *slog.Logger

	input    *ffinput.Input
	videoDec *videodecoder.VideoDecoder
	audioDec *audiodecoder.AudioDecoder
	muxer    *framemuxer.Muxer

	params media.ProducerParams

	mu          sync.Mutex
	queue       []*media.OutputFrame
	queueBytes  int
	lastFrame   *media.OutputFrame
	everEmitted bool
	workerErr   error

	emittedCount atomic.Uint32
	loop         atomic.Bool
	running      atomic.Bool

	drainSignal  chan struct{}
	seekRequests chan uint32

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds a FrameMaker from an already-opened Input and the decoders
// available for its streams (either may be nil, but not both), and starts
// its worker goroutine inside an errgroup bound to ctx.
func New(ctx context.Context, input *ffinput.Input, videoDec *videodecoder.VideoDecoder, audioDec *audiodecoder.AudioDecoder, muxer *framemuxer.Muxer, params media.ProducerParams, log *slog.Logger) (*FrameMaker, error) {
	if videoDec == nil && audioDec == nil {
		return nil, &errs.StreamNotFound{Resource: params.Resource}
	}
	if log == nil {
		log = slog.Default()
	}

	cctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(cctx)

	fm := &FrameMaker{
		log:          log.With("component", "frame_maker", "resource", params.Resource),
		input:        input,
		videoDec:     videoDec,
		audioDec:     audioDec,
		muxer:        muxer,
		params:       params,
		drainSignal:  make(chan struct{}, 1),
		seekRequests: make(chan uint32, 1),
		cancel:       cancel,
		group:        group,
	}
	fm.loop.Store(params.Loop)
	fm.running.Store(true)

	group.Go(func() error {
		err := fm.run(gctx)
		fm.running.Store(false)
		if err != nil {
			fm.mu.Lock()
			fm.workerErr = err
			fm.mu.Unlock()
			fm.log.Error("worker stopped", "error", err)
		}
		return err
	})

	return fm, nil
}

// run is the worker loop: backpressure, read,
// dispatch, drain the muxer into the output queue, repeat.
func (fm *FrameMaker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		select {
		case target := <-fm.seekRequests:
			if err := fm.doSeek(target); err != nil {
				return err
			}
			continue
		default:
		}

		if fm.queueLen() >= backpressureDepth {
			select {
			case <-ctx.Done():
				return nil
			case <-fm.drainSignal:
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}

		pkt := astiav.AllocPacket()
		readErr := fm.input.ReadPacket(pkt)
		if readErr != nil {
			pkt.Free()
			if fm.input.Eof() {
				if fm.loop.Load() {
					if err := fm.doSeek(fm.params.Start); err != nil {
						return err
					}
					continue
				}
				return nil
			}
			return errs.NewResourceError(fm.params.Resource, readErr)
		}

		mpkt := &media.Packet{
			StreamIndex: pkt.StreamIndex(),
			Data:        append([]byte(nil), pkt.Data()...),
			Size:        pkt.Size(),
			Pos:         pkt.Pos(),
		}
		pkt.Free()

		if err := fm.dispatch(mpkt); err != nil {
			return err
		}

		for {
			frame := fm.muxer.Poll()
			if frame == nil {
				break
			}
			fm.pushOutput(frame)
		}
	}
}

// dispatch routes one demuxed packet to the matching decoder and pushes
// whatever it produces into the muxer, filling in an empty sentinel on the
// opposite stream when only one decoder exists so video and audio stay
// paired one-for-one.
func (fm *FrameMaker) dispatch(pkt *media.Packet) error {
	switch {
	case fm.videoDec != nil && pkt.StreamIndex == fm.input.VideoStreamIndex():
		pic, err := fm.videoDec.Decode(pkt)
		if err != nil {
			return err
		}
		if pic == nil {
			return nil
		}
		if err := fm.muxer.PushVideo(pic, framemuxer.Hints{}); err != nil {
			return err
		}
		if fm.audioDec == nil {
			return fm.muxer.PushAudioEmpty()
		}

	case fm.audioDec != nil && pkt.StreamIndex == fm.input.AudioStreamIndex():
		chunk, err := fm.audioDec.Decode(pkt)
		if err != nil {
			return err
		}
		if chunk == nil {
			return nil
		}
		if err := fm.muxer.PushAudio(*chunk); err != nil {
			return err
		}
		if fm.videoDec == nil {
			return fm.muxer.PushVideoEmpty()
		}
	}
	return nil
}

// doSeek drains the output queue, repositions the input, then drains both
// decoders' delay buffers in parallel (spec §5's fork-join) before opening
// a new muxer sub-stream, matching "the decoders observe the flush sentinel
// on their next null-data packet and reset their counters".
func (fm *FrameMaker) doSeek(target uint32) error {
	fm.mu.Lock()
	fm.queue = nil
	fm.queueBytes = 0
	fm.mu.Unlock()

	if err := fm.input.Seek(target); err != nil {
		return err
	}

	flushPkt := &media.Packet{Data: nil, Pos: int64(target)}

	var pic *media.RawPicture
	var chunk *media.AudioChunk
	var vErr, aErr error

	g := new(errgroup.Group)
	if fm.videoDec != nil {
		g.Go(func() error {
			pic, vErr = fm.videoDec.Decode(flushPkt)
			return vErr
		})
	}
	if fm.audioDec != nil {
		g.Go(func() error {
			chunk, aErr = fm.audioDec.Decode(flushPkt)
			return aErr
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if pic != nil {
		if err := fm.muxer.PushVideo(pic, framemuxer.Hints{}); err != nil {
			return err
		}
	}
	if chunk != nil {
		if err := fm.muxer.PushAudio(*chunk); err != nil {
			return err
		}
	}

	fm.muxer.PushVideoFlush()
	fm.muxer.PushAudioFlush()
	return nil
}

func (fm *FrameMaker) queueLen() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return len(fm.queue)
}

// pushOutput appends a muxer-emitted frame to the output queue. Once the
// queue breaches queueSoftMax, it is trimmed back down to queueSoftMin in
// one pass (a high/low watermark) rather than trimmed one entry per push,
// which would otherwise thrash at the boundary under steady overproduction.
// The byte cap is enforced the same way but never trims below queueSoftMin.
func (fm *FrameMaker) pushOutput(frame *media.OutputFrame) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	fm.queue = append(fm.queue, frame)
	fm.queueBytes += frameByteSize(frame)
	fm.emittedCount.Add(1)

	if len(fm.queue) > queueSoftMax {
		fm.trimTo(queueSoftMin)
	}
	for fm.queueBytes > queueByteCap && len(fm.queue) > queueSoftMin {
		fm.dropFront()
	}
}

// trimTo drops frames off the front of the queue until at most target
// remain. Caller must hold fm.mu.
func (fm *FrameMaker) trimTo(target int) {
	for len(fm.queue) > target {
		fm.dropFront()
	}
}

// dropFront removes the oldest queued frame. Caller must hold fm.mu.
func (fm *FrameMaker) dropFront() {
	dropped := fm.queue[0]
	fm.queue = fm.queue[1:]
	fm.queueBytes -= frameByteSize(dropped)
}

func frameByteSize(f *media.OutputFrame) int {
	if f == nil || f.Picture == nil {
		return 0
	}
	n := 0
	for _, p := range f.Picture.Planes {
		n += len(p.Data)
	}
	n += len(f.Audio.Samples) * 4
	return n
}

func (fm *FrameMaker) signalDrain() {
	select {
	case fm.drainSignal <- struct{}{}:
	default:
	}
}

// Receive non-blockingly pops the next queued output frame. When the queue
// is empty it returns the last emitted frame so the mixer sees a freeze,
// not a gap; late is true only on the very first underflow, before any
// frame has ever been produced.
func (fm *FrameMaker) Receive(hints int) (frame *media.OutputFrame, late bool, err error) {
	fm.mu.Lock()
	if len(fm.queue) > 0 {
		frame = fm.queue[0]
		fm.queue = fm.queue[1:]
		fm.queueBytes -= frameByteSize(frame)
		fm.lastFrame = frame
		fm.everEmitted = true
		fm.mu.Unlock()
		fm.signalDrain()
		return frame, false, nil
	}
	last := fm.lastFrame
	everEmitted := fm.everEmitted
	fm.mu.Unlock()

	fm.signalDrain()

	if !everEmitted {
		return nil, true, nil
	}
	return last, false, nil
}

// LastFrame returns the most recently emitted frame with its audio samples
// zeroed, matching the last_frame() contract.
func (fm *FrameMaker) LastFrame() *media.OutputFrame {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.lastFrame.ZeroedAudio()
}

// NbFrames reports the producer's remaining output frame count: unbounded
// for DEVICE/STREAM resources or while looping, otherwise the source's
// frame count (capped by params.Length) run through the muxer's cadence
// transform and reduced by params.Start.
func (fm *FrameMaker) NbFrames() uint32 {
	if fm.params.Kind == media.ResourceDevice || fm.params.Kind == media.ResourceStream || fm.loop.Load() {
		return math.MaxUint32
	}

	source := uint32(math.MaxUint32)
	if fm.videoDec != nil {
		source = fm.videoDec.NbFrames()
	}

	n := source
	if fm.params.Length > 0 && fm.params.Length < n {
		n = fm.params.Length
	}
	n = fm.muxer.CalcNbFrames(n)

	if n > fm.params.Start {
		return n - fm.params.Start
	}
	return 0
}

// Call dispatches a producer command. Recognized commands: "LOOP [0|1]"
// (sets looping when given 0 or 1, leaves it unchanged when given no
// argument, and returns the resulting state either way) and
// "SEEK <frame>" (enqueues a seek on the worker, returns empty).
func (fm *FrameMaker) Call(command string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", &errs.InvalidArgument{Command: command, Reason: "empty command"}
	}

	switch strings.ToUpper(fields[0]) {
	case "LOOP":
		if len(fields) > 1 {
			switch fields[1] {
			case "0":
				fm.loop.Store(false)
			case "1":
				fm.loop.Store(true)
			default:
				return "", &errs.InvalidArgument{Command: command, Reason: "LOOP expects 0 or 1"}
			}
		}
		if fm.loop.Load() {
			return "1", nil
		}
		return "0", nil

	case "SEEK":
		if len(fields) != 2 {
			return "", &errs.InvalidArgument{Command: command, Reason: "SEEK requires exactly one frame argument"}
		}
		target, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return "", &errs.InvalidArgument{Command: command, Reason: "SEEK argument must be an unsigned integer"}
		}
		fm.enqueueSeek(uint32(target))
		return "", nil

	default:
		return "", &errs.InvalidArgument{Command: command, Reason: "unrecognized command"}
	}
}

// enqueueSeek hands a seek request to the worker, coalescing with any
// not-yet-processed request so only the latest target survives.
func (fm *FrameMaker) enqueueSeek(target uint32) {
	select {
	case <-fm.seekRequests:
	default:
	}
	fm.seekRequests <- target
}

// Info returns the producer's diagnostic key/value map.
func (fm *FrameMaker) Info() map[string]string {
	format := fm.muxer.Format()

	var fileFrameNumber, fileNbFrames uint32
	var progressive bool
	switch {
	case fm.videoDec != nil:
		fileFrameNumber = fm.videoDec.FileFrameNumber()
		fileNbFrames = fm.videoDec.NbFrames()
		progressive = fm.videoDec.IsProgressive()
	case fm.audioDec != nil:
		fileFrameNumber = fm.audioDec.FileFrameNumber()
	}

	return map[string]string{
		"type":              "ffmpeg",
		"filename":          fm.params.Resource,
		"width":             strconv.Itoa(format.Width),
		"height":            strconv.Itoa(format.Height),
		"progressive":       strconv.FormatBool(progressive),
		"fps":               strconv.FormatFloat(format.FPS, 'f', -1, 64),
		"loop":              strconv.FormatBool(fm.loop.Load()),
		"frame-number":      strconv.FormatUint(uint64(fm.emittedCount.Load()), 10),
		"nb-frames":         strconv.FormatUint(uint64(fm.NbFrames()), 10),
		"file-frame-number": strconv.FormatUint(uint64(fileFrameNumber), 10),
		"file-nb-frames":    strconv.FormatUint(uint64(fileNbFrames), 10),
	}
}

// Print returns the producer's short display string:
// "ffmpeg[<resource>|<WxH p|i fps>|<frame>/<total>]".
func (fm *FrameMaker) Print() string {
	format := fm.muxer.Format()

	fieldChar := "p"
	if format.FieldMode != media.FieldModeProgressive {
		fieldChar = "i"
	}

	total := fm.NbFrames()
	totalStr := strconv.FormatUint(uint64(total), 10)
	if total == math.MaxUint32 {
		totalStr = "-"
	}

	return fmt.Sprintf("ffmpeg[%s|%dx%d %s %s|%d/%s]",
		fm.params.Resource, format.Width, format.Height, fieldChar,
		strconv.FormatFloat(format.FPS, 'f', -1, 64),
		fm.emittedCount.Load(), totalStr)
}

// Err returns the error that stopped the worker, if any.
func (fm *FrameMaker) Err() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.workerErr
}

// Exhausted reports whether the worker has stopped (end of stream without
// loop, or a non-recoverable error).
func (fm *FrameMaker) Exhausted() bool { return !fm.running.Load() }

// Close cancels the worker, waits for it to join, then tears down the
// chain in order: decoders, then input (spec §5 Cancellation). The muxer
// holds no native resources and needs no explicit teardown.
func (fm *FrameMaker) Close() error {
	fm.cancel()
	err := fm.group.Wait()
	fm.videoDec.Close()
	fm.audioDec.Close()
	fm.input.Close()
	return err
}
