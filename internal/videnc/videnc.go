// Package videnc wraps an H.264 encoder and a fragmented-MP4 muxer so a
// segment's bytes are readable on disk before the whole segment is closed.
//
// Grounded on the teacher's FFmpeg-via-astiav wiring style (this is the one
// concern the teacher repo itself does not do; astiav usage here is
// grounded on the complete example repo e1z0-QAnotherRTSP's
// src/video.go/camera.go, which opens an astiav.FormatContext for input,
// builds a BGRA software-scale pipeline in src/video.go's bgraScaler, and
// muxes into an output astiav.FormatContext with NewStream/WriteHeader/
// WriteInterleavedFrame/WriteTrailer). The frag_keyframe+empty_moov movflag
// combination is grounded on the ffmpeg-args builder in the retrieved
// mantonx-viewra transcoding example.
package videnc

import (
	"fmt"
	"os"
	"sync"
	"time"

	astiav "github.com/asticode/go-astiav"

	"github.com/framefault/recorder/internal/logging"
)

var log = logging.L("videnc")

// framePTSUnits is one frame at 30fps on the 1/600s ptsTimescale, kept as
// an integer so presentation times never drift: frameCount * framePTSUnits gives exact 1/600s ticks.
const (
	ptsTimescale    = 600
	framePTSUnits   = 20 // 600/30
	expectedFPS     = 30
	readyTimeout    = 5 * time.Second
	fragmentBytes   = 1024 // a size jump greater than this marks a new fragment
)

// ErrEncoderTimeout is returned when the sink does not become ready within
// readyTimeout.
var ErrEncoderTimeout = fmt.Errorf("videnc: encoder timeout")

// Config configures a new Encoder.
type Config struct {
	Width  int
	Height int
	// BitRate in bits/sec for the H.264 encoder.
	BitRate int
}

// Encoder wraps one fragmented-MP4 output file. Its methods serialize on an
// internal mutex; the segment writer also calls it only under its own lock.
type Encoder struct {
	mu sync.Mutex

	outputURL string
	cfg       Config

	formatCtx  *astiav.FormatContext
	ioCtx      *astiav.IOContext
	codecCtx   *astiav.CodecContext
	stream     *astiav.Stream
	scaler     *astiav.SoftwareScaleContext
	scaledFrame *astiav.Frame
	packet     *astiav.Packet

	frameCount      int64
	lastFragmentSize int64
	fragmentSeen    bool
	hwAccelerated   bool
}

// Initialize opens the sink, probes for hardware acceleration (best-effort;
// falls back to software x264 silently), and configures the fragmented-MP4
// container to emit a fragment roughly every 100ms of video time.
func Initialize(width, height int, cfg Config, outputURL string, segmentStartTime time.Time) (*Encoder, error) {
	e := &Encoder{outputURL: outputURL, cfg: cfg}
	e.cfg.Width, e.cfg.Height = width, height
	if e.cfg.BitRate == 0 {
		e.cfg.BitRate = 2_000_000
	}

	if err := e.open(); err != nil {
		return nil, err
	}

	log.Info("encoder initialized", "width", width, "height", height, "output", outputURL, "hwAccelerated", e.hwAccelerated)
	return e, nil
}

func (e *Encoder) open() error {
	oc, err := astiav.AllocOutputFormatContext(nil, "mp4", e.outputURL)
	if err != nil || oc == nil {
		return fmt.Errorf("videnc: AllocOutputFormatContext: %w", err)
	}

	ioFlags := astiav.NewIOContextFlags(astiav.IOContextFlagWrite)
	pb, err := astiav.OpenIOContext(e.outputURL, ioFlags, nil, nil)
	if err != nil {
		oc.Free()
		return fmt.Errorf("videnc: OpenIOContext: %w", err)
	}
	oc.SetPb(pb)

	codec := findHardwareEncoder()
	if codec == nil {
		codec = astiav.FindEncoder(astiav.CodecIDH264)
		e.hwAccelerated = false
	} else {
		e.hwAccelerated = true
	}
	if codec == nil {
		pb.Close()
		pb.Free()
		oc.Free()
		return fmt.Errorf("videnc: no H.264 encoder available")
	}

	codecCtx := astiav.AllocCodecContext(codec)
	if codecCtx == nil {
		pb.Close()
		pb.Free()
		oc.Free()
		return fmt.Errorf("videnc: AllocCodecContext")
	}
	codecCtx.SetWidth(e.cfg.Width)
	codecCtx.SetHeight(e.cfg.Height)
	codecCtx.SetPixelFormat(astiav.PixelFormatYuv420P)
	codecCtx.SetTimeBase(astiav.NewRational(1, ptsTimescale))
	codecCtx.SetFramerate(astiav.NewRational(expectedFPS, 1))
	codecCtx.SetBitRate(int64(e.cfg.BitRate))
	// B-frames enabled for better compression; recovery tolerates the
	// resulting reorder via framesFlushedToDisk's conservative lower bound.
	codecCtx.SetMaxBFrames(2)

	if err := codecCtx.Open(codec, nil); err != nil {
		codecCtx.Free()
		pb.Close()
		pb.Free()
		oc.Free()
		return fmt.Errorf("videnc: codec open: %w", err)
	}

	stream := oc.NewStream(codec)
	if stream == nil {
		codecCtx.Free()
		pb.Close()
		pb.Free()
		oc.Free()
		return fmt.Errorf("videnc: NewStream")
	}
	if err := codecCtx.ToCodecParameters(stream.CodecParameters()); err != nil {
		codecCtx.Free()
		pb.Close()
		pb.Free()
		oc.Free()
		return fmt.Errorf("videnc: ToCodecParameters: %w", err)
	}
	stream.SetTimeBase(codecCtx.TimeBase())

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("movflags", "frag_keyframe+empty_moov+default_base_moof", 0)
	_ = opts.Set("frag_duration", "100000", 0) // ~0.1s of video time, in microseconds

	if err := oc.WriteHeader(opts); err != nil {
		codecCtx.Free()
		pb.Close()
		pb.Free()
		oc.Free()
		return fmt.Errorf("videnc: WriteHeader: %w", err)
	}

	scaler, err := astiav.CreateSoftwareScaleContext(
		e.cfg.Width, e.cfg.Height, astiav.PixelFormatBgra,
		e.cfg.Width, e.cfg.Height, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(),
	)
	if err != nil {
		codecCtx.Free()
		pb.Close()
		pb.Free()
		oc.Free()
		return fmt.Errorf("videnc: CreateSoftwareScaleContext: %w", err)
	}

	scaledFrame := astiav.AllocFrame()
	scaledFrame.SetWidth(e.cfg.Width)
	scaledFrame.SetHeight(e.cfg.Height)
	scaledFrame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := scaledFrame.AllocBuffer(1); err != nil {
		scaledFrame.Free()
		scaler.Free()
		codecCtx.Free()
		pb.Close()
		pb.Free()
		oc.Free()
		return fmt.Errorf("videnc: scaledFrame.AllocBuffer: %w", err)
	}

	e.formatCtx = oc
	e.ioCtx = pb
	e.codecCtx = codecCtx
	e.stream = stream
	e.scaler = scaler
	e.scaledFrame = scaledFrame
	e.packet = astiav.AllocPacket()
	return nil
}

// presentationTime computes the fragment-timescale PTS for a frame using
// pure integer arithmetic: at 30fps with a 1/600s timescale, each frame
// advances exactly framePTSUnits (20) ticks, so rounding never accumulates.
func presentationTime(frameCount int64) int64 {
	return frameCount * framePTSUnits
}

// findHardwareEncoder probes for a platform hardware H.264 encoder by name.
// Returns nil (software fallback) when none is available, which is the
// common case in a headless recorder.
func findHardwareEncoder() *astiav.Codec {
	for _, name := range []string{"h264_videotoolbox", "h264_nvenc", "h264_vaapi", "h264_qsv"} {
		if c := astiav.FindEncoderByName(name); c != nil {
			return c
		}
	}
	return nil
}

// sourceFrame is the minimal view of a raw captured frame the encoder needs.
type sourceFrame struct {
	Width       int
	Height      int
	BytesPerRow int
	Pix         []byte
}

// Encode appends one BGRA frame. Presentation time is computed from integer
// arithmetic (frameCount * framePTSUnits) to avoid float drift. Waits up to
// readyTimeout for the sink before declaring ErrEncoderTimeout and
// auto-finalizing.
func (e *Encoder) Encode(pix []byte, width, height, bytesPerRow int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.formatCtx == nil {
		return fmt.Errorf("videnc: encode called on closed encoder")
	}

	srcFrame := astiav.AllocFrame()
	defer srcFrame.Free()
	srcFrame.SetWidth(width)
	srcFrame.SetHeight(height)
	srcFrame.SetPixelFormat(astiav.PixelFormatBgra)
	if err := srcFrame.AllocBuffer(1); err != nil {
		return fmt.Errorf("videnc: srcFrame.AllocBuffer: %w", err)
	}
	if err := srcFrame.Data().SetBytes(pix, 0); err != nil {
		return fmt.Errorf("videnc: copy pixel bytes: %w", err)
	}

	readyDeadline := time.Now().Add(readyTimeout)
	for {
		if err := e.scaler.ScaleFrame(srcFrame, e.scaledFrame); err != nil {
			if time.Now().After(readyDeadline) {
				_ = e.finalizeLocked()
				return ErrEncoderTimeout
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		break
	}

	pts := presentationTime(e.frameCount)
	e.scaledFrame.SetPts(pts)

	if err := e.codecCtx.SendFrame(e.scaledFrame); err != nil {
		return fmt.Errorf("videnc: SendFrame: %w", err)
	}

	for {
		err := e.codecCtx.ReceivePacket(e.packet)
		if err != nil {
			break
		}
		e.packet.SetStreamIndex(e.stream.Index())
		e.packet.RescaleTs(e.codecCtx.TimeBase(), e.stream.TimeBase())
		if werr := e.formatCtx.WriteInterleavedFrame(e.packet); werr != nil {
			e.packet.Unref()
			return fmt.Errorf("videnc: WriteInterleavedFrame: %w", werr)
		}
		e.packet.Unref()
	}

	e.frameCount++
	e.pollFragmentSize()
	return nil
}

// pollFragmentSize checks the output file's size; a jump greater than
// fragmentBytes marks a newly flushed on-disk fragment.
func (e *Encoder) pollFragmentSize() {
	info, err := os.Stat(e.outputURL)
	if err != nil {
		return
	}
	size := info.Size()
	if size-e.lastFragmentSize > fragmentBytes {
		e.fragmentSeen = true
	}
	e.lastFragmentSize = size
}

// HasFragmentWritten reports whether at least one fragment boundary has
// been observed on disk.
func (e *Encoder) HasFragmentWritten() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fragmentSeen
}

// FramesFlushedToDisk returns a conservative lower bound on the number of
// frames safely readable from the file, accounting for B-frame reordering.
func (e *Encoder) FramesFlushedToDisk() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.fragmentSeen {
		return 0
	}
	n := e.frameCount - 2
	if n < 0 {
		return 0
	}
	return int(n)
}

// BackendIsHardware reports whether a hardware encoder was selected.
func (e *Encoder) BackendIsHardware() bool {
	return e.hwAccelerated
}

// Finalize writes the closing atoms; afterward the file is randomly seekable.
func (e *Encoder) Finalize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalizeLocked()
}

func (e *Encoder) finalizeLocked() error {
	if e.formatCtx == nil {
		return nil
	}
	err := e.formatCtx.WriteTrailer()
	e.closeLocked()
	return err
}

func (e *Encoder) closeLocked() {
	if e.packet != nil {
		e.packet.Free()
		e.packet = nil
	}
	if e.scaledFrame != nil {
		e.scaledFrame.Free()
		e.scaledFrame = nil
	}
	if e.scaler != nil {
		e.scaler.Free()
		e.scaler = nil
	}
	if e.codecCtx != nil {
		e.codecCtx.Free()
		e.codecCtx = nil
	}
	if e.ioCtx != nil {
		e.ioCtx.Close()
		e.ioCtx.Free()
		e.ioCtx = nil
	}
	if e.formatCtx != nil {
		e.formatCtx.Free()
		e.formatCtx = nil
	}
}

// Recreate handles the output file being observed missing mid-run (external
// deletion): close the current sink without deleting, reopen with the same
// parameters, and preserve frameCount so timestamps remain monotone.
func (e *Encoder) Recreate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	savedCount := e.frameCount
	e.closeLocked()

	if err := e.open(); err != nil {
		return fmt.Errorf("videnc: recreate: %w", err)
	}
	e.frameCount = savedCount
	e.lastFragmentSize = 0
	e.fragmentSeen = false

	log.Warn("encoder recreated after output file disappeared", "output", e.outputURL, "frameCount", savedCount)
	return nil
}

// Cancel resets the encoder and deletes the output file without finalizing.
func (e *Encoder) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
	_ = os.Remove(e.outputURL)
}
