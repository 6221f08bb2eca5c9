// Package ocr wires the OCR frame-processing queue (C10): an external
// collaborator that consumes frame ids and produces recognized text is
// dispatched onto the shared worker pool, and its results are written back
// through the database engine's FTS5 indexing API (C8).
//
// Grounded on the teacher's workerpool.Pool (bounded goroutines pulling
// Task off a channel), the same scheduling primitive used for blocking I/O
// elsewhere in the system per the concurrency model: the OCR engine itself
// runs model inference, which must never block the capture loop.
package ocr

import (
	"fmt"
	"time"

	"github.com/framefault/recorder/internal/layout"
	"github.com/framefault/recorder/internal/logging"
	"github.com/framefault/recorder/internal/store"
	"github.com/framefault/recorder/internal/workerpool"
)

var log = logging.L("ocr")

// Node is one recognized text bounding box, in the frame image's own
// pixel coordinates.
type Node struct {
	Text   string
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Result is what an Engine produces for one frame image.
type Result struct {
	MainText   string // c0: primary OCR body text
	ChromeText string // c1: detected UI-chrome text (menu bars, toolbars)
	Nodes      []Node
}

// Engine is the external collaborator (C10): given the absolute path to a
// frame's rendered image, it returns recognized text and bounding boxes.
// Model selection/download and any ML-embedding experiments are out of
// scope here.
type Engine interface {
	Recognize(imagePath string) (Result, error)
}

// Dispatcher submits OCR jobs to the shared worker pool and writes their
// results back through the database engine.
type Dispatcher struct {
	pool   *workerpool.Pool
	db     *store.DB
	layout *layout.Manager
	engine Engine
}

func New(pool *workerpool.Pool, db *store.DB, lay *layout.Manager, engine Engine) *Dispatcher {
	return &Dispatcher{pool: pool, db: db, layout: lay, engine: engine}
}

// Enqueue submits one frame id for OCR processing. Matches the
// recovery.OCREnqueuer and capture-manager-adjacent callback shape.
func (d *Dispatcher) Enqueue(frameID int64) {
	if !d.pool.Submit(func() { d.process(frameID) }) {
		log.Warn("ocr queue full, dropping frame", "frameId", frameID)
	}
}

// DrainPending resubmits every frame still short of OCR completion, used
// on startup after recovery to pick up work an unclean shutdown left
// unfinished.
func (d *Dispatcher) DrainPending(limit int) error {
	ids, err := d.db.PendingOCRFrames(limit)
	if err != nil {
		return fmt.Errorf("ocr: drain pending: %w", err)
	}
	for _, id := range ids {
		d.Enqueue(id)
	}
	return nil
}

func (d *Dispatcher) process(frameID int64) {
	frame, err := d.db.GetFrame(frameID)
	if err != nil {
		log.Error("ocr: frame lookup failed", "frameId", frameID, "error", err)
		return
	}

	imagePath := d.layout.Absolute(frame.ImageFilename)
	result, err := d.engine.Recognize(imagePath)
	if err != nil {
		log.Error("ocr: recognize failed", "frameId", frameID, "error", err)
		return
	}

	if err := d.writeResult(frame, result); err != nil {
		log.Error("ocr: write result failed", "frameId", frameID, "error", err)
	}
}

func (d *Dispatcher) writeResult(frame *store.Frame, result Result) error {
	windowTitle := ""
	if seg, err := d.db.GetAppSegment(frame.SegmentID); err == nil {
		windowTitle = seg.WindowName.String
	}

	docID, err := d.db.IndexFrameText(frame.SegmentID, frame.ID, result.MainText, result.ChromeText, windowTitle)
	if err != nil {
		return fmt.Errorf("index frame text: %w", err)
	}

	nodes := make([]store.Node, 0, len(result.Nodes))
	offset := 0
	for i, n := range result.Nodes {
		nodes = append(nodes, store.Node{
			FrameID: frame.ID, NodeOrder: i, TextOffset: offset, TextLength: len(n.Text),
			Left: n.Left, Top: n.Top, Width: n.Width, Height: n.Height,
		})
		offset += len(n.Text)
	}
	if err := d.db.InsertNodes(nodes); err != nil {
		return fmt.Errorf("insert nodes (docid %d): %w", docID, err)
	}

	return d.db.MarkFrameOCRDone(frame.ID, time.Now().UnixMilli())
}
