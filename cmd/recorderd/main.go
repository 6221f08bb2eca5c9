package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/framefault/recorder/internal/capture"
	"github.com/framefault/recorder/internal/config"
	"github.com/framefault/recorder/internal/health"
	"github.com/framefault/recorder/internal/ingest"
	"github.com/framefault/recorder/internal/layout"
	"github.com/framefault/recorder/internal/logging"
	"github.com/framefault/recorder/internal/ocr"
	"github.com/framefault/recorder/internal/recovery"
	"github.com/framefault/recorder/internal/search"
	"github.com/framefault/recorder/internal/secmem"
	"github.com/framefault/recorder/internal/store"
	"github.com/framefault/recorder/internal/wal"
	"github.com/framefault/recorder/internal/workerpool"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "recorderd",
	Short: "Continuous screen-activity recorder",
	Long:  `recorderd - continuously captures, deduplicates, encodes and indexes screen activity for local full-text search.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the recorder daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recorderd v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/recorder/recorder.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	logFileFallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

// daemon holds the running components so shutdown can stop them in order.
type daemon struct {
	db      *store.DB
	pool    *workerpool.Pool
	manager *capture.Manager
}

func runDaemon() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogging(cfg)

	passphrase := secmem.NewSecureString(os.Getenv(cfg.DBPassphraseEnv))
	defer passphrase.Zero()
	if passphrase.Reveal() == "" {
		log.Error("database passphrase not set", "envVar", cfg.DBPassphraseEnv)
		os.Exit(1)
	}

	lay := layout.NewManager(cfg.StorageRoot)
	for _, dir := range []string{lay.Root(), lay.WALRoot(), lay.TempDir(), lay.ModelsDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			log.Error("failed to create storage directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	monitor := health.NewMonitor()

	dbPath := lay.Root() + string(os.PathSeparator) + cfg.DBFileName
	db, err := store.Open(dbPath, passphrase)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	monitor.Update("database", health.Healthy, "")

	walMgr := wal.NewManager(lay.WALRoot())
	walMgr.SetHealthReporter(monitor.ReportStorageLatency)

	pool := workerpool.New(cfg.OCRWorkers, cfg.OCRQueueSize)
	dispatcher := ocr.New(pool, db, lay, noOCREngine{})

	recoveryMgr := recovery.New(walMgr, db, lay, cfg.SegmentMaxFrames, dispatcher.Enqueue)
	if err := recoveryMgr.Run(); err != nil {
		log.Error("crash recovery failed", "error", err)
	}
	if err := dispatcher.DrainPending(1000); err != nil {
		log.Error("failed to resume pending ocr work", "error", err)
	}
	if stopWatch, err := recoveryMgr.WatchWALRoot(lay.WALRoot()); err != nil {
		log.Warn("wal root watch disabled", "error", err)
	} else {
		defer stopWatch()
	}

	searcher := search.New(db, search.Weights{
		RecencyWeight:         cfg.SearchRecencyWeight,
		RecencyHalfLifeDays:   cfg.SearchRecencyHalfLifeDays,
		MetadataWeight:        cfg.SearchMetadataWeight,
		ColumnWeights:         [3]float64{1, 0.5, 2},
		MinimumRelevanceScore: cfg.SearchMinimumRelevanceScore,
	})
	if err := searcher.WithImageCache(cfg.ImageCacheMaxItems, cfg.ImageCacheMaxBytes, frameExtractor(db, lay)); err != nil {
		log.Warn("image cache disabled", "error", err)
	}
	_ = searcher // exposed to the (not-yet-built) query surface; kept wired so the engine and its image cache are exercised end to end.

	captureCfg := capture.Config{
		CaptureInterval:      time.Duration(cfg.CaptureIntervalMs) * time.Millisecond,
		WindowChangeDebounce: time.Duration(cfg.WindowChangeDebounceMs) * time.Millisecond,
		DedupThreshold:       cfg.DedupThreshold,
		DedupSampleGridSize:  cfg.DedupSampleGridSize,
	}
	manager := capture.New(captureCfg, capture.NewNoopWindowInfoProvider(), 0)
	ingestor := ingest.New(walMgr, db, lay, cfg.SegmentMaxFrames, dispatcher.Enqueue)
	go ingestor.Run(manager.Frames())

	if err := manager.Start(); err != nil {
		log.Error("failed to start capture", "error", err)
		monitor.Update("capture", health.Unhealthy, err.Error())
		os.Exit(1)
	}
	monitor.Update("capture", health.Healthy, "")
	if _, err := db.RecordMetric(store.MetricCaptureStarted, time.Now().UnixMilli(), ""); err != nil {
		log.Error("record capture_started metric failed", "error", err)
	}

	d := &daemon{db: db, pool: pool, manager: manager}

	log.Info("recorderd is running", "version", version, "storageRoot", cfg.StorageRoot, "status", monitor.Overall())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("shutting down")
	case <-manager.Stopped():
		monitor.Update("capture", health.Unhealthy, "capture backend stopped unexpectedly")
		log.Warn("capture backend stopped unexpectedly")
	}

	shutdown(d)
	log.Info("recorderd stopped")
}

func shutdown(d *daemon) {
	d.manager.Stop()
	d.pool.StopAccepting()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.pool.Drain(ctx)

	if _, err := d.db.RecordMetric(store.MetricCaptureStopped, time.Now().UnixMilli(), ""); err != nil {
		log.Error("record capture_stopped metric failed", "error", err)
	}
}

// noOCREngine is the zero-config default when no OCR backend is installed;
// it returns empty results so the pipeline runs end to end without the
// external collaborator.
type noOCREngine struct{}

func (noOCREngine) Recognize(imagePath string) (ocr.Result, error) {
	return ocr.Result{}, nil
}

// frameExtractor resolves a video segment's on-disk path and hands off to
// the video codec stack to decode one frame. Frame-accurate seeking into a
// fragmented MP4 is a real decode subsystem of its own (an external
// collaborator, same tier as the OCR engine); this wiring resolves the
// segment and validates the index so the cache and its caller get a clear
// error instead of silently caching nothing.
func frameExtractor(db *store.DB, lay *layout.Manager) search.FrameExtractor {
	return func(videoID int64, frameIndex int) ([]byte, error) {
		seg, err := db.GetVideoSegment(videoID)
		if err != nil {
			return nil, fmt.Errorf("frame extractor: load video segment %d: %w", videoID, err)
		}
		if frameIndex < 0 || frameIndex >= seg.FrameCount {
			return nil, fmt.Errorf("frame extractor: frame index %d out of range for segment %d (%d frames)", frameIndex, videoID, seg.FrameCount)
		}
		return nil, fmt.Errorf("frame extractor: video frame decode not installed for %s", lay.Absolute(seg.Path))
	}
}
