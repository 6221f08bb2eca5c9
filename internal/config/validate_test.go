package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredEmptyStorageRootIsFatal(t *testing.T) {
	cfg := Default()
	cfg.StorageRoot = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty storage_root should be fatal")
	}
}

func TestValidateTieredEmptyPassphraseEnvIsFatal(t *testing.T) {
	cfg := Default()
	cfg.DBPassphraseEnv = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty db_passphrase_env should be fatal")
	}
}

func TestValidateTieredDedupThresholdOutOfRangeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.DedupThreshold = 1.5
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("dedup_threshold outside [0,1] should be fatal")
	}
}

func TestValidateTieredFrameRateClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.FrameRate = 0
	result := cfg.ValidateTiered()

	if result.HasFatals() {
		t.Fatalf("clamped frame rate should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped frame rate")
	}
	if cfg.FrameRate != 1 {
		t.Fatalf("FrameRate = %d, want 1 (clamped)", cfg.FrameRate)
	}
}

func TestValidateTieredHighFrameRateClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.FrameRate = 9999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped frame rate should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.FrameRate != 240 {
		t.Fatalf("FrameRate = %d, want 240 (clamped)", cfg.FrameRate)
	}
}

func TestValidateTieredSegmentMaxFramesClamping(t *testing.T) {
	cfg := Default()
	cfg.SegmentMaxFrames = 500
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped segment_max_frames should be warning: %v", result.Fatals)
	}
	if cfg.SegmentMaxFrames != 150 {
		t.Fatalf("SegmentMaxFrames = %d, want 150", cfg.SegmentMaxFrames)
	}
}

func TestValidateTieredWorkerPoolClamping(t *testing.T) {
	cfg := Default()
	cfg.OCRWorkers = 0
	cfg.OCRQueueSize = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped worker pool settings should be warning: %v", result.Fatals)
	}
	if cfg.OCRWorkers != 1 {
		t.Fatalf("OCRWorkers = %d, want 1", cfg.OCRWorkers)
	}
	if cfg.OCRQueueSize != 1 {
		t.Fatalf("OCRQueueSize = %d, want 1", cfg.OCRQueueSize)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	found := false
	for _, err := range result.Warnings {
		if strings.Contains(err.Error(), "log_level") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.DBPassphraseEnv = ""    // fatal
	cfg.LogFormat = "xml"       // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}
