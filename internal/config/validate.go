package config

import (
	"fmt"
)

// ValidationResult separates fatal errors (block startup) from warnings
// (logged, then the clamped/default value is used).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r *ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just want
// to print everything.
func (r *ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

func (r *ValidationResult) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// ValidateTiered checks the config for invalid values. Values that would
// cause a panic or nonsensical behavior downstream are clamped to a safe
// range and reported as a warning; values with no safe default (an empty
// storage root) are reported as fatal.
func (c *Config) ValidateTiered() *ValidationResult {
	r := &ValidationResult{}

	if c.StorageRoot == "" {
		r.fatal("storage_root must not be empty")
	}

	if c.DBFileName == "" {
		c.DBFileName = "index.db"
		r.warn("db_file_name empty, defaulting to %q", c.DBFileName)
	}

	if c.DBPassphraseEnv == "" {
		r.fatal("db_passphrase_env must name the environment variable holding the database passphrase")
	}

	if c.FrameRate < 1 {
		r.warn("frame_rate %d is below minimum 1, clamping", c.FrameRate)
		c.FrameRate = 1
	} else if c.FrameRate > 240 {
		r.warn("frame_rate %d exceeds maximum 240, clamping", c.FrameRate)
		c.FrameRate = 240
	}

	if c.CaptureIntervalMs < 100 {
		r.warn("capture_interval_ms %d is below minimum 100, clamping", c.CaptureIntervalMs)
		c.CaptureIntervalMs = 100
	}

	if c.WindowChangeDebounceMs < 0 {
		r.warn("window_change_debounce_ms %d is negative, clamping to 0", c.WindowChangeDebounceMs)
		c.WindowChangeDebounceMs = 0
	}

	if c.DedupThreshold < 0 || c.DedupThreshold > 1 {
		r.fatal("dedup_threshold %f must be in [0,1]", c.DedupThreshold)
	}

	if c.DedupSampleGridSize < 1 {
		r.warn("dedup_sample_grid_size %d is below minimum 1, clamping", c.DedupSampleGridSize)
		c.DedupSampleGridSize = 1
	}

	if c.SegmentMaxFrames < 1 {
		r.warn("segment_max_frames %d is below minimum 1, clamping", c.SegmentMaxFrames)
		c.SegmentMaxFrames = 1
	} else if c.SegmentMaxFrames > 150 {
		r.warn("segment_max_frames %d exceeds recovery chunk size 150, clamping", c.SegmentMaxFrames)
		c.SegmentMaxFrames = 150
	}

	if c.FragmentMs < 100 {
		r.warn("fragment_ms %d is below minimum 100, clamping", c.FragmentMs)
		c.FragmentMs = 100
	}

	if c.SearchRecencyHalfLifeDays <= 0 {
		r.warn("search_recency_half_life_days %f must be positive, defaulting to 30", c.SearchRecencyHalfLifeDays)
		c.SearchRecencyHalfLifeDays = 30
	}

	if c.ImageCacheMaxItems < 1 {
		r.warn("image_cache_max_items %d is below minimum 1, clamping", c.ImageCacheMaxItems)
		c.ImageCacheMaxItems = 1
	}

	if c.ImageCacheMaxBytes < 1 {
		r.warn("image_cache_max_bytes %d is below minimum 1, clamping", c.ImageCacheMaxBytes)
		c.ImageCacheMaxBytes = 1
	}

	if c.OCRWorkers < 1 {
		r.warn("ocr_workers %d is below minimum 1, clamping", c.OCRWorkers)
		c.OCRWorkers = 1
	} else if c.OCRWorkers > 64 {
		r.warn("ocr_workers %d exceeds maximum 64, clamping", c.OCRWorkers)
		c.OCRWorkers = 64
	}

	if c.OCRQueueSize < 1 {
		r.warn("ocr_queue_size %d is below minimum 1, clamping", c.OCRQueueSize)
		c.OCRQueueSize = 1
	}

	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		r.warn("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.warn("log_format %q is not valid (use text or json)", c.LogFormat)
	}

	return r
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}
