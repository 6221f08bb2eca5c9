package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/framefault/recorder/internal/logging"
)

var log = logging.L("config")

// Config holds all tunables for the recorder process. Fields are bound by
// viper from YAML plus RECORDER_-prefixed environment variables.
type Config struct {
	// Storage layout
	StorageRoot string `mapstructure:"storage_root"`
	DBFileName  string `mapstructure:"db_file_name"`

	// DB encryption. The passphrase itself is never persisted to YAML; it is
	// read from DBPassphraseEnv at startup and held in a secmem.SecureString.
	DBPassphraseEnv string `mapstructure:"db_passphrase_env"`

	// Capture
	FrameRate               int     `mapstructure:"frame_rate"`
	CaptureIntervalMs       int     `mapstructure:"capture_interval_ms"`
	WindowChangeDebounceMs  int     `mapstructure:"window_change_debounce_ms"`
	DedupThreshold          float64 `mapstructure:"dedup_threshold"`
	DedupSampleGridSize     int     `mapstructure:"dedup_sample_grid_size"`

	// Segment / WAL
	SegmentMaxFrames int `mapstructure:"segment_max_frames"`
	FragmentMs       int `mapstructure:"fragment_ms"`

	// Search ranking weights
	SearchRecencyWeight         float64 `mapstructure:"search_recency_weight"`
	SearchRecencyHalfLifeDays   float64 `mapstructure:"search_recency_half_life_days"`
	SearchMetadataWeight        float64 `mapstructure:"search_metadata_weight"`
	SearchMinimumRelevanceScore float64 `mapstructure:"search_minimum_relevance_score"`

	// Image cache (UI-facing data source)
	ImageCacheMaxItems int   `mapstructure:"image_cache_max_items"`
	ImageCacheMaxBytes int64 `mapstructure:"image_cache_max_bytes"`

	// OCR dispatch worker pool
	OCRWorkers  int `mapstructure:"ocr_workers"`
	OCRQueueSize int `mapstructure:"ocr_queue_size"`

	// Logging configuration
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		StorageRoot:     GetDataDir(),
		DBFileName:      "index.db",
		DBPassphraseEnv: "RECORDER_DB_PASSPHRASE",

		FrameRate:              30,
		CaptureIntervalMs:      2000,
		WindowChangeDebounceMs: 200,
		DedupThreshold:         0.98,
		DedupSampleGridSize:    100,

		SegmentMaxFrames: 150,
		FragmentMs:        2000,

		SearchRecencyWeight:         0.2,
		SearchRecencyHalfLifeDays:   30,
		SearchMetadataWeight:        0.1,
		SearchMinimumRelevanceScore: 0.1,

		ImageCacheMaxItems: 200,
		ImageCacheMaxBytes: 100 * 1024 * 1024,

		OCRWorkers:   4,
		OCRQueueSize: 256,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("recorder")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("RECORDER")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Validate config: fatals block startup, warnings are logged and continue.
	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("storage_root", cfg.StorageRoot)
	viper.Set("db_file_name", cfg.DBFileName)
	viper.Set("db_passphrase_env", cfg.DBPassphraseEnv)
	viper.Set("frame_rate", cfg.FrameRate)
	viper.Set("capture_interval_ms", cfg.CaptureIntervalMs)
	viper.Set("window_change_debounce_ms", cfg.WindowChangeDebounceMs)
	viper.Set("dedup_threshold", cfg.DedupThreshold)
	viper.Set("segment_max_frames", cfg.SegmentMaxFrames)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "recorder.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific root under which segments, the
// WAL and the encrypted index live.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Recorder", "data")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Recorder")
	default:
		return "/var/lib/recorder"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Recorder")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Recorder")
	default:
		return "/etc/recorder"
	}
}
