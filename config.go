package filegate

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/filegate/pkg/access"
	"github.com/dmitrymomot/filegate/pkg/blob"
	"github.com/dmitrymomot/filegate/pkg/db"
	"github.com/dmitrymomot/filegate/pkg/logger"
	"github.com/dmitrymomot/filegate/pkg/purge"
	"github.com/dmitrymomot/filegate/pkg/redis"
	"github.com/dmitrymomot/filegate/pkg/sniff"
	"github.com/dmitrymomot/filegate/pkg/spool"
)

// EnvPrefix is prepended to every environment variable read by LoadConfig.
const EnvPrefix = "FILEGATE_"

// Storage backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

var (
	ErrInvalidConfig = errors.New("filegate: invalid configuration")
	ErrReadConfig    = errors.New("filegate: failed to read configuration")
)

// AllowedTypes lists the MIME types accepted per category.
// A trailing wildcard such as "image/*" is accepted.
type AllowedTypes struct {
	Image    []string `yaml:"image" env:"IMAGE" envSeparator:","`
	Audio    []string `yaml:"audio" env:"AUDIO" envSeparator:","`
	Video    []string `yaml:"video" env:"VIDEO" envSeparator:","`
	Document []string `yaml:"document" env:"DOCUMENT" envSeparator:","`
}

// AllowList converts the lists for the validator.
func (a AllowedTypes) AllowList() sniff.AllowList {
	list := sniff.AllowList{}
	add := func(c sniff.Category, types []string) {
		if len(types) > 0 {
			list[c] = types
		}
	}
	add(sniff.Image, a.Image)
	add(sniff.Audio, a.Audio)
	add(sniff.Video, a.Video)
	add(sniff.Document, a.Document)
	return list
}

// MaxSizes holds the default size limit in bytes per category.
type MaxSizes struct {
	Image    int64 `yaml:"image" env:"IMAGE"`
	Audio    int64 `yaml:"audio" env:"AUDIO"`
	Video    int64 `yaml:"video" env:"VIDEO"`
	Document int64 `yaml:"document" env:"DOCUMENT"`
}

// For returns the limit for category c.
func (m MaxSizes) For(c sniff.Category) int64 {
	switch c {
	case sniff.Image:
		return m.Image
	case sniff.Audio:
		return m.Audio
	case sniff.Video:
		return m.Video
	default:
		return m.Document
	}
}

// Config is the complete filegate configuration. It is treated as immutable
// once passed to New or Open.
type Config struct {
	// StorageBackend is "local" or "s3".
	StorageBackend string `yaml:"storage_backend" env:"STORAGE_BACKEND"`
	// StorageRoot is the directory of the local backend.
	StorageRoot string `yaml:"storage_root" env:"STORAGE_ROOT"`
	// PublicBaseURL prefixes the URL of files on the local backend.
	PublicBaseURL string         `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	S3            blob.S3Config `yaml:"s3" envPrefix:"S3_"`

	AllowedTypes AllowedTypes `yaml:"allowed_types" envPrefix:"ALLOWED_"`
	MaxSizes     MaxSizes     `yaml:"max_sizes" envPrefix:"MAX_SIZE_"`

	// SniffBytes is the prefix inspected before the body is consumed.
	SniffBytes     int   `yaml:"sniff_bytes" env:"SNIFF_BYTES"`
	MaxImagePixels int64 `yaml:"max_image_pixels" env:"MAX_IMAGE_PIXELS"`
	// Bodies larger than SpoolMemoryThreshold are buffered in SpoolDir.
	SpoolMemoryThreshold int64  `yaml:"spool_memory_threshold" env:"SPOOL_MEMORY_THRESHOLD"`
	SpoolDir             string `yaml:"spool_dir" env:"SPOOL_DIR"`

	MaxFilenameLength   int  `yaml:"max_filename_length" env:"MAX_FILENAME_LENGTH"`
	GenerateUniqueNames bool `yaml:"generate_unique_names" env:"GENERATE_UNIQUE_NAMES"`
	MetadataEnabled     bool `yaml:"metadata_enabled" env:"METADATA_ENABLED"`
	AuditEnabled        bool `yaml:"audit_enabled" env:"AUDIT_ENABLED"`

	Access access.Policy `yaml:"access" envPrefix:"ACCESS_"`

	// Database enables the Postgres catalog, audit table and purge worker
	// when its URL is set.
	Database db.Config `yaml:"database" envPrefix:"DATABASE_"`
	// Redis enables the record cache and distributed path locks when its URL
	// is set.
	Redis    redis.Config  `yaml:"redis" envPrefix:"REDIS_"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`

	// PurgeAfter is how long a deleted file is kept before it is removed.
	PurgeAfter    time.Duration `yaml:"purge_after" env:"PURGE_AFTER"`
	PurgeSchedule string        `yaml:"purge_schedule" env:"PURGE_SCHEDULE"`

	LogLevel string              `yaml:"log_level" env:"LOG_LEVEL"`
	Sentry   logger.SentryConfig `yaml:"sentry"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	allow := sniff.DefaultAllowList()
	return Config{
		StorageBackend: BackendLocal,
		StorageRoot:    "./data/files",
		PublicBaseURL:  "/files",
		AllowedTypes: AllowedTypes{
			Image: allow[sniff.Image],
			Audio: allow[sniff.Audio],
			Video: allow[sniff.Video],
		},
		MaxSizes: MaxSizes{
			Image:    10 << 20,
			Audio:    50 << 20,
			Video:    500 << 20,
			Document: 25 << 20,
		},
		SniffBytes:           sniff.DefaultSniffSize,
		MaxImagePixels:       sniff.DefaultMaxPixels,
		SpoolMemoryThreshold: spool.DefaultMemoryThreshold,
		MaxFilenameLength:    255,
		GenerateUniqueNames:  true,
		MetadataEnabled:      true,
		AuditEnabled:         true,
		Access:               access.DefaultPolicy(),
		Database:             db.DefaultConfig(),
		Redis:                redis.DefaultConfig(),
		CacheTTL:             10 * time.Minute,
		LockTTL:              30 * time.Second,
		PurgeAfter:           30 * 24 * time.Hour,
		PurgeSchedule:        purge.DefaultSchedule,
		LogLevel:             "info",
	}
}

// LoadConfig builds a Config from the defaults, then the YAML file at path
// (skipped when path is empty), then FILEGATE_* environment variables.
// The result is validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Join(ErrReadConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Join(ErrReadConfig, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Join(ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first problem found in c.
func (c Config) Validate() error {
	switch strings.ToLower(c.StorageBackend) {
	case BackendLocal:
		if strings.TrimSpace(c.StorageRoot) == "" {
			return fmt.Errorf("%w: storage_root is required for the local backend", ErrInvalidConfig)
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("%w: s3.bucket is required for the s3 backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.StorageBackend)
	}

	allow := c.AllowedTypes.AllowList()
	if err := allow.Validate(); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	for category := range allow {
		if c.MaxSizes.For(category) <= 0 {
			return fmt.Errorf("%w: max size for %s must be positive", ErrInvalidConfig, category)
		}
	}

	if c.SniffBytes <= 0 {
		return fmt.Errorf("%w: sniff_bytes must be positive", ErrInvalidConfig)
	}
	if c.SpoolMemoryThreshold < 0 {
		return fmt.Errorf("%w: spool_memory_threshold must not be negative", ErrInvalidConfig)
	}
	if c.PurgeAfter < 0 {
		return fmt.Errorf("%w: purge_after must not be negative", ErrInvalidConfig)
	}
	return nil
}
