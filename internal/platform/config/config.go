// Package config builds the process configuration. Defaults come first, an
// optional YAML file named by EKYC_CONFIG_FILE is layered on top, and
// individual environment variables win over both.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	platformstrings "ekyc/pkg/platform/strings"
)

// StoreBackend selects the verification record store.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
)

// Config is the full process configuration.
type Config struct {
	Server       Server       `yaml:"server"`
	Engine       Engine       `yaml:"engine"`
	Store        Store        `yaml:"store"`
	Postgres     Postgres     `yaml:"postgres"`
	Redis        Redis        `yaml:"redis"`
	Kafka        Kafka        `yaml:"kafka"`
	Providers    Providers    `yaml:"providers"`
	IdentitySync IdentitySync `yaml:"identity_sync"`
	Evidence     Evidence     `yaml:"evidence"`
}

// Server captures the ops HTTP listener and logging settings.
type Server struct {
	Addr            string        `yaml:"addr"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AdminToken guards the operator record routes. They are not mounted
	// when it is empty.
	AdminToken      string        `yaml:"admin_token"`
}

// Engine holds the scoring thresholds and record lifetime.
type Engine struct {
	// LivenessThreshold applies to face and video. Scores at or below it
	// leave the step incomplete.
	LivenessThreshold float64 `yaml:"liveness_threshold"`
	// VoiceConfidenceThreshold applies to the voice step.
	VoiceConfidenceThreshold float64       `yaml:"voice_confidence_threshold"`
	RecordValidity           time.Duration `yaml:"record_validity"`
}

type Store struct {
	Backend StoreBackend `yaml:"backend"`
}

type Postgres struct {
	DSN          string `yaml:"dsn"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// Redis mirrors the go-redis pool options we override.
type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Kafka configures status-change event publishing. Publishing is disabled
// when no brokers are set.
type Kafka struct {
	Brokers           []string      `yaml:"brokers"`
	ClientID          string        `yaml:"client_id"`
	Topic             string        `yaml:"topic"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	EnsureTopic       bool          `yaml:"ensure_topic"`
}

type Providers struct {
	OCRBaseURL       string        `yaml:"ocr_base_url"`
	LivenessBaseURL  string        `yaml:"liveness_base_url"`
	APIKey           string        `yaml:"api_key"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// IdentitySync configures the account-service notifier. The signing key is
// only used when a caller token is not available, as on admin reviews.
type IdentitySync struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	SigningKey string        `yaml:"signing_key"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
}

type Evidence struct {
	Root          string `yaml:"root"`
	ImageMaxBytes int64  `yaml:"image_max_bytes"`
	VideoMaxBytes int64  `yaml:"video_max_bytes"`
	AudioMaxBytes int64  `yaml:"audio_max_bytes"`
}

const mib = 1 << 20

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Engine: Engine{
			LivenessThreshold:        0.5,
			VoiceConfidenceThreshold: 0.5,
			RecordValidity:           365 * 24 * time.Hour,
		},
		Store: Store{Backend: StoreMemory},
		Postgres: Postgres{
			MaxOpenConns: 10,
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			ClientID:          "ekyc-engine",
			Topic:             "kyc.verification.status",
			Partitions:        3,
			ReplicationFactor: 1,
			DialTimeout:       10 * time.Second,
		},
		Providers: Providers{
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		IdentitySync: IdentitySync{
			Timeout:  5 * time.Second,
			Issuer:   "ekyc-engine",
			Audience: "identity-service",
			TokenTTL: 5 * time.Minute,
		},
		Evidence: Evidence{
			Root:          "./data/evidence",
			ImageMaxBytes: 10 * mib,
			VideoMaxBytes: 50 * mib,
			AudioMaxBytes: 10 * mib,
		},
	}
}

// FromEnv builds the configuration so main stays lean.
func FromEnv() (Config, error) {
	cfg := Default()
	if path := os.Getenv("EKYC_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.overlayEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv(getenv func(string) string) error {
	e := envReader{getenv: getenv}

	e.str("EKYC_ADDR", &c.Server.Addr)
	e.str("LOG_LEVEL", &c.Server.LogLevel)
	e.str("EKYC_ADMIN_TOKEN", &c.Server.AdminToken)
	e.duration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	e.float("LIVENESS_THRESHOLD", &c.Engine.LivenessThreshold)
	e.float("VOICE_CONFIDENCE_THRESHOLD", &c.Engine.VoiceConfidenceThreshold)
	e.duration("RECORD_VALIDITY", &c.Engine.RecordValidity)

	if v := getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = StoreBackend(strings.ToLower(v))
	}

	e.str("POSTGRES_DSN", &c.Postgres.DSN)
	e.boolean("POSTGRES_AUTO_MIGRATE", &c.Postgres.AutoMigrate)

	e.str("REDIS_URL", &c.Redis.URL)
	e.integer("REDIS_POOL_SIZE", &c.Redis.PoolSize)

	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	e.str("KAFKA_TOPIC", &c.Kafka.Topic)
	e.boolean("KAFKA_ENSURE_TOPIC", &c.Kafka.EnsureTopic)

	e.str("OCR_PROVIDER_URL", &c.Providers.OCRBaseURL)
	e.str("LIVENESS_PROVIDER_URL", &c.Providers.LivenessBaseURL)
	e.str("PROVIDER_API_KEY", &c.Providers.APIKey)
	e.duration("PROVIDER_TIMEOUT", &c.Providers.Timeout)

	e.str("IDENTITY_SERVICE_URL", &c.IdentitySync.BaseURL)
	e.duration("IDENTITY_SYNC_TIMEOUT", &c.IdentitySync.Timeout)
	e.str("IDENTITY_SYNC_SIGNING_KEY", &c.IdentitySync.SigningKey)

	e.str("EVIDENCE_ROOT", &c.Evidence.Root)
	e.int64("EVIDENCE_IMAGE_MAX_BYTES", &c.Evidence.ImageMaxBytes)
	e.int64("EVIDENCE_VIDEO_MAX_BYTES", &c.Evidence.VideoMaxBytes)
	e.int64("EVIDENCE_AUDIO_MAX_BYTES", &c.Evidence.AudioMaxBytes)

	return e.err
}

// Validate checks thresholds and limits.
func (c Config) Validate() error {
	var errs []error
	if !unitInterval(c.Engine.LivenessThreshold) {
		errs = append(errs, errors.New("engine.liveness_threshold must be in [0,1]"))
	}
	if !unitInterval(c.Engine.VoiceConfidenceThreshold) {
		errs = append(errs, errors.New("engine.voice_confidence_threshold must be in [0,1]"))
	}
	if c.Engine.RecordValidity <= 0 {
		errs = append(errs, errors.New("engine.record_validity must be positive"))
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres store"))
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not supported", c.Store.Backend))
	}
	if c.Providers.Timeout <= 0 {
		errs = append(errs, errors.New("providers.timeout must be positive"))
	}
	if c.IdentitySync.Timeout <= 0 {
		errs = append(errs, errors.New("identity_sync.timeout must be positive"))
	}
	if c.Evidence.ImageMaxBytes <= 0 || c.Evidence.VideoMaxBytes <= 0 || c.Evidence.AudioMaxBytes <= 0 {
		errs = append(errs, errors.New("evidence size limits must be positive"))
	}
	if c.Evidence.Root == "" {
		errs = append(errs, errors.New("evidence.root is required"))
	}
	return errors.Join(errs...)
}

func unitInterval(v float64) bool { return v >= 0 && v <= 1 }

func splitList(v string) []string {
	return platformstrings.SplitList(v, ",")
}

// envReader records the first parse failure so overlayEnv reads linearly.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v := e.getenv(key)
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	e.err = fmt.Errorf("parse %s: %w", key, err)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}
