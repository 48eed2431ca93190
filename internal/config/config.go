package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// WorkDir is the scratch space for per-run temp files (downloaded
	// videos, extracted audio). Each run gets its own subdirectory.
	WorkDir string `env:"WORK_DIR" envDefault:"/tmp/subgen"`

	// DataDir holds the jobs database and, for local storage, artifacts.
	DataDir string `env:"DATA_DIR" envDefault:"./data"`

	// MaxUploadBytes caps the multipart video upload size.
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"2147483648"`

	Speech    SpeechConfig
	Translate TranslateConfig
	Cue       CueConfig
	Retry     RetryConfig
	S3        S3Config

	Workers   int `env:"WORKERS" envDefault:"2"`
	QueueSize int `env:"QUEUE_SIZE" envDefault:"32"`
}

// SpeechConfig configures the speech-to-text backend.
type SpeechConfig struct {
	URL        string        `env:"SPEECH_URL,required"`
	APIKey     string        `env:"SPEECH_API_KEY"`
	Model      string        `env:"SPEECH_MODEL" envDefault:"whisper-1"`
	SampleRate int           `env:"SPEECH_SAMPLE_RATE" envDefault:"16000"`
	Timeout    time.Duration `env:"SPEECH_TIMEOUT" envDefault:"10m"`

	// AsyncThreshold is the audio duration above which the client uses
	// submit-and-poll instead of a single synchronous call.
	AsyncThreshold time.Duration `env:"SPEECH_ASYNC_THRESHOLD" envDefault:"3m"`
	PollInterval   time.Duration `env:"SPEECH_POLL_INTERVAL" envDefault:"5s"`
}

// TranslateConfig configures the translation backend.
type TranslateConfig struct {
	URL     string        `env:"TRANSLATE_URL,required"`
	APIKey  string        `env:"TRANSLATE_API_KEY"`
	Timeout time.Duration `env:"TRANSLATE_TIMEOUT" envDefault:"2m"`

	// BatchChars is the per-request character budget for cue batching.
	BatchChars int `env:"TRANSLATE_BATCH_CHARS" envDefault:"4000"`
}

// CueConfig holds the cue-shaping thresholds.
type CueConfig struct {
	MaxChars    int           `env:"CUE_MAX_CHARS" envDefault:"42"`
	MaxDuration time.Duration `env:"CUE_MAX_DURATION" envDefault:"6s"`
	MergeBelow  time.Duration `env:"CUE_MERGE_BELOW" envDefault:"1s"`
}

// RetryConfig holds the shared transient-error retry policy knobs.
type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	Multiplier  float64       `env:"RETRY_MULTIPLIER" envDefault:"2"`
}

// S3Config configures the optional S3 artifact store. When Bucket is
// empty, artifacts go to the local filesystem under DataDir.
type S3Config struct {
	Bucket        string        `env:"S3_BUCKET"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint      string        `env:"S3_ENDPOINT"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY"`
	Prefix        string        `env:"S3_PREFIX"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
	WorkDir  string
	DataDir  string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.WorkDir != "" {
		cfg.WorkDir = overrides.WorkDir
	}
	if overrides.DataDir != "" {
		cfg.DataDir = overrides.DataDir
	}

	return cfg, nil
}
