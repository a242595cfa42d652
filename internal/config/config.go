// Package config provides the configuration structure for the speech service.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"

	"github.com/book-expert/speech-service/internal/fileutil"
)

// EnvOpenAIAPIKey names the secret holding the OpenAI API key. It always wins over
// the value in the configuration file.
const EnvOpenAIAPIKey = "OPENAI_API_KEY"

// Storage backend names.
const (
	StorageLocal = "local"
	StorageNATS  = "nats"
	StorageGCS   = "gcs"
)

// Default values.
const (
	DefaultOpenAIBaseURL    = "https://api.openai.com"
	DefaultTimeoutSeconds   = 120
	DefaultModel            = "gpt-4o-mini-tts"
	DefaultVoice            = "alloy"
	DefaultMaxCharsPerChunk = 4000
	DefaultWorkers          = 1
	DefaultHTTPAddr         = ":8080"
	DefaultMaxBodyBytes     = 1 << 20
	DefaultOutputDir        = "tts_outputs"
	DefaultTextSubject      = "text.processed"
	DefaultAudioBucket      = "AUDIO_FILES"
)

const maxSpeed = 4.0

var (
	// ErrMissingAPIKey indicates that no OpenAI API key was configured.
	ErrMissingAPIKey = errors.New("missing " + EnvOpenAIAPIKey)
	// ErrNoVoices indicates that the voice list is empty.
	ErrNoVoices = errors.New("at least one voice must be configured")
	// ErrDefaultVoiceUnknown indicates that the default voice is not in the voice list.
	ErrDefaultVoiceUnknown = errors.New("default voice is not in the voice list")
	// ErrChunkSizeRange indicates a non-positive chunk size.
	ErrChunkSizeRange = errors.New("max_chars_per_chunk must be positive")
	// ErrWorkersRange indicates a non-positive worker count.
	ErrWorkersRange = errors.New("workers must be positive")
	// ErrSpeedRange indicates a speed outside the accepted range.
	ErrSpeedRange = errors.New("speed must be 0 (vendor default) or between 0.25 and 4.0")
	// ErrUnsupportedFormat indicates an unknown audio response format.
	ErrUnsupportedFormat = errors.New("unsupported response format")
	// ErrUnknownStorage indicates an unknown storage backend.
	ErrUnknownStorage = errors.New("unknown storage backend")
	// ErrGCSBucketEmpty indicates that the gcs backend has no bucket.
	ErrGCSBucketEmpty = errors.New("gcs backend requires storage.gcs_bucket")
	// ErrNATSURLEmpty indicates that NATS is required but has no URL.
	ErrNATSURLEmpty = errors.New("nats url cannot be empty")
)

// OpenAIConfig holds the connection settings for the OpenAI API.
type OpenAIConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TTSConfig holds the synthesis defaults.
type TTSConfig struct {
	DefaultModel     string   `toml:"default_model"`
	DefaultVoice     string   `toml:"default_voice"`
	Voices           []string `toml:"voices"`
	MaxCharsPerChunk int      `toml:"max_chars_per_chunk"`
	Workers          int      `toml:"workers"`
	ResponseFormat   string   `toml:"response_format"`
	Speed            float64  `toml:"speed"`
	Instructions     string   `toml:"instructions"`
	Normalize        bool     `toml:"normalize"`
}

// HTTPConfig holds the web front-end settings.
type HTTPConfig struct {
	Addr         string `toml:"addr"`
	SentryDSN    string `toml:"sentry_dsn"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// StorageConfig selects where generated audio is kept.
type StorageConfig struct {
	Backend            string `toml:"backend"`
	OutputDir          string `toml:"output_dir"`
	GCSBucket          string `toml:"gcs_bucket"`
	GCSPrefix          string `toml:"gcs_prefix"`
	GCSCredentialsFile string `toml:"gcs_credentials_file"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled                bool   `toml:"enabled"`
	URL                    string `toml:"url"`
	TextProcessedSubject   string `toml:"text_processed_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	OpenAI  OpenAIConfig  `toml:"openai"`
	TTS     TTSConfig     `toml:"tts"`
	HTTP    HTTPConfig    `toml:"http"`
	Storage StorageConfig `toml:"storage"`
	NATS    NATSConfig    `toml:"nats"`
	Paths   PathsConfig   `toml:"paths"`
}

// DefaultVoices is the voice list offered when none is configured.
func DefaultVoices() []string {
	return []string{
		"alloy", "echo", "fable", "onyx", "nova", "shimmer",
		"coral", "verse", "ballad", "ash", "sage", "marin", "cedar",
	}
}

// Load loads the configuration for the speech service, applies defaults and the
// environment, then validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.ApplyEnv(os.Getenv)

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = DefaultOpenAIBaseURL
	}

	c.OpenAI.BaseURL = strings.TrimRight(c.OpenAI.BaseURL, "/")

	if c.OpenAI.TimeoutSeconds <= 0 {
		c.OpenAI.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.TTS.DefaultModel == "" {
		c.TTS.DefaultModel = DefaultModel
	}

	if len(c.TTS.Voices) == 0 {
		c.TTS.Voices = DefaultVoices()
	}

	if c.TTS.DefaultVoice == "" {
		c.TTS.DefaultVoice = c.TTS.Voices[0]
	}

	if c.TTS.MaxCharsPerChunk == 0 {
		c.TTS.MaxCharsPerChunk = DefaultMaxCharsPerChunk
	}

	if c.TTS.Workers == 0 {
		c.TTS.Workers = DefaultWorkers
	}

	if c.TTS.ResponseFormat == "" {
		c.TTS.ResponseFormat = fileutil.FormatMP3
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}

	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}

	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = DefaultOutputDir
	}

	if c.NATS.TextProcessedSubject == "" {
		c.NATS.TextProcessedSubject = DefaultTextSubject
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = DefaultAudioBucket
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

// ApplyEnv overrides secrets from the environment. lookup is usually os.Getenv.
func (c *Config) ApplyEnv(lookup func(string) string) {
	key := strings.TrimSpace(lookup(EnvOpenAIAPIKey))
	if key != "" {
		c.OpenAI.APIKey = key
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return ErrMissingAPIKey
	}

	ttsErr := c.validateTTS()
	if ttsErr != nil {
		return ttsErr
	}

	return c.validateStorage()
}

// Timeout returns the per-request timeout for the OpenAI API.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.OpenAI.TimeoutSeconds) * time.Second
}

// NATSRequired reports whether a NATS connection must be opened.
func (c *Config) NATSRequired() bool {
	return c.NATS.Enabled || c.Storage.Backend == StorageNATS
}

func (c *Config) validateTTS() error {
	if len(c.TTS.Voices) == 0 {
		return ErrNoVoices
	}

	if !slices.Contains(c.TTS.Voices, c.TTS.DefaultVoice) {
		return fmt.Errorf("%w: '%s'", ErrDefaultVoiceUnknown, c.TTS.DefaultVoice)
	}

	if c.TTS.MaxCharsPerChunk < 0 {
		return fmt.Errorf("%w: got %d", ErrChunkSizeRange, c.TTS.MaxCharsPerChunk)
	}

	if c.TTS.Workers < 0 {
		return fmt.Errorf("%w: got %d", ErrWorkersRange, c.TTS.Workers)
	}

	// 0 leaves the speed to the vendor.
	if c.TTS.Speed != 0 && (c.TTS.Speed < 0.25 || c.TTS.Speed > maxSpeed) {
		return fmt.Errorf("%w: got %f", ErrSpeedRange, c.TTS.Speed)
	}

	if !fileutil.IsAudioFormat(c.TTS.ResponseFormat) {
		return fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, c.TTS.ResponseFormat)
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal, StorageNATS:
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return ErrGCSBucketEmpty
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownStorage, c.Storage.Backend)
	}

	if c.NATSRequired() && c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	return nil
}
