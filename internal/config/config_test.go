// Package config_test tests the configuration loading for the speech service.
package config_test

import (
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/config"
)

func validConfig() config.Config {
	cfg := config.Config{}
	cfg.OpenAI.APIKey = "sk-test"
	cfg.ApplyDefaults()

	return cfg
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[openai]
base_url = "https://example.test/"
timeout_seconds = 30

[tts]
default_model = "tts-1-hd"
default_voice = "nova"
voices = ["alloy", "nova"]
max_chars_per_chunk = 1000
workers = 3
response_format = "mp3"
speed = 1.25
normalize = true

[http]
addr = ":9090"

[storage]
backend = "gcs"
gcs_bucket = "speech-audio"
gcs_prefix = "tts"

[nats]
enabled = true
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
audio_object_store_bucket = "AUDIO_FILES"

[paths]
base_logs_dir = "/var/log/speech"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	cfg.ApplyDefaults()

	assert.Equal(t, "https://example.test", cfg.OpenAI.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, "tts-1-hd", cfg.TTS.DefaultModel)
	assert.Equal(t, "nova", cfg.TTS.DefaultVoice)
	assert.Equal(t, []string{"alloy", "nova"}, cfg.TTS.Voices)
	assert.Equal(t, 1000, cfg.TTS.MaxCharsPerChunk)
	assert.Equal(t, 3, cfg.TTS.Workers)
	assert.InEpsilon(t, 1.25, cfg.TTS.Speed, 0.001)
	assert.True(t, cfg.TTS.Normalize)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, config.StorageGCS, cfg.Storage.Backend)
	assert.Equal(t, "speech-audio", cfg.Storage.GCSBucket)
	assert.Equal(t, "tts", cfg.Storage.GCSPrefix)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "/var/log/speech", cfg.Paths.BaseLogsDir)
	assert.True(t, cfg.NATSRequired())
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()

	assert.Equal(t, config.DefaultOpenAIBaseURL, cfg.OpenAI.BaseURL)
	assert.Equal(t, config.DefaultModel, cfg.TTS.DefaultModel)
	assert.Equal(t, config.DefaultVoice, cfg.TTS.DefaultVoice)
	assert.Len(t, cfg.TTS.Voices, 13)
	assert.Equal(t, config.DefaultMaxCharsPerChunk, cfg.TTS.MaxCharsPerChunk)
	assert.Equal(t, config.DefaultWorkers, cfg.TTS.Workers)
	assert.Equal(t, "mp3", cfg.TTS.ResponseFormat)
	assert.False(t, cfg.TTS.Normalize)
	assert.Equal(t, config.StorageLocal, cfg.Storage.Backend)
	assert.Equal(t, config.DefaultOutputDir, cfg.Storage.OutputDir)
	assert.NotEmpty(t, cfg.Paths.BaseLogsDir)
	assert.False(t, cfg.NATSRequired())
}

func TestApplyEnv_OverridesFileKey(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.OpenAI.APIKey = "from-file"

	cfg.ApplyEnv(func(name string) string {
		if name == config.EnvOpenAIAPIKey {
			return " from-env "
		}

		return ""
	})
	assert.Equal(t, "from-env", cfg.OpenAI.APIKey)

	cfg.ApplyEnv(func(string) string { return "" })
	assert.Equal(t, "from-env", cfg.OpenAI.APIKey, "an unset variable keeps the current key")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr error
	}{
		{name: "valid defaults", mutate: func(*config.Config) {}, wantErr: nil},
		{
			name:    "missing api key",
			mutate:  func(cfg *config.Config) { cfg.OpenAI.APIKey = "" },
			wantErr: config.ErrMissingAPIKey,
		},
		{
			name:    "default voice not offered",
			mutate:  func(cfg *config.Config) { cfg.TTS.DefaultVoice = "robot" },
			wantErr: config.ErrDefaultVoiceUnknown,
		},
		{
			name:    "negative chunk size",
			mutate:  func(cfg *config.Config) { cfg.TTS.MaxCharsPerChunk = -1 },
			wantErr: config.ErrChunkSizeRange,
		},
		{
			name:    "negative workers",
			mutate:  func(cfg *config.Config) { cfg.TTS.Workers = -2 },
			wantErr: config.ErrWorkersRange,
		},
		{
			name:    "speed too high",
			mutate:  func(cfg *config.Config) { cfg.TTS.Speed = 5 },
			wantErr: config.ErrSpeedRange,
		},
		{
			name:    "unknown format",
			mutate:  func(cfg *config.Config) { cfg.TTS.ResponseFormat = "midi" },
			wantErr: config.ErrUnsupportedFormat,
		},
		{
			name:    "unknown storage",
			mutate:  func(cfg *config.Config) { cfg.Storage.Backend = "s3" },
			wantErr: config.ErrUnknownStorage,
		},
		{
			name:    "gcs without bucket",
			mutate:  func(cfg *config.Config) { cfg.Storage.Backend = config.StorageGCS },
			wantErr: config.ErrGCSBucketEmpty,
		},
		{
			name:    "nats storage without url",
			mutate:  func(cfg *config.Config) { cfg.Storage.Backend = config.StorageNATS },
			wantErr: config.ErrNATSURLEmpty,
		},
		{
			name:    "nats worker without url",
			mutate:  func(cfg *config.Config) { cfg.NATS.Enabled = true },
			wantErr: config.ErrNATSURLEmpty,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			testCase.mutate(&cfg)

			err := cfg.Validate()
			if testCase.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}
