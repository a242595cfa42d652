package tts_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/tts"
)

var errMockGenerate = errors.New("mock generate error")

// mockGenerator echoes each input back as its "audio" so ordering is observable.
type mockGenerator struct {
	mutex    sync.Mutex
	requests []core.SpeechRequest
	failOn   string
}

func (m *mockGenerator) GenerateSpeech(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	m.mutex.Lock()
	m.requests = append(m.requests, req)
	m.mutex.Unlock()

	if m.failOn != "" && strings.Contains(req.Input, m.failOn) {
		return nil, errMockGenerate
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return []byte("[" + req.Input + "]"), nil
}

func (m *mockGenerator) calls() []core.SpeechRequest {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]core.SpeechRequest(nil), m.requests...)
}

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func testOptions() tts.Options {
	return tts.Options{
		Voices:           []string{"alloy", "nova"},
		DefaultVoice:     "alloy",
		DefaultModel:     "gpt-4o-mini-tts",
		MaxCharsPerChunk: 10,
		Workers:          1,
		ResponseFormat:   "mp3",
		Instructions:     "",
		Speed:            0,
		Normalize:        true,
	}
}

func newTestSynthesizer(t *testing.T, opts tts.Options) (*tts.Synthesizer, *mockGenerator) {
	t.Helper()

	generator := &mockGenerator{}

	synth, err := tts.NewSynthesizer(generator, opts, createTestLogger(t))
	require.NoError(t, err)

	return synth, generator
}

func TestSynthesizer_SingleChunk(t *testing.T) {
	t.Parallel()

	synth, generator := newTestSynthesizer(t, testOptions())

	result, err := synth.Synthesize(context.Background(), core.Job{Text: "hello", Voice: "nova"})
	require.NoError(t, err)

	assert.Equal(t, "[hello]", string(result.Audio))
	assert.Equal(t, "nova", result.Voice)
	assert.Equal(t, "gpt-4o-mini-tts", result.Model)
	assert.Equal(t, "audio/mpeg", result.ContentType)
	assert.Equal(t, 1, result.Chunks)
	assert.Regexp(t, regexp.MustCompile(`^nova-[0-9a-f]{8}\.mp3$`), result.Filename)
	assert.Regexp(t, regexp.MustCompile(`^nova-[0-9a-f-]{36}\.mp3$`), result.Key)

	calls := generator.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "nova", calls[0].Voice)
	assert.Equal(t, "mp3", calls[0].ResponseFormat)
}

func TestSynthesizer_ConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 4} {
		opts := testOptions()
		opts.Workers = workers

		synth, generator := newTestSynthesizer(t, opts)

		var progressCalls []int

		result, err := synth.Synthesize(context.Background(), core.Job{
			Text:     "one two three four five six seven",
			Progress: func(done, total int) { progressCalls = append(progressCalls, done*100+total) },
		})
		require.NoError(t, err)

		assert.Equal(t, "[one two][three four][five six][seven]", string(result.Audio))
		assert.Equal(t, 4, result.Chunks)
		assert.Len(t, generator.calls(), 4)
		assert.Equal(t, []int{104, 204, 304, 404}, progressCalls)
	}
}

func TestSynthesizer_DefaultsVoiceAndModel(t *testing.T) {
	t.Parallel()

	synth, generator := newTestSynthesizer(t, testOptions())

	result, err := synth.Synthesize(context.Background(), core.Job{Text: "hi", Voice: " ", Model: ""})
	require.NoError(t, err)

	assert.Equal(t, "alloy", result.Voice)
	assert.Equal(t, "gpt-4o-mini-tts", generator.calls()[0].Model)
}

func TestSynthesizer_NormalizesMarkup(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MaxCharsPerChunk = 100

	synth, _ := newTestSynthesizer(t, opts)

	result, err := synth.Synthesize(context.Background(), core.Job{Text: "# Hello **there**"})
	require.NoError(t, err)
	assert.Equal(t, "[Hello there]", string(result.Audio))
}

func TestSynthesizer_VerbatimWithoutNormalize(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.MaxCharsPerChunk = 100
	opts.Normalize = false

	synth, generator := newTestSynthesizer(t, opts)

	input := "If x < 10 and y > 5, use C# and **not** 3 * 4."

	result, err := synth.Synthesize(context.Background(), core.Job{Text: input})
	require.NoError(t, err)
	assert.Equal(t, "["+input+"]", string(result.Audio))
	require.Len(t, generator.calls(), 1)
	assert.Equal(t, input, generator.calls()[0].Input)
}

func TestSynthesizer_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		job     core.Job
		wantErr error
	}{
		{name: "empty text", job: core.Job{Text: ""}, wantErr: tts.ErrTextEmpty},
		{name: "blank text", job: core.Job{Text: " \n\t"}, wantErr: tts.ErrTextEmpty},
		{name: "markup only", job: core.Job{Text: "***"}, wantErr: tts.ErrTextEmpty},
		{name: "unknown voice", job: core.Job{Text: "hi", Voice: "robot"}, wantErr: tts.ErrUnsupportedVoice},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			synth, generator := newTestSynthesizer(t, testOptions())

			_, err := synth.Synthesize(context.Background(), testCase.job)
			require.ErrorIs(t, err, testCase.wantErr)
			assert.Empty(t, generator.calls())
		})
	}
}

func TestSynthesizer_ChunkFailureFailsJob(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 3} {
		opts := testOptions()
		opts.Workers = workers

		synth, generator := newTestSynthesizer(t, opts)
		generator.failOn = "three"

		result, err := synth.Synthesize(context.Background(), core.Job{Text: "one two three four five six"})
		require.ErrorIs(t, err, errMockGenerate)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "chunk 2 failed")
	}
}

func TestSynthesizer_CancelledContext(t *testing.T) {
	t.Parallel()

	synth, _ := newTestSynthesizer(t, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := synth.Synthesize(ctx, core.Job{Text: "one two three"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewSynthesizer_Errors(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.Voices = nil

	_, err := tts.NewSynthesizer(&mockGenerator{}, opts, createTestLogger(t))
	require.ErrorIs(t, err, tts.ErrNoVoices)

	opts = testOptions()
	opts.DefaultVoice = "robot"

	_, err = tts.NewSynthesizer(&mockGenerator{}, opts, createTestLogger(t))
	require.ErrorIs(t, err, tts.ErrUnsupportedVoice)
}

func TestOptionsFromConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()
	cfg.TTS.Workers = 3

	opts := tts.OptionsFromConfig(&cfg)

	assert.Equal(t, cfg.TTS.Voices, opts.Voices)
	assert.Equal(t, "alloy", opts.DefaultVoice)
	assert.Equal(t, 4000, opts.MaxCharsPerChunk)
	assert.Equal(t, 3, opts.Workers)
	assert.False(t, opts.Normalize)

	cfg.TTS.Normalize = true
	assert.True(t, tts.OptionsFromConfig(&cfg).Normalize)

	synth, err := tts.NewSynthesizer(&mockGenerator{}, opts, createTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, cfg.TTS.Voices, synth.Voices())
	assert.Equal(t, "alloy", synth.DefaultVoice())
	assert.Equal(t, config.DefaultModel, synth.DefaultModel())
}

func TestAudioNames(t *testing.T) {
	t.Parallel()

	key, filename := tts.AudioNames("shimmer", "mp3")

	assert.Regexp(t, `^shimmer-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.mp3$`, key)
	assert.Regexp(t, `^shimmer-[0-9a-f]{8}\.mp3$`, filename)
	assert.Equal(t, key[:len("shimmer-")+8], filename[:len("shimmer-")+8])
}

func TestAudioNames_KeysAreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 1000)

	for range 1000 {
		key, _ := tts.AudioNames("alloy", "mp3")

		_, duplicate := seen[key]
		require.False(t, duplicate, "duplicate key %s", key)

		seen[key] = struct{}{}
	}
}
