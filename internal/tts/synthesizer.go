package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/fileutil"
	"github.com/book-expert/speech-service/internal/tts/text"
)

const filenameIDLength = 8

// Static errors.
var (
	ErrTextEmpty        = errors.New("text cannot be empty")
	ErrModelEmpty       = errors.New("model cannot be empty")
	ErrUnsupportedVoice = errors.New("unsupported voice")
	ErrNoVoices         = errors.New("no voices configured")
)

const (
	logFmtJobStarted   = "Synthesizing %d chunk(s) with voice=%s model=%s"
	logFmtChunkFailed  = "Failed to synthesize chunk %d/%d: %v"
	logFmtChunkDone    = "Synthesized chunk %d/%d (%d bytes)"
	logFmtJobCompleted = "Synthesized %s (%s, %d chunk(s))"
	errFmtChunkFailed  = "chunk %d failed: %w"
)

// Options configures a Synthesizer.
type Options struct {
	Voices           []string
	DefaultVoice     string
	DefaultModel     string
	MaxCharsPerChunk int
	Workers          int
	ResponseFormat   string
	Instructions     string
	Speed            float64
	Normalize        bool
}

// OptionsFromConfig builds synthesizer options from the service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Voices:           slices.Clone(cfg.TTS.Voices),
		DefaultVoice:     cfg.TTS.DefaultVoice,
		DefaultModel:     cfg.TTS.DefaultModel,
		MaxCharsPerChunk: cfg.TTS.MaxCharsPerChunk,
		Workers:          cfg.TTS.Workers,
		ResponseFormat:   cfg.TTS.ResponseFormat,
		Instructions:     cfg.TTS.Instructions,
		Speed:            cfg.TTS.Speed,
		Normalize:        cfg.TTS.Normalize,
	}
}

// Synthesizer splits a job into request-sized chunks, sends them to a
// SpeechGenerator with bounded concurrency, and joins the encoded audio in
// chunk order. MP3 frames are self-delimiting, so byte concatenation yields a
// playable file.
type Synthesizer struct {
	generator core.SpeechGenerator
	opts      Options
	voices    map[string]struct{}
	log       *logger.Logger
}

// NewSynthesizer creates a Synthesizer. Zero-valued options take the package
// defaults.
func NewSynthesizer(generator core.SpeechGenerator, opts Options, log *logger.Logger) (*Synthesizer, error) {
	if len(opts.Voices) == 0 {
		return nil, ErrNoVoices
	}

	if opts.DefaultVoice == "" {
		opts.DefaultVoice = opts.Voices[0]
	}

	if opts.DefaultModel == "" {
		opts.DefaultModel = config.DefaultModel
	}

	if opts.MaxCharsPerChunk <= 0 {
		opts.MaxCharsPerChunk = text.DefaultMaxChunkChars
	}

	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	if opts.ResponseFormat == "" {
		opts.ResponseFormat = fileutil.FormatMP3
	}

	voices := make(map[string]struct{}, len(opts.Voices))
	for _, voice := range opts.Voices {
		voices[voice] = struct{}{}
	}

	if _, ok := voices[opts.DefaultVoice]; !ok {
		return nil, fmt.Errorf("%w: default voice '%s'", ErrUnsupportedVoice, opts.DefaultVoice)
	}

	return &Synthesizer{
		generator: generator,
		opts:      opts,
		voices:    voices,
		log:       log,
	}, nil
}

// Voices returns the selectable voices in display order.
func (s *Synthesizer) Voices() []string {
	return slices.Clone(s.opts.Voices)
}

// DefaultVoice returns the voice used when a job names none.
func (s *Synthesizer) DefaultVoice() string {
	return s.opts.DefaultVoice
}

// DefaultModel returns the model used when a job names none.
func (s *Synthesizer) DefaultModel() string {
	return s.opts.DefaultModel
}

// Synthesize produces one audio artifact for the whole job. Any failing chunk
// fails the job; partial audio is never returned.
func (s *Synthesizer) Synthesize(ctx context.Context, job core.Job) (*core.Result, error) {
	voice, model, err := s.resolve(job)
	if err != nil {
		return nil, err
	}

	input := job.Text
	if s.opts.Normalize {
		input = text.Normalize(input)
	}

	chunks := text.ChunkText(input, s.opts.MaxCharsPerChunk)
	if len(chunks) == 0 {
		return nil, ErrTextEmpty
	}

	s.log.Info(logFmtJobStarted, len(chunks), voice, model)

	parts, err := s.synthesizeChunks(ctx, chunks, voice, model, job.Progress)
	if err != nil {
		return nil, err
	}

	key, filename := AudioNames(voice, s.opts.ResponseFormat)

	result := &core.Result{
		Audio:       bytes.Join(parts, nil),
		Key:         key,
		Filename:    filename,
		ContentType: fileutil.ContentTypeForFormat(s.opts.ResponseFormat),
		Voice:       voice,
		Model:       model,
		Chunks:      len(chunks),
	}

	s.log.Info(logFmtJobCompleted, result.Key, fileutil.FormatFileSize(int64(len(result.Audio))), result.Chunks)

	return result, nil
}

// AudioNames returns a storage key of the form "<voice>-<uuid>.<format>" and the
// matching download name "<voice>-<first 8 hex chars of the uuid>.<format>".
func AudioNames(voice, format string) (key, filename string) {
	id := uuid.NewString()
	voice = fileutil.SanitizeFilename(voice)

	key = fmt.Sprintf("%s-%s.%s", voice, id, format)
	filename = fmt.Sprintf("%s-%s.%s", voice, strings.ReplaceAll(id, "-", "")[:filenameIDLength], format)

	return key, filename
}

func (s *Synthesizer) resolve(job core.Job) (voice, model string, err error) {
	if strings.TrimSpace(job.Text) == "" {
		return "", "", ErrTextEmpty
	}

	voice = strings.TrimSpace(job.Voice)
	if voice == "" {
		voice = s.opts.DefaultVoice
	}

	if _, ok := s.voices[voice]; !ok {
		return "", "", fmt.Errorf("%w: '%s'", ErrUnsupportedVoice, voice)
	}

	model = strings.TrimSpace(job.Model)
	if model == "" {
		model = s.opts.DefaultModel
	}

	if model == "" {
		return "", "", ErrModelEmpty
	}

	return voice, model, nil
}

// synthesizeChunks runs one request per chunk through a worker pool bounded by
// opts.Workers. The first failure cancels the remaining requests.
func (s *Synthesizer) synthesizeChunks(
	ctx context.Context,
	chunks []string,
	voice, model string,
	progress core.ProgressFunc,
) ([][]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		firstErr  error
		done      int
	)

	parts := make([][]byte, len(chunks))
	workerPool := make(chan struct{}, s.opts.Workers)

	for chunkIndex, chunk := range chunks {
		waitGroup.Add(1)

		go func(index int, input string) {
			defer waitGroup.Done()

			select {
			case workerPool <- struct{}{}:
			case <-ctx.Done():
				return
			}

			defer func() { <-workerPool }()

			audio, err := s.generator.GenerateSpeech(ctx, core.SpeechRequest{
				Model:          model,
				Voice:          voice,
				Input:          input,
				ResponseFormat: s.opts.ResponseFormat,
				Instructions:   s.opts.Instructions,
				Speed:          s.opts.Speed,
			})

			mutex.Lock()
			defer mutex.Unlock()

			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf(errFmtChunkFailed, index+1, err)

					s.log.Error(logFmtChunkFailed, index+1, len(chunks), err)
					cancel()
				}

				return
			}

			parts[index] = audio
			done++

			s.log.Info(logFmtChunkDone, index+1, len(chunks), len(audio))

			if progress != nil {
				progress(done, len(chunks))
			}
		}(chunkIndex, chunk)
	}

	waitGroup.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	// The parent context may have been cancelled before any chunk failed.
	ctxErr := ctx.Err()
	if ctxErr != nil && done < len(chunks) {
		return nil, fmt.Errorf("synthesis interrupted: %w", ctxErr)
	}

	return parts, nil
}
