package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/schollz/progressbar/v3"

	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/fileutil"
	"github.com/book-expert/speech-service/internal/tts"
)

// Flag descriptions and messages.
const (
	flagTextDesc   = "Text to convert to speech"
	flagFileDesc   = "Path to a text file to convert to speech"
	flagVoiceDesc  = "Voice to use (defaults to the configured default voice)"
	flagModelDesc  = "Model to use (defaults to the configured default model)"
	flagOutputDesc = "Output file or directory (defaults to the configured output_dir)"
	flagHealthDesc = "Check that the OpenAI API is reachable and exit"
	flagQuietDesc  = "Disable the progress bar"
)

// Flag names.
const (
	flagText   = "text"
	flagFile   = "file"
	flagVoice  = "voice"
	flagModel  = "model"
	flagOutput = "output"
	flagHealth = "health"
	flagQuiet  = "quiet"
)

// Error and log messages.
const (
	errEitherTextOrFile    = "either --text or --file must be provided"
	errCannotSpecifyBoth   = "cannot specify both --text and --file"
	errFailedToLoadConfig  = "failed to load configuration: %w"
	errFailedToInitLogger  = "failed to initialize logger: %w"
	errFailedToReadInput   = "failed to read input file: %w"
	errFailedToSynthesize  = "failed to synthesize speech: %w"
	errFailedToWriteOutput = "failed to write audio file: %w"
	msgServiceHealthy      = "OpenAI speech API is reachable"
	msgGenerated           = "Generated: %s (%s, %d chunk(s), %s)\n"
	logFileName            = "speech-client.log"
	healthCheckTimeout     = 10 * time.Second
	filePermissions        = 0o600
)

var (
	// ErrEitherTextOrFile is returned when no input was given.
	ErrEitherTextOrFile = errors.New(errEitherTextOrFile)
	// ErrCannotSpecifyBoth is returned when both inputs were given.
	ErrCannotSpecifyBoth = errors.New(errCannotSpecifyBoth)
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text   string
	file   string
	voice  string
	model  string
	output string
	health bool
	quiet  bool
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run(args []string) error {
	flags, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	bootstrapLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}

	defer func() { _ = bootstrapLog.Close() }()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return fmt.Errorf(errFailedToLoadConfig, err)
	}

	client := tts.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.Timeout())

	if flags.health {
		return handleHealthCheck(client, bootstrapLog)
	}

	validateErr := validateArguments(flags)
	if validateErr != nil {
		return validateErr
	}

	synth, err := tts.NewSynthesizer(client, tts.OptionsFromConfig(cfg), bootstrapLog)
	if err != nil {
		return err
	}

	return synthesizeToFile(context.Background(), synth, cfg, flags, os.Stderr)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string, output io.Writer) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("speech-client", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.file, flagFile, "", flagFileDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.StringVar(&flags.model, flagModel, "", flagModelDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flagSet.BoolVar(&flags.quiet, flagQuiet, false, flagQuietDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateArguments enforces that exactly one input source was given.
func validateArguments(flags appFlags) error {
	if flags.text == "" && flags.file == "" {
		return ErrEitherTextOrFile
	}

	if flags.text != "" && flags.file != "" {
		return ErrCannotSpecifyBoth
	}

	return nil
}

// handleHealthCheck performs an API health check and prints the result.
func handleHealthCheck(client *tts.Client, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	err := client.HealthCheck(ctx)
	if err != nil {
		log.Error("Health check failed: %v", err)

		return err
	}

	fmt.Println(msgServiceHealthy)

	return nil
}

func readInput(flags appFlags) (string, error) {
	if flags.text != "" {
		return flags.text, nil
	}

	data, err := os.ReadFile(flags.file)
	if err != nil {
		return "", fmt.Errorf(errFailedToReadInput, err)
	}

	return string(data), nil
}

// synthesizeToFile runs the job and writes the audio where --output points.
func synthesizeToFile(
	ctx context.Context,
	synth core.Synthesizer,
	cfg *config.Config,
	flags appFlags,
	progressOut io.Writer,
) error {
	input, err := readInput(flags)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar

	job := core.Job{
		Text:     input,
		Voice:    flags.voice,
		Model:    flags.model,
		Progress: nil,
	}

	if !flags.quiet {
		job.Progress = func(done, total int) {
			if bar == nil {
				bar = newProgressBar(total, progressOut)
			}

			_ = bar.Set(done)
		}
	}

	started := time.Now()

	result, err := synth.Synthesize(ctx, job)
	if err != nil {
		return fmt.Errorf(errFailedToSynthesize, err)
	}

	if bar != nil {
		_ = bar.Finish()
	}

	outputPath := resolveOutputPath(flags.output, cfg.Storage.OutputDir, result.Filename)

	err = fileutil.EnsureDir(filepath.Dir(outputPath))
	if err != nil {
		return fmt.Errorf(errFailedToWriteOutput, err)
	}

	err = os.WriteFile(outputPath, result.Audio, filePermissions)
	if err != nil {
		return fmt.Errorf(errFailedToWriteOutput, err)
	}

	fmt.Printf(
		msgGenerated,
		outputPath,
		fileutil.FormatFileSize(int64(len(result.Audio))),
		result.Chunks,
		fileutil.FormatDuration(time.Since(started).Seconds()),
	)

	return nil
}

func newProgressBar(total int, output io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(output),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("Synthesizing chunks..."),
	)
}

// resolveOutputPath places the file in outputDir when no output was given, and
// inside the output when it names an existing directory or ends in a separator.
func resolveOutputPath(output, outputDir, filename string) string {
	if output == "" {
		return filepath.Join(outputDir, filename)
	}

	if strings.HasSuffix(output, string(os.PathSeparator)) {
		return filepath.Join(output, filename)
	}

	info, err := os.Stat(output)
	if err == nil && info.IsDir() {
		return filepath.Join(output, filename)
	}

	return output
}
