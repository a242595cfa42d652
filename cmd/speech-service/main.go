// main package for the speech-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/httpapi"
	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/book-expert/speech-service/internal/tts"
	"github.com/book-expert/speech-service/internal/worker"
)

const (
	serviceName        = "speech-service"
	bootstrapLogFile   = "speech-service-bootstrap.log"
	serviceLogFile     = "speech-service.log"
	shutdownTimeout    = 30 * time.Second
	sentryFlushTimeout = 2 * time.Second
	readHeaderTimeout  = 10 * time.Second
	workerQueueGroup   = "speech-workers"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.HTTP.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:        cfg.HTTP.SentryDSN,
			ServerName: serviceName,
		})
		if err != nil {
			log.Warn("Sentry initialization failed: %v", err)
		} else {
			defer sentry.Flush(sentryFlushTimeout)
		}
	}

	var (
		natsConnection   *nats.Conn
		jetstreamContext nats.JetStreamContext
	)

	if cfg.NATSRequired() {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		defer conn.Close()

		js, err := conn.JetStream()
		if err != nil {
			return fmt.Errorf("failed to create JetStream context: %w", err)
		}

		natsConnection, jetstreamContext = conn, js
	}

	store, storeCloser, err := objectstore.Open(ctx, cfg, jetstreamContext)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}

	defer func() {
		closeErr := storeCloser.Close()
		if closeErr != nil {
			log.Warn("Failed to close storage: %v", closeErr)
		}
	}()

	client := tts.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.Timeout())

	synth, err := tts.NewSynthesizer(client, tts.OptionsFromConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}

	handler, err := httpapi.NewRouter(httpapi.Config{MaxBodyBytes: cfg.HTTP.MaxBodyBytes}, synth, store, log)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 2)

	go func() {
		log.System("%s listening on %s (storage: %s)", serviceName, cfg.HTTP.Addr, cfg.Storage.Backend)

		listenErr := server.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server failed: %w", listenErr)
		}
	}()

	// Closed when the worker has stopped; the NATS connection must outlive it.
	workerDone := make(chan struct{})

	if cfg.NATS.Enabled {
		natsWorker, workerErr := worker.NewNatsWorker(
			natsConnection, cfg.NATS.TextProcessedSubject, workerQueueGroup, store, synth, log,
		)
		if workerErr != nil {
			return fmt.Errorf("failed to create NATS worker: %w", workerErr)
		}

		go func() {
			defer close(workerDone)

			runErr := natsWorker.Run(ctx)
			if runErr != nil {
				errChan <- fmt.Errorf("nats worker failed: %w", runErr)
			}
		}()
	} else {
		close(workerDone)
	}

	var runErr error

	select {
	case <-ctx.Done():
		log.System("Shutdown requested.")
	case runErr = <-errChan:
		log.Error("%v", runErr)
	}

	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil && runErr == nil {
		runErr = fmt.Errorf("failed to shut down http server: %w", shutdownErr)
	}

	<-workerDone

	return runErr
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
