// Package worker provides a NATS worker that turns stored text into speech audio.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-service/internal/core"
)

// DefaultHandleTimeout bounds a single job: download, synthesis and upload.
const DefaultHandleTimeout = 10 * time.Minute

const drainPollInterval = 50 * time.Millisecond

var (
	// ErrTextKeyEmpty indicates that the event does not reference any text.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrEmptyPayload indicates that a message carried no data.
	ErrEmptyPayload = errors.New("message payload is empty")
)

// NatsWorker listens for text-processed events on a NATS subject, synthesizes the
// referenced text and replies with the key of the stored audio.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	queueGroup     string
	store          core.ObjectStore
	synthesizer    core.Synthesizer
	log            *logger.Logger
	handleTimeout  time.Duration
	inflight       sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker. A non-empty queueGroup
// load-balances messages across service replicas.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	queueGroup string,
	store core.ObjectStore,
	synthesizer core.Synthesizer,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		queueGroup:     queueGroup,
		store:          store,
		synthesizer:    synthesizer,
		log:            log,
		handleTimeout:  DefaultHandleTimeout,
	}, nil
}

// SetHandleTimeout overrides DefaultHandleTimeout.
func (w *NatsWorker) SetHandleTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.handleTimeout = timeout
	}
}

// Run starts the worker and blocks until ctx is cancelled. It then drains the
// subscription and returns only after every delivered message has been handled,
// so the caller may close the connection afterwards.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.queueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.subject, w.queueGroup, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.System("Listening for speech jobs on subject: %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	w.waitForDrain(sub)
	w.inflight.Wait()

	w.log.System("Stopped listening on subject: %s", w.subject)

	return nil
}

// waitForDrain blocks until the drained subscription is closed, which happens
// once all pending messages have been delivered, or until handleTimeout.
func (w *NatsWorker) waitForDrain(sub *nats.Subscription) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	deadline := time.After(w.handleTimeout)

	for sub.IsValid() {
		select {
		case <-ticker.C:
		case <-deadline:
			w.log.Warn("Subscription on %s did not drain within %v", w.subject, w.handleTimeout)

			return
		}
	}
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	w.inflight.Add(1)
	defer w.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), w.handleTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, processErr := w.processTTSJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process TTS job for workflow %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}
	replyEvent.Header.Timestamp = time.Now().UTC()

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processTTSJob downloads the text, synthesizes it and uploads the audio.
func (w *NatsWorker) processTTSJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	result, err := w.synthesizer.Synthesize(ctx, core.Job{
		Text:     string(textData),
		Voice:    event.Voice,
		Model:    "",
		Progress: nil,
	})
	if err != nil {
		return "", fmt.Errorf("failed to process text to speech: %w", err)
	}

	err = w.store.Upload(ctx, result.Key, result.Audio)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", result.Key, err)
	}

	w.log.Info("Workflow %s page %d/%d stored as %s", event.Header.WorkflowID, event.PageNumber, event.TotalPages, result.Key)

	return result.Key, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	if msg.Reply == "" {
		return nil
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	if len(msg.Data) == 0 {
		return nil, ErrEmptyPayload
	}

	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}
