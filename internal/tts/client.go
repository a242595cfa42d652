// Package tts provides the OpenAI speech client and the synthesizer that turns
// arbitrary-length text into a single audio artifact.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/fileutil"
)

// API endpoints and paths.
const (
	apiSpeech = "/v1/audio/speech"
	apiModels = "/v1/models"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

const maxErrorBodyBytes = 64 << 10

var (
	// ErrInputEmpty is returned when a speech request has no input text.
	ErrInputEmpty = errors.New("input cannot be empty")
	// ErrReceivedEmptyAudio is returned when the API answers 200 with no body.
	ErrReceivedEmptyAudio = errors.New("received empty audio data")
	// ErrUnexpectedContentType is returned when a 200 response is not audio.
	ErrUnexpectedContentType = errors.New("unexpected content type")
)

// APIError is a structured failure reported by the OpenAI API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	Type       string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("speech API error (%s): %s (type: %s, code: %s)", e.Status, e.Message, e.Type, e.Code)
	}

	return fmt.Sprintf("speech API error (%s): %s (type: %s)", e.Status, e.Message, e.Type)
}

// Temporary reports whether retrying the same request later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// speechPayload is the JSON body of POST /v1/audio/speech.
type speechPayload struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Instructions   string  `json:"instructions,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// errorEnvelope is the error body returned by the OpenAI API.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Client talks to the OpenAI speech endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a client for the API at baseURL (e.g. "https://api.openai.com").
// The timeout applies to every HTTP request made by this client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// GenerateSpeech sends one speech request and returns the encoded audio.
// Callers must keep req.Input within the vendor's per-request limit.
func (c *Client) GenerateSpeech(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, ErrInputEmpty
	}

	if req.ResponseFormat == "" {
		req.ResponseFormat = fileutil.FormatMP3
	}

	requestBody, err := json.Marshal(speechPayload{
		Model:          req.Model,
		Input:          req.Input,
		Voice:          req.Voice,
		ResponseFormat: req.ResponseFormat,
		Instructions:   req.Instructions,
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, fileutil.ContentTypeForFormat(req.ResponseFormat))
	httpReq.Header.Set(headerAuthorization, bearerPrefix+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to speech API at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !isAudioContentType(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrReceivedEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the API is reachable and accepts the key.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiModels, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	req.Header.Set(headerAuthorization, bearerPrefix+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for API at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	return nil
}

// parseErrorResponse decodes the OpenAI error envelope. If the body is not an
// envelope the raw body is returned so diagnostic information is preserved.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var envelope errorEnvelope

	err := json.Unmarshal(body, &envelope)
	if err == nil && envelope.Error.Message != "" {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    envelope.Error.Message,
			Type:       envelope.Error.Type,
			Code:       "",
		}
		if envelope.Error.Code != nil {
			apiErr.Code = fmt.Sprint(envelope.Error.Code)
		}

		return apiErr
	}

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    message,
		Type:       "",
		Code:       "",
	}
}

func isAudioContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "audio/") || strings.HasPrefix(contentType, fileutil.ContentTypeOctetStream)
}
