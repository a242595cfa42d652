package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/fileutil"
	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/book-expert/speech-service/internal/tts"
)

const apiKeyCaption = "Set OPENAI_API_KEY in the service environment or in the [openai] section of the configuration."

type pageData struct {
	Voices       []string
	DefaultVoice string
	DefaultModel string
	Caption      string
}

type voicesResponse struct {
	Voices       []string `json:"voices"`
	DefaultVoice string   `json:"default_voice"`
	DefaultModel string   `json:"default_model"`
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Model string `json:"model"`
}

func (r *Router) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(headerContentType, contentTypeHTML)

	err := r.page.Execute(w, pageData{
		Voices:       r.synth.Voices(),
		DefaultVoice: r.synth.DefaultVoice(),
		DefaultModel: r.synth.DefaultModel(),
		Caption:      apiKeyCaption,
	})
	if err != nil {
		r.log.Error("Failed to render page: %v", err)
	}
}

func (r *Router) handleVoices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, voicesResponse{
		Voices:       r.synth.Voices(),
		DefaultVoice: r.synth.DefaultVoice(),
		DefaultModel: r.synth.DefaultModel(),
	})
}

// handleSpeech synthesizes the posted text, stores the audio and streams it back
// as an attachment. A storage failure is logged but does not withhold the audio.
func (r *Router) handleSpeech(w http.ResponseWriter, req *http.Request) {
	if r.cfg.MaxBodyBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxBodyBytes)
	}

	var body speechRequest

	err := json.NewDecoder(req.Body).Decode(&body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")

			return
		}

		writeError(w, http.StatusBadRequest, "invalid JSON body")

		return
	}

	result, err := r.synth.Synthesize(req.Context(), core.Job{
		Text:     body.Text,
		Voice:    body.Voice,
		Model:    body.Model,
		Progress: nil,
	})
	if err != nil {
		r.writeSynthesisError(w, req, err)

		return
	}

	// Store even if the client has already gone away.
	storeErr := r.store.Upload(context.WithoutCancel(req.Context()), result.Key, result.Audio)
	if storeErr != nil {
		r.log.Warn("Failed to store %s: %v", result.Key, storeErr)
		captureError(req, storeErr, "store generated audio")
	} else {
		w.Header().Set(headerAudioKey, result.Key)
	}

	r.log.Info("Generated %s (%d chunk(s), %s)", result.Key, result.Chunks, fileutil.FormatFileSize(int64(len(result.Audio))))

	writeAudio(w, result.Filename, result.ContentType, result.Audio)
}

func (r *Router) handleAudio(w http.ResponseWriter, req *http.Request) {
	key := req.PathValue("key")

	data, err := r.store.Download(req.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, objectstore.ErrInvalidKey):
			writeError(w, http.StatusBadRequest, "invalid audio key")
		case errors.Is(err, objectstore.ErrObjectNotFound):
			writeError(w, http.StatusNotFound, "audio not found")
		default:
			r.log.Error("Failed to load %s: %v", key, err)
			captureError(req, err, "load stored audio")
			writeError(w, http.StatusInternalServerError, "failed to load audio")
		}

		return
	}

	writeAudio(w, key, fileutil.ContentTypeForKey(key), data)
}

func (r *Router) writeSynthesisError(w http.ResponseWriter, req *http.Request, err error) {
	var apiErr *tts.APIError

	switch {
	case errors.Is(err, tts.ErrTextEmpty), errors.Is(err, tts.ErrModelEmpty), errors.Is(err, tts.ErrUnsupportedVoice):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr):
		r.log.Error("Speech API failed: %v", err)
		writeError(w, http.StatusBadGateway, apiErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		r.log.Error("Speech synthesis timed out: %v", err)
		writeError(w, http.StatusGatewayTimeout, "speech synthesis timed out")
	case errors.Is(err, context.Canceled):
		r.log.Warn("Client went away during synthesis: %v", err)
	default:
		r.log.Error("Speech synthesis failed: %v", err)
		captureError(req, err, "speech synthesis")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("speech synthesis failed: %v", err))
	}
}

func writeAudio(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set(headerContentType, contentType)
	w.Header().Set(headerContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set(headerCacheControl, "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
