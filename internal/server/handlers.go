package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/comigor/zapup-go/internal/catalog"
	"github.com/comigor/zapup-go/internal/conversation"
	apperrors "github.com/comigor/zapup-go/internal/errors"
	"github.com/comigor/zapup-go/internal/gateway"
	"github.com/comigor/zapup-go/internal/ingest"
	"github.com/comigor/zapup-go/internal/logger"
	"github.com/comigor/zapup-go/internal/orchestrator"
	"github.com/comigor/zapup-go/internal/session"
	"github.com/comigor/zapup-go/internal/voice"
)

type modelsResponse struct {
	Default   string             `json:"default"`
	Options   []string           `json:"options"`
	Providers []catalog.Provider `json:"providers"`
}

type sessionResponse struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Voice voice.Settings `json:"voice"`
}

type transcriptResponse struct {
	Messages []conversation.Message `json:"messages"`
	State    orchestrator.State     `json:"state"`
	Typing   bool                   `json:"typing"`
	Busy     bool                   `json:"busy"`
	Model    string                 `json:"model"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Transcript string                 `json:"transcript,omitempty"`
	Reply      conversation.Message   `json:"reply"`
	Messages   []conversation.Message `json:"messages"`
}

type modelRequest struct {
	Model string `json:"model"`
}

type speakRequest struct {
	Text    string `json:"text"`
	Session string `json:"session,omitempty"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{
		Default:   s.sessions.DefaultModel(),
		Options:   s.catalog.Options(),
		Providers: s.catalog.Search(r.URL.Query().Get("q")),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		logger.L.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID, Model: sess.Selection.Current(), Voice: sess.Voice()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	msgs, err := sess.Orchestrator.Transcript(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{
		Messages: nonNil(msgs),
		State:    sess.Orchestrator.State(),
		Typing:   sess.Orchestrator.Typing(),
		Busy:     sess.Orchestrator.Busy(),
		Model:    sess.Selection.Current(),
	})
}

func (s *Server) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := sess.Selection.Select(req.Model); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: sess.ID, Model: sess.Selection.Current(), Voice: sess.Voice()})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	query, att, err := readQuery(r)
	if err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, sess, "", func(ctx context.Context) (conversation.Message, error) {
		return sess.Orchestrator.Submit(ctx, query, att)
	})
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.transcriber == nil {
		writeError(w, http.StatusNotImplemented, voice.ErrNoSpeechInput.Error())
		return
	}
	if sess.Orchestrator.Busy() {
		writeError(w, http.StatusConflict, orchestrator.ErrBusy.Error())
		return
	}
	// buffered up front so an oversized clip never reaches the transcriber
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	name, audio, err := readAudio(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	transcript, err := s.transcriber.Transcribe(r.Context(), name, audio)
	if err != nil {
		logger.L.Error("transcription failed", "session", sess.ID, "error", err)
		writeError(w, http.StatusBadGateway, apperrors.UserMessage(gateway.Classify(err)))
		return
	}
	// submitted directly: the session draft is shared with concurrent requests
	s.submit(w, r, sess, transcript, func(ctx context.Context) (conversation.Message, error) {
		return sess.Orchestrator.Submit(ctx, transcript, nil)
	})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, sess *session.Session, transcript string, run func(context.Context) (conversation.Message, error)) {
	// an issued query runs to completion even if the client goes away
	ctx := context.WithoutCancel(r.Context())
	reply, err := run(ctx)
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, orchestrator.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		logger.L.Error("submission failed", "session", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	msgs, err := sess.Orchestrator.Transcript(ctx)
	if err != nil {
		msgs = []conversation.Message{reply}
	}
	writeJSON(w, http.StatusOK, queryResponse{Transcript: transcript, Reply: reply, Messages: msgs})
}

func (s *Server) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Voice())
}

func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	settings := sess.Voice()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := sess.SetVoice(settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Voice())
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if s.synthesizer == nil {
		writeError(w, http.StatusNotImplemented, "speech synthesis is not available")
		return
	}
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is empty")
		return
	}

	settings := voice.DefaultSettings()
	if req.Session != "" {
		sess, err := s.sessions.Get(req.Session)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		settings = sess.Voice()
	}
	if settings.Muted {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	audio, err := s.synthesizer.Synthesize(r.Context(), voice.Utterance{Text: req.Text, Rate: settings.Rate, Pitch: settings.Pitch, Volume: 1})
	if err != nil {
		logger.L.Error("speech synthesis failed", "error", err)
		writeError(w, http.StatusBadGateway, apperrors.UserMessage(gateway.Classify(err)))
		return
	}
	defer audio.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	if _, err := io.Copy(w, audio); err != nil {
		logger.L.Warn("speech stream interrupted", "error", err)
	}
}

// readQuery accepts a JSON body or a multipart form with "query" and an optional "file".
func readQuery(r *http.Request) (string, *ingest.Attachment, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if isTooLarge(err) {
				return "", nil, err
			}
			return "", nil, errors.New("invalid JSON body")
		}
		return req.Query, nil, nil
	}

	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return "", nil, err
	}
	query := r.FormValue("query")

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return query, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("read file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read file: %w", err)
	}
	return query, &ingest.Attachment{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// readAudio accepts a multipart "audio" file or a raw audio body.
func readAudio(r *http.Request) (string, io.Reader, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return "", nil, err
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			return "", nil, fmt.Errorf("read audio: %w", err)
		}
		return header.Filename, file, nil
	}

	ext := ".webm"
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		ext = exts[0]
	}
	return path.Base("speech" + ext), r.Body, nil
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func nonNil(msgs []conversation.Message) []conversation.Message {
	if msgs == nil {
		return []conversation.Message{}
	}
	return msgs
}
