package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/zapup-go/internal/catalog"
	"github.com/comigor/zapup-go/internal/config"
	"github.com/comigor/zapup-go/internal/conversation"
	apperrors "github.com/comigor/zapup-go/internal/errors"
	"github.com/comigor/zapup-go/internal/ingest"
	"github.com/comigor/zapup-go/internal/session"
	"github.com/comigor/zapup-go/internal/voice"
)

type fakeGateway struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeGateway) Send(_ context.Context, modelID, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, modelID+"|"+prompt)
	started, release := f.started, f.release
	f.mu.Unlock()
	if started != nil {
		close(started)
		<-release
	}
	return f.reply, f.err
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, att ingest.Attachment) (string, error) {
	return string(att.Data), nil
}

type fakeTranscriber struct {
	text  string
	got   []byte
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	f.calls++
	f.got, _ = io.ReadAll(audio)
	return f.text, nil
}

type fakeSynthesizer struct{ last voice.Utterance }

func (f *fakeSynthesizer) Synthesize(_ context.Context, u voice.Utterance) (io.ReadCloser, error) {
	f.last = u
	return io.NopCloser(strings.NewReader("ID3audio")), nil
}

type testEnv struct {
	srv         *httptest.Server
	sessions    *session.Manager
	gw          *fakeGateway
	transcriber *fakeTranscriber
	synthesizer *fakeSynthesizer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, "", 1<<20)
}

func newTestEnvWith(t *testing.T, defaultModel string, maxUpload int64) *testEnv {
	t.Helper()
	gw := &fakeGateway{reply: "Paris"}
	cat := catalog.New(config.CatalogConfig{})
	sessions := session.NewManager(session.Deps{
		Gateway:      gw,
		Ingestor:     fakeExtractor{},
		Catalog:      cat,
		DefaultModel: defaultModel,
		Backend:      config.HistoryMemory,
		Voice:        voice.DefaultSettings(),
	}, 0)
	t.Cleanup(func() { sessions.Close() })

	env := &testEnv{sessions: sessions, gw: gw, transcriber: &fakeTranscriber{text: "what time is it"}, synthesizer: &fakeSynthesizer{}}
	env.srv = httptest.NewServer(New(sessions, cat, env.transcriber, env.synthesizer, maxUpload).Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/sessions", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var s sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	require.Equal(t, catalog.DefaultModel, s.Model)
	return s.ID
}

func sessionOf(t *testing.T, e *testEnv, id string) *session.Session {
	t.Helper()
	sess, err := e.sessions.Get(id)
	require.NoError(t, err)
	return sess
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestModels_Search(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/models?q=GEMMA", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[modelsResponse](t, resp)
	require.Equal(t, catalog.DefaultModel, body.Default)
	require.NotEmpty(t, body.Options)
	require.NotEmpty(t, body.Providers)
	for _, p := range body.Providers {
		require.NotEmpty(t, p.Models)
		for _, m := range p.Models {
			require.Contains(t, strings.ToLower(m), "gemma")
		}
	}
}

func TestModels_ReportsConfiguredDefault(t *testing.T) {
	env := newTestEnvWith(t, "gemma2-9b-it", 1<<20)

	resp := env.do(t, http.MethodGet, "/api/models", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "gemma2-9b-it", decode[modelsResponse](t, resp).Default)

	resp = env.do(t, http.MethodPost, "/api/sessions", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "gemma2-9b-it", decode[sessionResponse](t, resp).Model)
}

func TestQuery_JSON(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/query", "application/json", strings.NewReader(`{"query":"capital of France"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[queryResponse](t, resp)
	require.Equal(t, conversation.RoleAssistant, body.Reply.Role)
	require.Equal(t, "Paris", body.Reply.Text)
	require.Len(t, body.Messages, 2)
	require.Equal(t, "capital of France", body.Messages[1].Text)
	require.Equal(t, []string{catalog.DefaultModel + "|capital of France"}, env.gw.prompts)

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/messages", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decode[transcriptResponse](t, resp)
	require.Len(t, tr.Messages, 2)
	require.False(t, tr.Typing)
	require.False(t, tr.Busy)
}

func TestQuery_MultipartWithFile(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("query", "summarize"))
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("line one"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/query", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{catalog.DefaultModel + "|summarize\nFile Content: line one"}, env.gw.prompts)
}

func TestQuery_Rejections(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/query", "application/json", strings.NewReader(`{"query":"   "}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/sessions/missing/query", "application/json", strings.NewReader(`{"query":"hi"}`))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/sessions/"+id+"/query", "application/json", strings.NewReader(`{`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, env.gw.prompts)
}

func TestQuery_BusySessionConflicts(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	env.gw.started = make(chan struct{})
	env.gw.release = make(chan struct{})

	done := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/sessions/"+id+"/query", strings.NewReader(`{"query":"first"}`))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-env.gw.started

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/query", "application/json", strings.NewReader(`{"query":"second"}`))
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	close(env.gw.release)
	require.Equal(t, http.StatusOK, <-done)
}

func TestQuery_FailureIsReportedInTranscript(t *testing.T) {
	env := newTestEnv(t)
	env.gw.err = apperrors.NewNetworkError(errors.New("connection reset"))
	id := env.createSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/query", "application/json", strings.NewReader(`{"query":"hi"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[queryResponse](t, resp)
	require.Equal(t, conversation.RoleError, body.Reply.Role)
	require.Equal(t, "Error: No response received from the server. Please check your network.", body.Reply.Text)
}

func TestSelectModel(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp := env.do(t, http.MethodPut, "/api/sessions/"+id+"/model", "application/json", strings.NewReader(`{"model":"gemma2-9b-it"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "gemma2-9b-it", decode[sessionResponse](t, resp).Model)

	resp = env.do(t, http.MethodPut, "/api/sessions/"+id+"/model", "application/json", strings.NewReader(`{"model":"no-such-model"}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/sessions/"+id+"/query", "application/json", strings.NewReader(`{"query":"hi"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"gemma2-9b-it|hi"}, env.gw.prompts)
}

func TestVoiceSettings(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp := env.do(t, http.MethodPut, "/api/sessions/"+id+"/voice", "application/json", strings.NewReader(`{"rate":1.5}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[voice.Settings](t, resp)
	require.Equal(t, 1.5, got.Rate)
	require.Equal(t, 1.0, got.Pitch)

	resp = env.do(t, http.MethodPut, "/api/sessions/"+id+"/voice", "application/json", strings.NewReader(`{"pitch":3}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/voice", "", nil)
	require.Equal(t, 1.0, decode[voice.Settings](t, resp).Pitch)
}

func TestSpeech_TranscribesAndSubmits(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/speech", "audio/webm", strings.NewReader("RIFFclip"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[queryResponse](t, resp)
	require.Equal(t, "what time is it", body.Transcript)
	require.Equal(t, "Paris", body.Reply.Text)
	require.Equal(t, []byte("RIFFclip"), env.transcriber.got)
	require.Equal(t, []string{catalog.DefaultModel + "|what time is it"}, env.gw.prompts)
}

func TestSpeech_LeavesDraftAlone(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	sess := sessionOf(t, env, id)
	sess.Orchestrator.SetDraft("half typed")

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/speech", "audio/webm", strings.NewReader("clip"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "what time is it", decode[queryResponse](t, resp).Transcript)
	require.Equal(t, []string{catalog.DefaultModel + "|what time is it"}, env.gw.prompts)
	require.Equal(t, "half typed", sess.Orchestrator.Draft())
}

func TestSpeech_TooLarge(t *testing.T) {
	env := newTestEnvWith(t, "", 16)
	id := env.createSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/speech", "audio/webm", strings.NewReader(strings.Repeat("a", 64)))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.webm")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte("a"), 64))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp = env.do(t, http.MethodPost, "/api/sessions/"+id+"/speech", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Zero(t, env.transcriber.calls)
	require.Empty(t, env.gw.prompts)
}

func TestSpeak(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp := env.do(t, http.MethodPut, "/api/sessions/"+id+"/voice", "application/json", strings.NewReader(`{"rate":0.5,"pitch":2}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/speak", "application/json", strings.NewReader(`{"text":"hello","session":"`+id+`"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	audio, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ID3audio", string(audio))
	require.Equal(t, voice.Utterance{Text: "hello", Rate: 0.5, Pitch: 2, Volume: 1}, env.synthesizer.last)

	resp = env.do(t, http.MethodPut, "/api/sessions/"+id+"/voice", "application/json", strings.NewReader(`{"muted":true}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/speak", "application/json", strings.NewReader(`{"text":"hello","session":"`+id+`"}`))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp := env.do(t, http.MethodDelete, "/api/sessions/"+id, "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/sessions/"+id+"/messages", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
