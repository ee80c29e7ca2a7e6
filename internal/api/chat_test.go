package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/casaviva/hestia/internal/cascade"
	"github.com/casaviva/hestia/internal/provider"
	"github.com/casaviva/hestia/internal/session"
	"github.com/casaviva/hestia/internal/storage"
)

// stubRunner satisfies session.Orchestrator with a canned result.
type stubRunner struct {
	outcome cascade.Outcome
	err     error
}

func (s *stubRunner) Run(ctx context.Context, candidates []string, messages []provider.Message, opts provider.ChatOptions) (cascade.Outcome, error) {
	if s.err != nil {
		return cascade.Outcome{}, s.err
	}
	return s.outcome, nil
}

type stubLister struct {
	models []provider.Model
	err    error
}

func (s *stubLister) ListModels(ctx context.Context) ([]provider.Model, error) {
	return s.models, s.err
}

func freeCatalog() []provider.Model {
	return []provider.Model{
		{ID: "org/small", ContextWindow: 8000},
		{ID: "org/big", ContextWindow: 128000, Capabilities: []provider.Capability{provider.CapFunctionCalling}},
		{ID: "org/paid", ContextWindow: 128000, Pricing: provider.Pricing{Prompt: 0.02}},
	}
}

func newTestDeps(t *testing.T, runner *stubRunner, withStore bool) Deps {
	t.Helper()

	mgr := session.NewManager(func() *session.Session {
		return session.New(session.StaticSource{"org/big"}, runner)
	})

	deps := Deps{
		Lister:    &stubLister{models: freeCatalog()},
		Sessions:  mgr,
		MaxModels: 5,
		APIToken:  "secret-token",
	}
	if withStore {
		store, err := storage.Open(":memory:")
		if err != nil {
			t.Fatalf("opening store: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		deps.Store = store
	}
	return deps
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubRunner{}, false))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestModels_RankedFreeOnly(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubRunner{}, false))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data []rankedModel `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("len = %d, want 2 (paid model excluded)", len(resp.Data))
	}
	if resp.Data[0].ID != "org/big" || resp.Data[1].ID != "org/small" {
		t.Errorf("order = [%s %s], want best first", resp.Data[0].ID, resp.Data[1].ID)
	}
	if resp.Data[0].Score <= resp.Data[1].Score {
		t.Errorf("scores not descending: %d <= %d", resp.Data[0].Score, resp.Data[1].Score)
	}
}

func TestModels_UpstreamError(t *testing.T) {
	deps := newTestDeps(t, &stubRunner{}, false)
	deps.Lister = &stubLister{err: &provider.NetworkError{Op: "GET /models", Err: fmt.Errorf("refused")}}
	h := NewHandler(deps)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestChat_Success(t *testing.T) {
	runner := &stubRunner{outcome: cascade.Outcome{ModelID: "org/big", Text: "hello!", Attempts: 1}}
	deps := newTestDeps(t, runner, true)
	h := NewHandler(deps)

	w := postChat(t, h, `{"message":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success || resp.Text != "hello!" || resp.ModelID != "org/big" {
		t.Errorf("response = %+v", resp)
	}
	if resp.SessionID == "" {
		t.Fatal("expected an allocated session_id")
	}

	// Same session accumulates history.
	w = postChat(t, h, fmt.Sprintf(`{"session_id":%q,"message":"again"}`, resp.SessionID))
	if w.Code != http.StatusOK {
		t.Fatalf("second chat status = %d", w.Code)
	}

	hw := httptest.NewRecorder()
	h.ServeHTTP(hw, httptest.NewRequest(http.MethodGet, "/v1/sessions/"+resp.SessionID+"/history", nil))
	if hw.Code != http.StatusOK {
		t.Fatalf("history status = %d", hw.Code)
	}
	var hist struct {
		History []session.Message `json:"history"`
	}
	if err := json.Unmarshal(hw.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if len(hist.History) != 4 {
		t.Errorf("history length = %d, want 4", len(hist.History))
	}

	// Exchange was logged.
	exchanges, err := deps.Store.RecentExchanges(10)
	if err != nil {
		t.Fatalf("RecentExchanges: %v", err)
	}
	if len(exchanges) != 2 {
		t.Errorf("exchange count = %d, want 2", len(exchanges))
	}
	if exchanges[0].Status != "completed" || exchanges[0].ModelID != "org/big" {
		t.Errorf("exchange = %+v", exchanges[0])
	}
}

func TestChat_FailureRecorded(t *testing.T) {
	runner := &stubRunner{err: &cascade.AllFailedError{Attempts: []cascade.Attempt{
		{ModelID: "org/big", Kind: provider.KindTimeout, Message: "timed out", At: time.Now()},
	}}}
	deps := newTestDeps(t, runner, true)
	h := NewHandler(deps)

	w := postChat(t, h, `{"message":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (failure is a tagged result)", w.Code)
	}

	var resp chatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Success {
		t.Fatal("expected a failed result")
	}
	if resp.ErrorKind != provider.KindAllFailed || len(resp.Failures) != 1 {
		t.Errorf("response = %+v", resp)
	}

	exchanges, err := deps.Store.RecentExchanges(10)
	if err != nil {
		t.Fatalf("RecentExchanges: %v", err)
	}
	if len(exchanges) != 1 || exchanges[0].Status != "failed" {
		t.Fatalf("exchanges = %+v, want one failed record", exchanges)
	}
	if exchanges[0].ErrorKind != string(provider.KindAllFailed) || exchanges[0].AttemptsJSON == "" {
		t.Errorf("failure fields = %q/%q", exchanges[0].ErrorKind, exchanges[0].AttemptsJSON)
	}
}

func TestChat_MissingMessage(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubRunner{}, false))

	w := postChat(t, h, `{"session_id":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChat_OneOffLeavesNoSession(t *testing.T) {
	runner := &stubRunner{outcome: cascade.Outcome{ModelID: "org/big", Text: "42", Attempts: 1}}
	deps := newTestDeps(t, runner, false)
	h := NewHandler(deps)

	w := postChat(t, h, `{"message":"hi","one_off":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp chatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.SessionID != "" {
		t.Errorf("SessionID = %q, want empty for one-off", resp.SessionID)
	}
	if deps.Sessions.Len() != 0 {
		t.Errorf("session count = %d, want 0", deps.Sessions.Len())
	}
}

func TestDeleteSession(t *testing.T) {
	runner := &stubRunner{outcome: cascade.Outcome{ModelID: "org/big", Text: "hey", Attempts: 1}}
	h := NewHandler(newTestDeps(t, runner, false))

	w := postChat(t, h, `{"message":"hi"}`)
	var resp chatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	dw := httptest.NewRecorder()
	h.ServeHTTP(dw, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+resp.SessionID, nil))
	if dw.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", dw.Code)
	}

	dw = httptest.NewRecorder()
	h.ServeHTTP(dw, httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+resp.SessionID, nil))
	if dw.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", dw.Code)
	}
}

func TestHistory_UnknownSession(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubRunner{}, false))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/nope/history", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestExchanges_RequiresToken(t *testing.T) {
	runner := &stubRunner{outcome: cascade.Outcome{ModelID: "org/big", Text: "hey", Attempts: 1}}
	deps := newTestDeps(t, runner, true)
	h := NewHandler(deps)

	postChat(t, h, `{"message":"hi"}`)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/exchanges", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/exchanges?limit=5", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data []storage.Exchange `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Errorf("exchange count = %d, want 1", len(resp.Data))
	}
}

func TestExchanges_InvalidLimit(t *testing.T) {
	deps := newTestDeps(t, &stubRunner{}, true)
	h := NewHandler(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/exchanges?limit=zero", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
