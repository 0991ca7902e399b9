package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"regchat/chunking"
	"regchat/rag"
	"regchat/security"
	"regchat/store"
	"regchat/vectordb"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 26)
		for _, r := range strings.ToLower(t) {
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			}
		}
		out[i] = v
	}
	return out, nil
}

type stubGenerator struct {
	reply string
}

func (g *stubGenerator) Generate(context.Context, string) (string, error) {
	return g.reply, nil
}

const guideHTML = `<html><body>
<details>
  <h2>Registering in Quebec</h2>
  <p>Step 1: Create your account</p>
  <ul><li>Open the registration portal and sign up.</li></ul>
  <div class="py-2 flex justify-center items-center">
    <img src="/images/step1.png">
  </div>
</details>
</body></html>`

type testServer struct {
	*Server
	pipeline *rag.Pipeline
}

func newTestServer(t *testing.T, reply string, maxCalls int) *testServer {
	t.Helper()

	ix, err := vectordb.Open(vectordb.Config{Collection: "test", InMemory: true}, stubEmbedder{})
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	pipeline := rag.NewPipeline(ix, &stubGenerator{reply: reply}, chunking.DefaultConfig(), rag.DefaultConfig())
	if _, err := pipeline.IndexHTML(context.Background(), strings.NewReader(guideHTML)); err != nil {
		t.Fatalf("index guide: %v", err)
	}

	users, err := store.Open(context.Background(), "file:"+filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { users.Close() })

	srv := New(
		pipeline,
		users,
		security.NewLimiter(maxCalls, time.Minute),
		security.NewAuditor(io.Discard),
		false,
	)
	return &testServer{Server: srv, pipeline: pipeline}
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	s := newTestServer(t, "Open the portal and sign up.", 100)
	h := s.Handler()

	rec := postJSON(t, h, "/api/chat", `{"query": "How do I create my account?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TextResponse != "Open the portal and sign up." {
		t.Errorf("text_response = %q", resp.TextResponse)
	}
	if len(resp.Images) != 1 || resp.Images[0].URL != "/images/step1.png" {
		t.Errorf("images = %+v", resp.Images)
	}
}

func TestChatEndpointSanitizesOutput(t *testing.T) {
	s := newTestServer(t, "write to admin@example.com for help", 100)

	rec := postJSON(t, s.Handler(), "/api/chat", `{"query": "who do I contact?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if strings.Contains(resp.TextResponse, "admin@example.com") {
		t.Errorf("email not redacted: %q", resp.TextResponse)
	}
	if !strings.Contains(resp.TextResponse, "[EMAIL REDACTED]") {
		t.Errorf("missing redaction marker: %q", resp.TextResponse)
	}
}

func TestChatEndpointRejectsInvalidInput(t *testing.T) {
	s := newTestServer(t, "unused", 100)
	h := s.Handler()

	for name, body := range map[string]string{
		"empty query":  `{"query": ""}`,
		"denylist hit": `{"query": "<script>alert(1)</script>"}`,
		"not json":     `{"query": `,
	} {
		rec := postJSON(t, h, "/api/chat", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
		var resp errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Errorf("%s: decode: %v", name, err)
			continue
		}
		if resp.Error == "" {
			t.Errorf("%s: missing error message", name)
		}
	}
}

func TestChatEndpointRateLimit(t *testing.T) {
	s := newTestServer(t, "fine", 1)
	h := s.Handler()

	rec := postJSON(t, h, "/api/chat", `{"query": "first"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}

	rec = postJSON(t, h, "/api/chat", `{"query": "second"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RetryAfter < 1 {
		t.Errorf("retry_after = %d, want at least 1", resp.RetryAfter)
	}
}

func TestChatEndpointSeparatesClients(t *testing.T) {
	s := newTestServer(t, "fine", 1)
	h := s.Handler()

	first := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query": "q"}`))
	first.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first client: status = %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query": "q"}`))
	second.Header.Set("X-Forwarded-For", "203.0.113.8")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, second)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client throttled by the first: status = %d", rec.Code)
	}
}

func TestRegisterEndpoint(t *testing.T) {
	s := newTestServer(t, "unused", 100)
	h := s.Handler()

	rec := postJSON(t, h, "/api/users", `{"username": "alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp RegisterResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Error("success = false, want true")
	}

	rec = postJSON(t, h, "/api/users", `{"username": "alice"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: status = %d, want 409", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Message != "Username already taken" {
		t.Errorf("duplicate response = %+v", resp)
	}
}

func TestRegisterEndpointInvalidUsername(t *testing.T) {
	s := newTestServer(t, "unused", 100)
	h := s.Handler()

	for _, body := range []string{
		`{"username": "ab"}`,
		`{"username": "has space"}`,
		`{"username": ""}`,
	} {
		rec := postJSON(t, h, "/api/users", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, "unused", 100)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %v", resp["status"])
	}
	if resp["retrievable"] != true {
		t.Errorf("retrievable = %v, want true", resp["retrievable"])
	}
}

func TestWebSocketRelay(t *testing.T) {
	s := newTestServer(t, "Open the portal and sign up.", 100)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("How do I create my account?")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(reply) != "Open the portal and sign up." {
		t.Errorf("reply = %q", reply)
	}

	// Invalid messages come back error-prefixed on the same connection.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("   ")); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	_, reply, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read after invalid: %v", err)
	}
	if !strings.HasPrefix(string(reply), "error: ") {
		t.Errorf("invalid message reply = %q, want error prefix", reply)
	}
}
