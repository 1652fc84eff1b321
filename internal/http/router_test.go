package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/render-bridge/internal/server"
	"github.com/saker-ai/render-bridge/internal/ws"
	"github.com/saker-ai/render-bridge/pkg/protocol"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeController struct {
	mu       sync.Mutex
	running  bool
	startErr error
	starts   int
}

func (f *fakeController) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) Stop() error {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Status() server.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return server.Status{Running: f.running, Port: 8765, Render: server.RenderStatus{State: "idle"}}
}

func newTestRouter(ctl Controller) *gin.Engine {
	events := ws.NewHandler(zap.NewNop(), ctl, 20*time.Millisecond)
	return NewRouter(ctl, events, zap.NewNop())
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(&fakeController{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("body=%s, want ok", w.Body.String())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctl := &fakeController{}
	router := newTestRouter(ctl)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/server/start", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("start status=%d, want %d", w.Code, http.StatusOK)
	}
	var status server.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Fatal("running=false after start")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/server/stop", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("stop status=%d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Running {
		t.Fatal("running=true after stop")
	}
}

func TestStartFailureReportsCode(t *testing.T) {
	ctl := &fakeController{startErr: protocol.NewError(protocol.CodeServerStartFailed, "bind 127.0.0.1:8765: address already in use")}
	router := newTestRouter(ctl)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/server/start", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body struct {
		Status  string `json:"status"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != string(protocol.CodeServerStartFailed) || body.Status != protocol.StatusError {
		t.Fatalf("body=%+v, want ServerStartFailed error", body)
	}
}

func TestPanelIndex(t *testing.T) {
	router := newTestRouter(&fakeController{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "Render Bridge") {
		t.Fatal("index page missing title")
	}
}

func TestEventsStream(t *testing.T) {
	ctl := &fakeController{running: true}
	srv := httptest.NewServer(newTestRouter(ctl))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first struct {
		Type   string         `json:"type"`
		Status *server.Status `json:"status"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first event: %v", err)
	}
	if first.Type != "status" || first.Status == nil || !first.Status.Running {
		t.Fatalf("first event=%+v, want running status", first)
	}

	if err := conn.WriteJSON(map[string]string{"type": "heartbeat"}); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	for {
		var ev struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Type == "pong" {
			return
		}
		if ev.Type != "status" {
			t.Fatalf("event type=%s, want status or pong", ev.Type)
		}
	}
}
