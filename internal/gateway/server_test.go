package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terminusdev/terminus/internal/bus"
	"github.com/terminusdev/terminus/internal/sandbox"
	"github.com/terminusdev/terminus/internal/sanitize"
	"github.com/terminusdev/terminus/internal/sessions"
	"github.com/terminusdev/terminus/internal/workflow"
)

type echoPlanner struct{}

func (echoPlanner) Plan(ctx context.Context, userGoal, sessionID, previousResponseID string) ([]string, error) {
	return []string{userGoal}, nil
}

type echoTranslator struct{}

func (echoTranslator) Translate(ctx context.Context, subTask, sessionID string) (string, error) {
	return "echo " + subTask, nil
}

func newTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	reg := sessions.New(0)
	b := bus.New()
	ex := sandbox.New("sandboxuser", true, sanitize.Options{MaxLen: 2000})
	eng := workflow.New(echoPlanner{}, echoTranslator{}, ex, b, workflow.Config{})
	srv := New("", reg, b, eng, Readiness{Ready: true})
	ts := httptest.NewServer(srv.BuildMux())
	return ts, ts.Close
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env map[string]any
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return env
}

func TestConnectEmitsStatusConnected(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()

	conn := dialWS(t, ts)
	defer conn.Close()

	env := readEnvelope(t, conn)
	if env["type"] != "status" {
		t.Fatalf("type = %v, want status", env["type"])
	}
}

func TestExecuteGoalValidationError(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()

	conn := dialWS(t, ts)
	defer conn.Close()
	readEnvelope(t, conn) // status{connected}

	conn.WriteJSON(map[string]any{"type": "execute_goal", "payload": map[string]any{"goal": ""}})

	env := readEnvelope(t, conn)
	if env["type"] != "error_detected" {
		t.Fatalf("type = %v, want error_detected", env["type"])
	}
	payload := env["payload"].(map[string]any)
	if payload["failed_step"] != "validate" {
		t.Errorf("failed_step = %v, want validate", payload["failed_step"])
	}
}

func TestExecuteGoalHappyPath(t *testing.T) {
	ts, closeFn := newTestServer(t)
	defer closeFn()

	conn := dialWS(t, ts)
	defer conn.Close()
	readEnvelope(t, conn) // status{connected}

	conn.WriteJSON(map[string]any{"type": "execute_goal", "payload": map[string]any{"goal": "print hello"}})

	var sawPlan, sawComplete bool
	for i := 0; i < 10; i++ {
		env := readEnvelope(t, conn)
		switch env["type"] {
		case "plan_generated":
			sawPlan = true
		case "workflow_complete":
			sawComplete = true
		}
		if sawComplete {
			break
		}
	}
	if !sawPlan || !sawComplete {
		t.Errorf("sawPlan=%v sawComplete=%v", sawPlan, sawComplete)
	}
}

func TestRateLimitRejectsSecondRequest(t *testing.T) {
	reg := sessions.New(60) // 60s min interval, effectively always limited on 2nd
	b := bus.New()
	ex := sandbox.New("sandboxuser", true, sanitize.Options{MaxLen: 2000})
	eng := workflow.New(echoPlanner{}, echoTranslator{}, ex, b, workflow.Config{})
	srv := New("", reg, b, eng, Readiness{Ready: true})
	ts := httptest.NewServer(srv.BuildMux())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()
	readEnvelope(t, conn) // status{connected}

	conn.WriteJSON(map[string]any{"type": "execute_goal", "payload": map[string]any{"goal": "print hello"}})
	readEnvelope(t, conn) // plan_generated from first request

	conn.WriteJSON(map[string]any{"type": "execute_goal", "payload": map[string]any{"goal": "print hello again"}})

	var found bool
	for i := 0; i < 10; i++ {
		env := readEnvelope(t, conn)
		if env["type"] == "error_detected" {
			payload := env["payload"].(map[string]any)
			if payload["failed_step"] == "rate_limit" {
				found = true
				break
			}
		}
	}
	if !found {
		t.Error("expected a rate_limit error_detected event")
	}
}
