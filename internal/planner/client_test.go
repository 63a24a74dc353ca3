package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOfflinePlanSingleStep(t *testing.T) {
	c := New(Options{Offline: true})
	plan, err := c.Plan(context.Background(), "print hello", "sess1", "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 1 || plan[0] != "print hello" {
		t.Errorf("plan = %v, want [\"print hello\"]", plan)
	}
}

func TestOfflinePlanCompoundGoal(t *testing.T) {
	c := New(Options{Offline: true})
	plan, err := c.Plan(context.Background(), "print hello -> cause failure -> remediate -> done", "sess1", "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := []string{"print hello", "cause failure", "remediate", "done"}
	if len(plan) != len(want) {
		t.Fatalf("plan = %v, want %v", plan, want)
	}
	for i := range want {
		if plan[i] != want[i] {
			t.Errorf("plan[%d] = %q, want %q", i, plan[i], want[i])
		}
	}
}

func TestParsePlanTextJSON(t *testing.T) {
	got := parsePlanText(`{"plan": ["step one", "step two"]}`)
	if len(got) != 2 || got[0] != "step one" || got[1] != "step two" {
		t.Errorf("parsePlanText = %v", got)
	}
}

func TestParsePlanTextBareArray(t *testing.T) {
	got := parsePlanText(`["a", "b", "c"]`)
	if len(got) != 3 {
		t.Errorf("parsePlanText = %v, want 3 items", got)
	}
}

func TestParsePlanTextBulletFallback(t *testing.T) {
	got := parsePlanText("- first step\n* second step\n1. third step\n")
	want := []string{"first step", "second step", "third step"}
	if len(got) != len(want) {
		t.Fatalf("parsePlanText = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRoundTripPlanParsing(t *testing.T) {
	original := []string{"s1", "s2", "s3"}
	encoded, _ := json.Marshal(map[string]any{"plan": original})
	got := parsePlanText(string(encoded))
	if len(got) != len(original) {
		t.Fatalf("round trip = %v, want %v", got, original)
	}
	for i := range original {
		if got[i] != original[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], original[i])
		}
	}
}

func TestPlanFallbackOnZeroSteps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"output_text": "   \n   "})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	plan, err := c.Plan(context.Background(), "do the thing", "sess1", "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 1 || plan[0] != "Analyze and begin: do the thing" {
		t.Errorf("plan = %v, want single fallback step", plan)
	}
}

func TestPlanRetriesOnTransientStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"output_text": `{"plan":["retried step"]}`})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	plan, err := c.Plan(context.Background(), "goal", "sess1", "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 1 || plan[0] != "retried step" {
		t.Errorf("plan = %v", plan)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}
