package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/terminusdev/terminus/internal/sandbox"
	"github.com/terminusdev/terminus/pkg/protocol"
)

type fakePlanner struct {
	plans []func(goal string) ([]string, error)
	calls int
}

func (f *fakePlanner) Plan(ctx context.Context, userGoal, sessionID, previousResponseID string) ([]string, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.plans) {
		return nil, errors.New("no more fake plans configured")
	}
	return f.plans[idx](userGoal)
}

type fakeTranslator struct {
	mapping map[string]string
}

func (f *fakeTranslator) Translate(ctx context.Context, subTask, sessionID string) (string, error) {
	if cmd, ok := f.mapping[subTask]; ok {
		return cmd, nil
	}
	return "echo noop", nil
}

type fakeExecutor struct {
	results map[string]sandbox.Result
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd string) sandbox.Result {
	if res, ok := f.results[cmd]; ok {
		return res
	}
	return sandbox.Result{ExitCode: 0}
}

type recordingBus struct {
	mu     sync.Mutex
	events []protocol.Envelope
}

func (b *recordingBus) Emit(ctx context.Context, clientID, eventType string, payload any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, protocol.NewEnvelope(eventType, payload))
	return true
}

func (b *recordingBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

func TestHappyPathEventOrder(t *testing.T) {
	planner := &fakePlanner{plans: []func(string) ([]string, error){
		func(goal string) ([]string, error) { return []string{"print hello"}, nil },
	}}
	translator := &fakeTranslator{mapping: map[string]string{"print hello": "echo hello"}}
	executor := &fakeExecutor{results: map[string]sandbox.Result{
		"echo hello": {Stdout: "hello\n", ExitCode: 0},
	}}
	bus := &recordingBus{}

	eng := New(planner, translator, executor, bus, Config{})
	eng.Run(context.Background(), "client-1", "print hello")

	got := bus.types()
	want := []string{
		protocol.EventPlanGenerated,
		protocol.EventStepExecuting,
		protocol.EventStepResult,
		protocol.EventWorkflowComplete,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFailureTriggersReplanThenComplete(t *testing.T) {
	planner := &fakePlanner{plans: []func(string) ([]string, error){
		func(goal string) ([]string, error) {
			return []string{"print hello", "cause failure", "remediate", "done"}, nil
		},
		func(goal string) ([]string, error) { return []string{"done"}, nil },
	}}
	translator := &fakeTranslator{mapping: map[string]string{
		"print hello":   "echo hello",
		"cause failure": "bash -lc 'exit 1'",
		"remediate":     "echo remediate",
		"done":          "echo done",
	}}
	executor := &fakeExecutor{results: map[string]sandbox.Result{
		"echo hello":           {Stdout: "hello\n", ExitCode: 0},
		"bash -lc 'exit 1'":    {Stderr: "boom", ExitCode: 1},
		"echo done":            {Stdout: "done\n", ExitCode: 0},
	}}
	bus := &recordingBus{}

	eng := New(planner, translator, executor, bus, Config{})
	eng.Run(context.Background(), "client-1", "print hello -> cause failure -> remediate -> done")

	got := bus.types()
	errorIdx, replanIdx, newPlanIdx, completeIdx := -1, -1, -1, -1
	for i, ty := range got {
		switch ty {
		case protocol.EventErrorDetected:
			if errorIdx == -1 {
				errorIdx = i
			}
		case protocol.EventRePlanning:
			replanIdx = i
		case protocol.EventWorkflowComplete:
			completeIdx = i
		}
	}
	for i := replanIdx + 1; i < len(got); i++ {
		if got[i] == protocol.EventPlanGenerated {
			newPlanIdx = i
			break
		}
	}
	if errorIdx == -1 || replanIdx == -1 || newPlanIdx == -1 || completeIdx == -1 {
		t.Fatalf("missing expected events: %v", got)
	}
	if !(errorIdx < replanIdx && replanIdx < newPlanIdx && newPlanIdx < completeIdx) {
		t.Errorf("wrong event ordering: error=%d replan=%d newPlan=%d complete=%d (trace=%v)",
			errorIdx, replanIdx, newPlanIdx, completeIdx, got)
	}
	if got[len(got)-1] != protocol.EventWorkflowComplete {
		t.Errorf("last event = %q, want workflow_complete (exactly one terminal event)", got[len(got)-1])
	}
}

func TestValidationErrorEmitsExactlyOneEvent(t *testing.T) {
	bus := &recordingBus{}
	eng := New(&fakePlanner{}, &fakeTranslator{}, &fakeExecutor{}, bus, Config{})
	eng.Run(context.Background(), "client-1", "   ")

	got := bus.types()
	if len(got) != 1 || got[0] != protocol.EventErrorDetected {
		t.Fatalf("events = %v, want exactly one error_detected", got)
	}
	payload := bus.events[0].Payload.(protocol.ErrorDetectedPayload)
	if payload.FailedStep != "validate" {
		t.Errorf("FailedStep = %q, want validate", payload.FailedStep)
	}
}

func TestPlannerFailureIsTerminal(t *testing.T) {
	planner := &fakePlanner{} // no plans configured => Plan always errors
	bus := &recordingBus{}
	eng := New(planner, &fakeTranslator{}, &fakeExecutor{}, bus, Config{})
	eng.Run(context.Background(), "client-1", "do something")

	got := bus.types()
	if len(got) != 1 || got[0] != protocol.EventErrorDetected {
		t.Fatalf("events = %v, want exactly one error_detected", got)
	}
}

func TestCancellationEmitsCancelledAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus := &recordingBus{}
	eng := New(&fakePlanner{}, &fakeTranslator{}, &fakeExecutor{}, bus, Config{})
	eng.Run(ctx, "client-1", "print hello")

	got := bus.types()
	if len(got) != 1 || got[0] != protocol.EventErrorDetected {
		t.Fatalf("events = %v, want exactly one error_detected (cancelled)", got)
	}
	payload := bus.events[0].Payload.(protocol.ErrorDetectedPayload)
	if payload.FailedStep != "cancel" {
		t.Errorf("FailedStep = %q, want cancel", payload.FailedStep)
	}
}

func TestReplanBudgetExhaustionIsTerminal(t *testing.T) {
	planner := &fakePlanner{plans: []func(string) ([]string, error){
		func(goal string) ([]string, error) { return []string{"cause failure"}, nil },
	}}
	// Every re-plan call returns the same failing single-step plan again.
	for i := 0; i < 3; i++ {
		planner.plans = append(planner.plans, func(goal string) ([]string, error) {
			return []string{"cause failure"}, nil
		})
	}
	translator := &fakeTranslator{mapping: map[string]string{"cause failure": "bash -lc 'exit 1'"}}
	executor := &fakeExecutor{results: map[string]sandbox.Result{
		"bash -lc 'exit 1'": {Stderr: "boom", ExitCode: 1},
	}}
	bus := &recordingBus{}

	eng := New(planner, translator, executor, bus, Config{MaxReplans: 2})
	eng.Run(context.Background(), "client-1", "cause failure")

	last := bus.events[len(bus.events)-1]
	if last.Type != protocol.EventErrorDetected {
		t.Fatalf("last event = %v, want error_detected", last)
	}
	payload := last.Payload.(protocol.ErrorDetectedPayload)
	if payload.Error == "" {
		t.Error("expected a budget-exhaustion error message")
	}
}

func TestDirectCommandSkipsTranslator(t *testing.T) {
	planner := &fakePlanner{plans: []func(string) ([]string, error){
		func(goal string) ([]string, error) { return []string{"echo direct"}, nil },
	}}
	translator := &fakeTranslator{} // would return "echo noop" if called
	executor := &fakeExecutor{results: map[string]sandbox.Result{
		"echo direct": {Stdout: "direct\n", ExitCode: 0},
	}}
	bus := &recordingBus{}

	eng := New(planner, translator, executor, bus, Config{})
	eng.Run(context.Background(), "client-1", "run echo direct")

	for _, env := range bus.events {
		if env.Type == protocol.EventStepExecuting {
			payload := env.Payload.(protocol.StepExecutingPayload)
			if *payload.Command != "echo direct" {
				t.Errorf("Command = %q, want echo direct (direct command should bypass translator)", *payload.Command)
			}
		}
	}
}
