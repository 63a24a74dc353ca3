// Package workflow implements the Workflow Engine (C7): the plan ->
// step-loop -> translate -> execute -> emit -> re-plan-on-failure state
// machine. Grounded directly on agent_core/main.py's execute_goal handler
// (the re-plan prompt strings, the history[:4000] truncation, the
// step_index=0 reset, and the exact ordering of emitted events).
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/terminusdev/terminus/internal/sandbox"
	"github.com/terminusdev/terminus/pkg/protocol"
)

// maxErrorLen truncates stderr embedded into an error_detected payload, per
// spec.md §4.7 step 6 ("first 2,000 chars of stderr").
const maxErrorLen = 2000

// Planner is the subset of the planner client the engine depends on.
type Planner interface {
	Plan(ctx context.Context, userGoal, sessionID, previousResponseID string) ([]string, error)
}

// Translator is the subset of the translator client the engine depends on.
type Translator interface {
	Translate(ctx context.Context, subTask, sessionID string) (string, error)
}

// Executor is the subset of the sandbox executor the engine depends on.
type Executor interface {
	Execute(ctx context.Context, cmd string) sandbox.Result
}

// Publisher delivers one event to one client id, matching bus.Bus.Emit.
type Publisher interface {
	Emit(ctx context.Context, clientID, eventType string, payload any) bool
}

// Config bounds the engine's re-plan and history behavior, per
// SPEC_FULL.md's resolution of spec.md §9's open questions.
type Config struct {
	MaxGoalLen      int
	MaxReplans      int
	MaxHistorySteps int
}

// Engine runs one execute_goal workflow end to end.
type Engine struct {
	Planner    Planner
	Translator Translator
	Executor   Executor
	Bus        Publisher
	Config     Config
	Tracer     trace.Tracer
}

// New builds an Engine with the given collaborators.
func New(planner Planner, translator Translator, executor Executor, bus Publisher, cfg Config) *Engine {
	if cfg.MaxReplans <= 0 {
		cfg.MaxReplans = 25
	}
	if cfg.MaxHistorySteps <= 0 {
		cfg.MaxHistorySteps = 500
	}
	if cfg.MaxGoalLen <= 0 {
		cfg.MaxGoalLen = 2000
	}
	return &Engine{
		Planner:    planner,
		Translator: translator,
		Executor:   executor,
		Bus:        bus,
		Config:     cfg,
		Tracer:     otel.Tracer("terminus/workflow"),
	}
}

// run carries the mutable state of one in-flight workflow.
type run struct {
	e            *Engine
	ctx          context.Context
	clientID     string
	sessionID    string
	originalGoal string
	plan         []string
	stepIndex    int
	hist         *history
	replans      int
	cancelled    bool
}

// Run validates goal, then drives the workflow state machine to
// completion, termination, or cooperative cancellation. It never returns
// an error past this boundary: every failure path emits exactly one
// error_detected event, per spec.md §7.
func (e *Engine) Run(ctx context.Context, clientID, goal string) {
	ctx, span := e.Tracer.Start(ctx, "workflow")
	defer span.End()

	r := &run{
		e:            e,
		ctx:          ctx,
		clientID:     clientID,
		originalGoal: goal,
		hist:         newHistory(e.Config.MaxHistorySteps),
	}
	r.execute()
}

func (r *run) emit(eventType string, payload any) bool {
	return r.e.Bus.Emit(r.ctx, r.clientID, eventType, payload)
}

func categorize(category, message string) string {
	return fmt.Sprintf("[%s] %s", category, message)
}

// checkCancelled reports whether the workflow should abort, emitting the
// terminal cancelled error exactly once if so.
func (r *run) checkCancelled() bool {
	if r.cancelled {
		return true
	}
	if r.ctx.Err() == nil {
		return false
	}
	r.cancelled = true
	r.emit(protocol.EventErrorDetected, protocol.ErrorDetectedPayload{
		Error:      categorize(protocol.CategoryCancelled, r.ctx.Err().Error()),
		FailedStep: "cancel",
	})
	return true
}

// execute runs the Validating -> Planning -> step-loop state machine.
func (r *run) execute() {
	goal := strings.TrimSpace(r.originalGoal)
	if goal == "" {
		r.emit(protocol.EventErrorDetected, protocol.ErrorDetectedPayload{
			Error:      categorize(protocol.CategoryValidation, "goal must not be empty"),
			FailedStep: "validate",
		})
		return
	}
	if len(goal) > r.e.Config.MaxGoalLen {
		r.emit(protocol.EventErrorDetected, protocol.ErrorDetectedPayload{
			Error:      categorize(protocol.CategoryValidation, fmt.Sprintf("goal exceeds max length %d", r.e.Config.MaxGoalLen)),
			FailedStep: "validate",
		})
		return
	}
	r.originalGoal = goal
	r.sessionID = strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	if r.checkCancelled() {
		return
	}

	plan, err := r.e.Planner.Plan(r.ctx, goal, r.sessionID, "")
	if err != nil {
		r.emit(protocol.EventErrorDetected, protocol.ErrorDetectedPayload{
			Error:      categorize(protocol.CategoryPlanner, err.Error()),
			FailedStep: "planning",
		})
		return
	}
	r.plan = plan
	r.stepIndex = 0
	r.emit(protocol.EventPlanGenerated, protocol.PlanGeneratedPayload{Plan: r.plan})

	r.stepLoop()
}

// stepLoop drives Executing(i) -> Running(i) -> {Advance | Failing ->
// RePlanning -> Executing(0)} -> Complete.
func (r *run) stepLoop() {
	for {
		if r.checkCancelled() {
			return
		}
		if r.stepIndex >= len(r.plan) {
			r.emit(protocol.EventWorkflowComplete, protocol.WorkflowCompletePayload{Status: "success"})
			return
		}

		step := r.plan[r.stepIndex]
		command, ok := r.resolveCommand(step)
		if !ok {
			if !r.handleFailure("executor", "translation failed for step", step, "", "") {
				return
			}
			continue
		}

		if r.checkCancelled() {
			return
		}
		cmdCopy := command
		r.emit(protocol.EventStepExecuting, protocol.StepExecutingPayload{Step: step, Command: &cmdCopy})

		if r.checkCancelled() {
			return
		}
		res := r.e.Executor.Execute(r.ctx, command)
		r.emit(protocol.EventStepResult, protocol.StepResultPayload{
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
		})
		r.hist.append(Record{
			Step:           step,
			Command:        command,
			Stdout:         res.Stdout,
			Stderr:         res.Stderr,
			ExitCode:       res.ExitCode,
			SandboxLatency: res.Latency,
		})

		if res.ExitCode == 0 {
			r.stepIndex++
			continue
		}

		stderrMsg := truncate(res.Stderr, maxErrorLen)
		if stderrMsg == "" {
			stderrMsg = "unknown error"
		}
		if !r.handleFailure("sandbox", stderrMsg, step, command, res.Stderr) {
			return
		}
	}
}

// resolveCommand determines the command for step: used verbatim when it
// matches a direct-command prefix, or produced by the translator
// otherwise. Forbidden-prefix matches are treated as translator failures.
func (r *run) resolveCommand(step string) (string, bool) {
	if isForbidden(step) {
		return "", false
	}
	if isDirectCommand(step) {
		return step, true
	}

	cmd, err := r.e.Translator.Translate(r.ctx, step, r.sessionID)
	if err != nil || strings.TrimSpace(cmd) == "" || isForbidden(cmd) {
		return "", false
	}
	return cmd, true
}

// handleFailure emits the error_detected for a translator or sandbox
// failure, then re-plans. Returns false when the workflow should
// terminate (either the workflow loop has been aborted or a terminal
// error has been emitted), true when the caller should continue the step
// loop from the top.
func (r *run) handleFailure(category, errMsg, failedStep, command, fullStderr string) bool {
	r.emit(protocol.EventErrorDetected, protocol.ErrorDetectedPayload{
		Error:      categorize(category, errMsg),
		FailedStep: failedStep,
	})
	if r.checkCancelled() {
		return false
	}
	r.emit(protocol.EventRePlanning, protocol.RePlanningPayload{})

	r.replans++
	if r.replans > r.e.Config.MaxReplans {
		r.emit(protocol.EventErrorDetected, protocol.ErrorDetectedPayload{
			Error:      categorize(protocol.CategoryPlanner, fmt.Sprintf("re-plan budget exhausted after %d attempts", r.e.Config.MaxReplans)),
			FailedStep: failedStep,
		})
		return false
	}

	prompt := r.buildReplanPrompt(failedStep, errMsg, command, fullStderr)
	newPlan, err := r.e.Planner.Plan(r.ctx, prompt, r.sessionID, "")
	if err != nil {
		r.emit(protocol.EventErrorDetected, protocol.ErrorDetectedPayload{
			Error:      categorize(protocol.CategoryPlanner, err.Error()),
			FailedStep: failedStep,
		})
		return false
	}

	r.plan = newPlan
	r.stepIndex = 0
	r.emit(protocol.EventPlanGenerated, protocol.PlanGeneratedPayload{Plan: r.plan})
	return true
}

// buildReplanPrompt mirrors main.py's inline re-plan prompt strings
// exactly: a translator failure omits the command, a sandbox failure
// includes the command and its stderr truncated to maxErrorLen.
func (r *run) buildReplanPrompt(failedStep, errMsg, command, fullStderr string) string {
	var b strings.Builder
	b.WriteString("Revise plan after failure.\n")
	b.WriteString("Original goal: " + r.originalGoal + "\n")
	b.WriteString("Failed step: " + failedStep + "\n")
	if command != "" {
		b.WriteString("Command: " + command + "\n")
	}
	b.WriteString("Error: " + errMsg + "\n")
	if fullStderr != "" {
		b.WriteString("Stderr: " + truncate(fullStderr, maxErrorLen) + "\n")
	}
	b.WriteString("History: " + r.hist.serialize())
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
