// Package act implements BAP's composite action engine (,
// method agent/act): a sequence of steps run against a page, each with
// optional pre-conditions, per-step retry with exponential backoff, and a
// global deadline across the whole sequence. Results are aggregated
// per-step so a caller can see exactly where a sequence stopped.
//
// This component has no direct precedent elsewhere in the codebase —
// cmd/dev-console/interact_failure_playbooks.go documents retry *advice*
// for an LLM to follow manually, rather than executing retries itself.
// The retry/backoff loop here is grounded on the general Go idiom for
// bounded exponential backoff (fixed base, capped doubling, deadline
// checked every iteration), the same shape used by
// cmd/dev-console/rate_limit.go's window-expiry timing checks.
package act

import (
	"context"
	"fmt"
	"time"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

// Step is one action in a composite sequence.
type Step struct {
	// Action names the operation: "click", "dblclick", "fill", "clear",
	// "type", "press", "hover", "scroll", "selectOption", "check",
	// "uncheck", "upload", "drag", "waitFor", "navigate", "reload",
	// "goBack", "goForward" (closed action allow-list).
	Action string
	Selector engine.EngineSelector
	Value string
	Paths []string // action/upload file paths
	Target engine.EngineSelector // action/drag drop target
	Timeout time.Duration

	// Condition, if non-nil, must evaluate true against the page before
	// the step runs; a false condition skips the step (not an error).
	Condition func(ctx context.Context, page engine.Page) (bool, error)

	// OnError selects what happens when the step's action fails after
	// any retries: "stop" (default, also the zero value) records the
	// failure and halts the sequence; "skip" records the failure and
	// moves on to the next step; "retry" is the only value under which
	// MaxRetries/BaseDelay take effect at all — "stop" and "skip" run
	// the action exactly once.
	OnError string
	MaxRetries int // 0 means "use the engine default"; only consulted when OnError == "retry"
	BaseDelay time.Duration // 0 means "use the engine default"
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Index int `json:"index"`
	Action string `json:"action"`
	Skipped bool `json:"skipped,omitempty"`
	Attempts int `json:"attempts"`
	Error string `json:"error,omitempty"`
}

// Result is the aggregate outcome of a Run call.
type Result struct {
	Steps []StepResult `json:"steps"`
	Completed bool `json:"completed"`
	StoppedAt int `json:"stoppedAt,omitempty"`
}

const (
	defaultMaxRetries = 2
	defaultBaseDelay = 200 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Engine executes composite action sequences against a single page.
type Engine struct {
	Page engine.Page
	Deadline time.Duration // 0 means no global deadline beyond ctx's own
}

// New constructs an Engine bound to page.
func New(page engine.Page) *Engine {
	return &Engine{Page: page, Deadline: 30 * time.Second}
}

// Run executes steps in order, stopping at the first step that exhausts
// its retries, and returns the aggregate Result. A step whose Condition
// evaluates false is recorded as skipped and does not count as a failure.
func (e *Engine) Run(ctx context.Context, steps []Step) (Result, error) {
	if e.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Deadline)
		defer cancel()
	}

	result := Result{Steps: make([]StepResult, 0, len(steps))}

	for i, step := range steps {
		if step.Condition != nil {
			ok, err := step.Condition(ctx, e.Page)
			if err != nil {
				return e.fail(result, i, step, 0, err)
			}
			if !ok {
				result.Steps = append(result.Steps, StepResult{Index: i, Action: step.Action, Skipped: true})
				continue
			}
		}

		attempts, err := e.runStepWithRetry(ctx, step)
		if err != nil {
			if step.OnError == "skip" {
				result.Steps = append(result.Steps, StepResult{
						Index: i, Action: step.Action, Attempts: attempts, Error: err.Error(),
				})
				continue
			}
			return e.fail(result, i, step, attempts, err)
		}
		result.Steps = append(result.Steps, StepResult{Index: i, Action: step.Action, Attempts: attempts})
	}

	result.Completed = true
	return result, nil
}

func (e *Engine) fail(result Result, index int, step Step, attempts int, err error) (Result, error) {
	result.Steps = append(result.Steps, StepResult{
			Index: index,
			Action: step.Action,
			Attempts: attempts,
			Error: err.Error(),
	})
	result.StoppedAt = index
	return result, err
}

func (e *Engine) runStepWithRetry(ctx context.Context, step Step) (int, error) {
	maxRetries := 0
	if step.OnError == "retry" {
		maxRetries = step.MaxRetries
		if maxRetries <= 0 {
			maxRetries = defaultMaxRetries
		}
	}
	baseDelay := step.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return attempt, rpcerr.Translate(ctx.Err())
		}
		if err := e.runOnce(ctx, step); err != nil {
			lastErr = err
			if attempt == maxRetries {
				break
			}
			delay := backoffDelay(attempt, baseDelay)
			select {
			case <-ctx.Done():
				return attempt + 1, rpcerr.Translate(ctx.Err())
			case <-time.After(delay):
			}
			continue
		}
		return attempt + 1, nil
	}
	return maxRetries + 1, rpcerr.Translate(lastErr)
}

func backoffDelay(attempt int, base time.Duration) time.Duration {
	d := base << attempt
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func (e *Engine) runOnce(ctx context.Context, step Step) error {
	switch step.Action {
	case "navigate":
		return e.Page.Goto(ctx, step.Value)
	case "reload":
		return e.Page.Reload(ctx)
	case "goBack":
		return e.Page.GoBack(ctx)
	case "goForward":
		return e.Page.GoForward(ctx)
	}

	locator := e.Page.Locator(step.Selector)
	switch step.Action {
	case "click":
		return locator.Click(ctx, engine.ClickOptions{ClickCount: 1})
	case "dblclick":
		return locator.DblClick(ctx)
	case "fill":
		return locator.Fill(ctx, step.Value)
	case "clear":
		return locator.Clear(ctx)
	case "type":
		return locator.TypeSequentially(ctx, step.Value)
	case "press":
		return locator.Press(ctx, step.Value)
	case "hover":
		return locator.Hover(ctx)
	case "scroll":
		return locator.ScrollIntoViewIfNeeded(ctx)
	case "check":
		return locator.Check(ctx)
	case "uncheck":
		return locator.Uncheck(ctx)
	case "selectOption":
		return locator.SelectOption(ctx, []string{step.Value})
	case "upload":
		return locator.SetInputFiles(ctx, step.Paths)
	case "drag":
		return locator.DragTo(ctx, e.Page.Locator(step.Target))
	case "waitFor":
		return locator.WaitFor(ctx, step.Value)
	default:
		return fmt.Errorf("act: unknown step action %q", step.Action)
	}
}
