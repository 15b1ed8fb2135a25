package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/browseragentprotocol/bap/internal/act"
	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/extract"
	"github.com/browseragentprotocol/bap/internal/observe"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/selector"
	"github.com/browseragentprotocol/bap/internal/session"
)

// --- agent/act: composite action sequences ---

type agentActStep struct {
	Label string `json:"label"`
	Action string `json:"action"`
	Selector string `json:"selector"`
	Value string `json:"value"`
	Paths []string `json:"paths"`
	Target string `json:"target"`
	Condition string `json:"condition"` // optional selector: step runs only if visible
	OnError string `json:"onError"` // "stop" (default), "skip", "retry"
	MaxRetries int `json:"maxRetries"`
	RetryDelayMs int `json:"retryDelayMs"`
}

type agentActParams struct {
	PageID string `json:"pageId"`
	Steps []agentActStep `json:"steps"`
	DeadlineMs int `json:"deadlineMs"`
}

type agentActStepResult struct {
	Step int `json:"step"`
	Label string `json:"label,omitempty"`
	Success bool `json:"success"`
	Result any `json:"result,omitempty"`
	Error string `json:"error,omitempty"`
	Duration int64 `json:"duration"` // milliseconds
	Retries int `json:"retries,omitempty"`
}

type agentActResult struct {
	Success bool `json:"success"`
	Completed int `json:"completed"`
	Total int `json:"total"`
	Duration int64 `json:"duration"`
	FailedAt *int `json:"failedAt,omitempty"`
	Steps []agentActStepResult `json:"steps"`
}

const (
	defaultActDeadline = 30 * time.Second
	maxActSteps = 50
)

// agentAct runs an ordered, bounded sequence of actions against one page
//. internal/act.Engine supplies the per-step retry/backoff
// loop; this handler adds the wire-level step shape (label, condition,
// onError) act.Engine doesn't know about, running one step at a time so
// an onError:"skip" step can be bypassed without aborting the sequence.
func (h *handlers) agentAct(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p agentActParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Steps) == 0 {
		return nil, rpcerr.New(rpcerr.CodeInvalidParams, "steps must be a non-empty array")
	}
	if len(p.Steps) > maxActSteps {
		return nil, rpcerr.New(rpcerr.CodeInvalidParams, "steps exceeds the maximum of 50")
	}

	page, pageID, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}

	deadline := defaultActDeadline
	if p.DeadlineMs > 0 {
		deadline = time.Duration(p.DeadlineMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	eng := act.New(page)
	eng.Deadline = 0 // the handler's own runCtx already carries the deadline

	result := agentActResult{Total: len(p.Steps), Steps: make([]agentActStepResult, 0, len(p.Steps))}

	for i, wireStep := range p.Steps {
		if runCtx.Err() != nil {
			failedAt := i
			result.FailedAt = &failedAt
			return result, rpcerr.Translate(runCtx.Err())
		}

		if wireStep.Condition != "" {
			ok, cerr := h.evalConditionVisible(runCtx, page, pageID, wireStep.Condition)
			if cerr != nil {
				result.Steps = append(result.Steps, agentActStepResult{Step: i, Label: wireStep.Label, Error: cerr.Error()})
				failedAt := i
				result.FailedAt = &failedAt
				return result, rpcerr.Translate(cerr)
			}
			if !ok {
				result.Steps = append(result.Steps, agentActStepResult{Step: i, Label: wireStep.Label, Success: true, Result: "skipped (condition false)"})
				continue
			}
		}

		step, serr := h.toActStep(pageID, wireStep)
		if serr != nil {
			result.Steps = append(result.Steps, agentActStepResult{Step: i, Label: wireStep.Label, Error: serr.Error()})
			failedAt := i
			result.FailedAt = &failedAt
			return result, serr
		}

		start := time.Now()
		stepResult, runErr := eng.Run(runCtx, []act.Step{step})
		duration := time.Since(start).Milliseconds()

		attempts := 0
		if len(stepResult.Steps) > 0 {
			attempts = stepResult.Steps[0].Attempts
		}

		if runErr != nil {
			sr := agentActStepResult{Step: i, Label: wireStep.Label, Error: runErr.Error(), Duration: duration, Retries: attempts}
			result.Steps = append(result.Steps, sr)

			onError := wireStep.OnError
			if onError == "skip" {
				continue
			}
			failedAt := i
			result.FailedAt = &failedAt
			result.Duration += duration
			return result, rpcerr.Translate(runErr)
		}

		result.Steps = append(result.Steps, agentActStepResult{
				Step: i, Label: wireStep.Label, Success: true, Duration: duration, Retries: attempts,
		})
		result.Completed++
		result.Duration += duration
	}

	result.Success = result.FailedAt == nil
	return result, nil
}

// toActStep translates one wire step into act.Step, following @ref
// selectors through the registry the same way resolveLocator does for
// single-shot action/* handlers.
func (h *handlers) toActStep(pageID string, w agentActStep) (act.Step, error) {
	step := act.Step{
		Action: w.Action,
		Value: w.Value,
		Paths: w.Paths,
		OnError: w.OnError,
		MaxRetries: w.MaxRetries,
	}
	if w.RetryDelayMs > 0 {
		step.BaseDelay = time.Duration(w.RetryDelayMs) * time.Millisecond
	}
	switch w.Action {
	case "navigate", "reload", "goBack", "goForward":
		return step, nil
	}
	sel, err := h.resolveEngineSelector(pageID, w.Selector)
	if err != nil {
		return act.Step{}, err
	}
	step.Selector = sel
	if w.Action == "drag" && w.Target != "" {
		target, err := h.resolveEngineSelector(pageID, w.Target)
		if err != nil {
			return act.Step{}, err
		}
		step.Target = target
	}
	return step, nil
}

// resolveEngineSelector parses a wire selector string, follows @ref
// through the registry, runs the selector guard, and converts to the
// engine-facing shape.
func (h *handlers) resolveEngineSelector(pageID, raw string) (engine.EngineSelector, error) {
	sel, err := selector.Parse(raw)
	if err != nil {
		return engine.EngineSelector{}, rpcerr.New(rpcerr.CodeInvalidParams, "invalid selector: "+err.Error())
	}
	if sel.Kind == selector.KindRef {
		stored, ok := h.d.Registry.Resolve(sel.Ref)
		if !ok {
			return engine.EngineSelector{}, rpcerr.New(rpcerr.CodeElementNotFound, "ref not found or stale: "+sel.Ref)
		}
		sel, err = selector.Parse(stored)
		if err != nil {
			return engine.EngineSelector{}, rpcerr.New(rpcerr.CodeElementNotFound, "stored selector for ref is invalid")
		}
	}
	if err := h.d.SelGuard.Check(sel); err != nil {
		return engine.EngineSelector{}, err
	}
	return toEngineSelector(sel), nil
}

func (h *handlers) evalConditionVisible(ctx context.Context, page engine.Page, pageID, raw string) (bool, error) {
	sel, err := h.resolveEngineSelector(pageID, raw)
	if err != nil {
		return false, err
	}
	return page.Locator(sel).IsVisible(ctx)
}

// --- agent/observe: enumerate + annotate ---

// observeCandidatesScript enumerates the page's interactive elements in a
// single evaluator pass, returning a JSON array observe.Candidate-shaped
// objects ("a single in-page evaluator script").
const observeCandidatesScript = `() => {
 const isVisible = (el) => {
 const r = el.getBoundingClientRect();
 const style = getComputedStyle(el);
 return r.width > 0 && r.height > 0 && style.visibility !== "hidden" && style.display !== "none";
 };
 const selectorFor = (el) => {
 if (el.id) return "#" + el.id;
 const parts = [];
 let node = el;
 while (node && node.nodeType === 1 && parts.length < 6) {
 let part = node.tagName.toLowerCase();
 if (node.parentElement) {
 const siblings = Array.from(node.parentElement.children).filter(c => c.tagName === node.tagName);
 if (siblings.length > 1) part += ":nth-of-type(" + (siblings.indexOf(node) + 1) + ")";
 }
 parts.unshift(part);
 node = node.parentElement;
 }
 return parts.join(" > ");
 };
 const interactiveSelectors = "a,button,input,select,textarea,[role],[onclick],[tabindex]";
 return Array.from(document.querySelectorAll(interactiveSelectors))
 .filter(isVisible)
 .map((el) => {
 const r = el.getBoundingClientRect();
 return {
 role: el.getAttribute("role") || el.tagName.toLowerCase(),
 name: el.getAttribute("aria-label") || el.innerText || el.value || "",
 tag: el.tagName.toLowerCase(),
 testId: el.getAttribute("data-testid") || "",
 domId: el.id || "",
 ariaLabel: el.getAttribute("aria-label") || "",
 textContent: (el.innerText || "").trim().slice(0, 80),
 cssSelector: selectorFor(el),
 bounds: { x: r.x, y: r.y, width: r.width, height: r.height },
 };
 });
}`

type rawCandidate struct {
	Role string `json:"role"`
	Name string `json:"name"`
	Tag string `json:"tag"`
	TestID string `json:"testId"`
	DOMID string `json:"domId"`
	AriaLabel string `json:"ariaLabel"`
	TextContent string `json:"textContent"`
	CSSSelector string `json:"cssSelector"`
	Bounds observe.Rect `json:"bounds"`
}

func enumerateCandidates(ctx context.Context, page engine.Page) ([]observe.Candidate, error) {
	raw, err := page.Evaluate(ctx, observeCandidatesScript)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var parsed []rawCandidate
	if err := json.Unmarshal(encoded, &parsed); err != nil {
		return nil, err
	}
	out := make([]observe.Candidate, 0, len(parsed))
	for _, c := range parsed {
		out = append(out, observe.Candidate{
				Role: c.Role, Name: c.Name, Tag: c.Tag,
				TestID: c.TestID, DOMID: c.DOMID, AriaLabel: c.AriaLabel,
				TextContent: c.TextContent, CSSSelector: c.CSSSelector, Bounds: c.Bounds,
		})
	}
	return out, nil
}

type agentObserveStyleParams struct {
	BadgeColor string `json:"badgeColor"`
	TextColor string `json:"textColor"`
	BadgeSize int `json:"badgeSize"`
	Font string `json:"font"`
	BoxColor string `json:"boxColor"`
	BoxWidth int `json:"boxWidth"`
	BoxDashed bool `json:"boxDashed"`
	Opacity float64 `json:"opacity"`
}

type agentObserveParams struct {
	PageID string `json:"pageId"`
	Annotate bool `json:"annotate"`
	MaxLabels int `json:"maxLabels"`
	LabelFormat string `json:"labelFormat"` // "number" (default), "ref", "both"
	Style *agentObserveStyleParams `json:"style"`
}

// styleFromParams overlays only the fields the client actually set onto
// DefaultAnnotationStyle, so a partial style object doesn't zero out the
// fields it left unspecified.
func styleFromParams(p *agentObserveStyleParams) observe.AnnotationStyle {
	s := observe.DefaultAnnotationStyle()
	if p == nil {
		return s
	}
	if p.BadgeColor != "" {
		s.BadgeColor = p.BadgeColor
	}
	if p.TextColor != "" {
		s.TextColor = p.TextColor
	}
	if p.BadgeSize > 0 {
		s.BadgeSize = p.BadgeSize
	}
	if p.Font != "" {
		s.Font = p.Font
	}
	if p.BoxColor != "" {
		s.BoxColor = p.BoxColor
	}
	if p.BoxWidth > 0 {
		s.BoxWidth = p.BoxWidth
	}
	s.BoxDashed = p.BoxDashed
	if p.Opacity > 0 {
		s.Opacity = p.Opacity
	}
	return s
}

func (h *handlers) agentObserve(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p agentObserveParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, pageID, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	candidates, err := enumerateCandidates(ctx, page)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}

	opts := observe.AnnotateOptions{
		MaxLabels: p.MaxLabels,
		LabelFormat: p.LabelFormat,
		Style: styleFromParams(p.Style),
	}

	obs := observe.New(h.d.Registry)
	snap, err := obs.Capture(ctx, page, pageID, candidates, p.Annotate, opts, h.annotateScreenshot)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	if len(snap.Screenshot) == 0 {
		return snap, nil
	}
	return map[string]any{
		"elements": snap.Elements,
		"screenshot": h.emitBinary(snap.Screenshot, "image/png"),
		"annotated": snap.Annotated,
		"annotationMap": snap.AnnotationMap,
	}, nil
}

// domMark is the wire shape fed to annotateCanvasScript: the registry ref
// and pre-computed label text alongside the viewport-relative box.
type domMark struct {
	Ref string `json:"ref"`
	Label string `json:"label"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Width float64 `json:"width"`
	Height float64 `json:"height"`
}

// annotateCanvasScript draws the Set-of-Marks overlay by injecting a
// fixed-position <canvas> and drawing numbered badge+box pairs on its 2D
// context, the same in-page-evaluator technique observeCandidatesScript
// uses for element enumeration. The canvas is left attached to the page
// only long enough for the following page.Screenshot call to capture it;
// removeAnnotationScript then strips it so it doesn't leak into later
// observations.
const annotateCanvasScript = `(marksJSON, styleJSON) => {
 const marks = JSON.parse(marksJSON);
 const style = JSON.parse(styleJSON);
 let canvas = document.getElementById("__bap_som_canvas");
 if (canvas) canvas.remove();
 canvas = document.createElement("canvas");
 canvas.id = "__bap_som_canvas";
 canvas.width = window.innerWidth;
 canvas.height = window.innerHeight;
 canvas.style.position = "fixed";
 canvas.style.left = "0";
 canvas.style.top = "0";
 canvas.style.pointerEvents = "none";
 canvas.style.zIndex = "2147483647";
 canvas.style.opacity = String(style.opacity);
 const ctx = canvas.getContext("2d");
 ctx.textBaseline = "top";
 ctx.font = style.badgeSize + "px " + style.font;
 for (const m of marks) {
 ctx.lineWidth = style.boxWidth;
 ctx.strokeStyle = style.boxColor;
 ctx.setLineDash(style.boxDashed ? [4, 3] : []);
 ctx.strokeRect(m.x, m.y, m.width, m.height);
 const padding = 3;
 const textWidth = ctx.measureText(m.label).width + padding * 2;
 const labelY = Math.max(0, m.y - style.badgeSize - 2);
 ctx.fillStyle = style.badgeColor;
 ctx.fillRect(m.x, labelY, textWidth, style.badgeSize + 2);
 ctx.fillStyle = style.textColor;
 ctx.fillText(m.label, m.x + padding, labelY);
 }
 document.body.appendChild(canvas);
 return true;
}`

const removeAnnotationScript = `() => {
 const canvas = document.getElementById("__bap_som_canvas");
 if (canvas) canvas.remove();
 return true;
}`

// annotateScreenshot renders the Set-of-Marks overlay in-page via
// annotateCanvasScript, screenshots the result, then removes the overlay
// so it never appears in a later, un-annotated capture.
func (h *handlers) annotateScreenshot(ctx context.Context, page engine.Page, marks []observe.Element, opts observe.AnnotateOptions) ([]byte, error) {
	dom := make([]domMark, len(marks))
	for i, m := range marks {
		dom[i] = domMark{
			Ref: m.Ref,
			Label: observe.AnnotationLabel(m, opts.LabelFormat),
			X: m.Bounds.X, Y: m.Bounds.Y, Width: m.Bounds.Width, Height: m.Bounds.Height,
		}
	}
	marksJSON, err := json.Marshal(dom)
	if err != nil {
		return nil, err
	}
	styleJSON, err := json.Marshal(opts.Style)
	if err != nil {
		return nil, err
	}

	if _, err := page.Evaluate(ctx, annotateCanvasScript, string(marksJSON), string(styleJSON)); err != nil {
		return nil, err
	}
	defer func() { _, _ = page.Evaluate(ctx, removeAnnotationScript) }()

	return page.Screenshot(ctx, false)
}

// --- agent/extract: deterministic heuristic extraction ---

type agentExtractParams struct {
	PageID string `json:"pageId"`
	Kind string `json:"kind"` // "text", "table", "list"
	Selector string `json:"selector"`
	MaxLength int `json:"maxLength"`
}

func (h *handlers) agentExtract(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p agentExtractParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	html, err := page.Content(ctx)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	result, err := extract.Heuristic(html, extract.Request{
			Kind: extract.Kind(p.Kind),
			Selector: p.Selector,
			MaxLength: p.MaxLength,
	})
	if err != nil {
		return nil, rpcerr.New(rpcerr.CodeInvalidParams, "extraction failed: "+err.Error())
	}
	result.Text = h.d.Redactor.Redact(result.Text)
	return result, nil
}
