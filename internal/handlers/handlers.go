// Package handlers implements every method in BAP's closed dispatch
// surface as a dispatcher.Handler, wiring the protocol
// layer to internal/session, internal/policy, internal/selector,
// internal/registry, internal/act, internal/observe, internal/extract,
// internal/stream, internal/approval and internal/events.
//
// Grounded on cmd/dev-console/handler.go: one function per
// MCP tool name registered into a flat dispatch table, generalized here
// from a single mcpMethodHandlers map to dispatcher.Entry values that
// also carry the rate-limit dimension and session requirement.
package handlers

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/browseragentprotocol/bap/internal/approval"
	"github.com/browseragentprotocol/bap/internal/dispatcher"
	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/events"
	"github.com/browseragentprotocol/bap/internal/policy"
	"github.com/browseragentprotocol/bap/internal/protocol"
	"github.com/browseragentprotocol/bap/internal/registry"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/selector"
	"github.com/browseragentprotocol/bap/internal/session"
	"github.com/browseragentprotocol/bap/internal/stream"
)

// Deps bundles everything a handler needs beyond the request's own
// params and session, all constructed once by cmd/bap-server and shared
// across every connection.
type Deps struct {
	Engine engine.Engine
	Sessions *session.Manager
	Registry *registry.Registry
	Streams *stream.Manager
	Approvals *approval.Gate
	Events *events.Bus
	URLGuard *policy.URLGuard
	LaunchGuard *policy.LaunchArgGuard
	PathGuard *policy.PathGuard
	SelGuard *policy.SelectorGuard
	Redactor *policy.Redactor
	Log *zap.Logger

	// DefaultScopes is the scope grant every new session receives,
	// resolved once at startup from BAP_SCOPES/BAP_SCOPE_PROFILE
	// (policy.ResolveScopes) — initialize never trusts a client's own
	// params.scopes as authoritative.
	DefaultScopes map[policy.Scope]bool

	// Notify delivers a server-initiated notification to the connection
	// owning sessionID. Supplied by internal/wsserver, which owns the
	// actual socket write pump; handlers never touch the socket directly.
	Notify func(sessionID string, n protocol.Notification)
}

func (d *Deps) notify(sessionID, method string, params any) {
	if d.Notify == nil {
		return
	}
	d.Notify(sessionID, protocol.NewNotification(method, params))
}

// Methods builds the closed method table dispatcher.New expects. Every
// dispatchable method name has an entry here.
func Methods(d *Deps) map[string]dispatcher.Entry {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &handlers{d: d, traces: make(map[string]*traceRecorder)}

	entry := func(fn dispatcher.Handler, requiresSession bool, dimension string) dispatcher.Entry {
		return dispatcher.Entry{Handler: fn, RequiresSession: requiresSession, RateLimitDimension: dimension}
	}

	return map[string]dispatcher.Entry{
		"initialize": entry(h.initialize, false, ""),
		"shutdown": entry(h.shutdown, true, "request"),
		"notifications/initialized": entry(h.notificationsInitialized, true, ""),

		"browser/launch": entry(h.browserLaunch, true, "request"),
		"browser/close": entry(h.browserClose, true, "request"),

		"context/create": entry(h.contextCreate, true, "request"),
		"context/list": entry(h.contextList, true, "request"),
		"context/destroy": entry(h.contextDestroy, true, "request"),

		"page/create": entry(h.pageCreate, true, "request"),
		"page/navigate": entry(h.pageNavigate, true, "request"),
		"page/reload": entry(h.pageReload, true, "request"),
		"page/goBack": entry(h.pageGoBack, true, "request"),
		"page/goForward": entry(h.pageGoForward, true, "request"),
		"page/close": entry(h.pageClose, true, "request"),
		"page/list": entry(h.pageList, true, "request"),
		"page/activate": entry(h.pageActivate, true, "request"),

		"frame/list": entry(h.frameList, true, "request"),
		"frame/switch": entry(h.frameSwitch, true, "request"),
		"frame/main": entry(h.frameMain, true, "request"),

		"action/click": entry(h.actionStep("click"), true, "request"),
		"action/dblclick": entry(h.actionStep("dblclick"), true, "request"),
		"action/type": entry(h.actionStep("type"), true, "request"),
		"action/fill": entry(h.actionStep("fill"), true, "request"),
		"action/clear": entry(h.actionStep("clear"), true, "request"),
		"action/press": entry(h.actionStep("press"), true, "request"),
		"action/hover": entry(h.actionStep("hover"), true, "request"),
		"action/scroll": entry(h.actionStep("scroll"), true, "request"),
		"action/select": entry(h.actionStep("selectOption"), true, "request"),
		"action/check": entry(h.actionStep("check"), true, "request"),
		"action/uncheck": entry(h.actionStep("uncheck"), true, "request"),
		"action/upload": entry(h.actionStep("upload"), true, "request"),
		"action/drag": entry(h.actionStep("drag"), true, "request"),

		"observe/screenshot": entry(h.observeScreenshot, true, "screenshot"),
		"observe/accessibility": entry(h.observeAccessibility, true, "request"),
		"observe/dom": entry(h.observeDOM, true, "request"),
		"observe/element": entry(h.observeElement, true, "request"),
		"observe/pdf": entry(h.observePDF, true, "request"),
		"observe/content": entry(h.observeContent, true, "request"),
		"observe/ariaSnapshot": entry(h.observeAriaSnapshot, true, "request"),

		"storage/getState": entry(h.storageGetState, true, "request"),
		"storage/setState": entry(h.storageSetState, true, "request"),
		"storage/getCookies": entry(h.storageGetCookies, true, "request"),
		"storage/setCookies": entry(h.storageSetCookies, true, "request"),
		"storage/clearCookies": entry(h.storageClearCookies, true, "request"),

		"network/intercept": entry(h.networkIntercept, true, "request"),
		"network/fulfill": entry(h.networkFulfill, true, "request"),
		"network/abort": entry(h.networkAbort, true, "request"),
		"network/continue": entry(h.networkContinue, true, "request"),

		"emulate/setViewport": entry(h.emulateSetViewport, true, "request"),
		"emulate/setUserAgent": entry(h.emulateSetUserAgent, true, "request"),
		"emulate/setGeolocation": entry(h.emulateSetGeolocation, true, "request"),
		"emulate/setOffline": entry(h.emulateSetOffline, true, "request"),

		"dialog/handle": entry(h.dialogHandle, true, "request"),

		"trace/start": entry(h.traceStart, true, "request"),
		"trace/stop": entry(h.traceStop, true, "request"),

		"events/subscribe": entry(h.eventsSubscribe, true, "request"),
		"stream/cancel": entry(h.streamCancel, true, "request"),
		"approval/respond": entry(h.approvalRespond, true, "request"),

		"agent/act": entry(h.agentAct, true, "agent.act"),
		"agent/observe": entry(h.agentObserve, true, "request"),
		"agent/extract": entry(h.agentExtract, true, "request"),
	}
}

// handlers closes over Deps; every method below is a dispatcher.Handler
// bound to one of its fields.
type handlers struct {
	d *Deps

	tracesMu sync.Mutex
	traces map[string]*traceRecorder // "sessionID:pageID" -> recorder
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return rpcerr.New(rpcerr.CodeInvalidParams, "invalid params: "+err.Error())
	}
	return nil
}

// pagePageID resolves the effective pageID for a request: the explicit
// value if given, else the session's active page.
func pagePageID(s *session.Session, explicit string) (string, error) {
	id := explicit
	if id == "" {
		id = s.ActivePageID()
	}
	if id == "" {
		return "", rpcerr.New(rpcerr.CodeElementNotFound, "no active page and none specified")
	}
	return id, nil
}

// resolvePage looks up the live engine.Page for pageID, or the session's
// active page when pageID is empty.
func resolvePage(s *session.Session, pageID string) (engine.Page, string, error) {
	id, err := pagePageID(s, pageID)
	if err != nil {
		return nil, "", err
	}
	p, _, ok := s.Page(id)
	if !ok || p == nil {
		return nil, "", rpcerr.New(rpcerr.CodeTargetClosed, fmt.Sprintf("page %q is not open", id))
	}
	return p, id, nil
}

// resolveLocator turns a wire selector into an engine.Locator, following
// @ref entries through the registry to their stored underlying selector
// (resolving @ref handles back to their originating selector).
func resolveLocator(reg *registry.Registry, page engine.Page, pageID string, sel selector.Selector) (engine.Locator, error) {
	if sel.Kind == selector.KindRef {
		stored, ok := reg.Resolve(sel.Ref)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeElementNotFound, "ref not found or stale: "+sel.Ref)
		}
		underlying, err := selector.Parse(stored)
		if err != nil {
			return nil, rpcerr.New(rpcerr.CodeElementNotFound, "stored selector for ref is invalid")
		}
		sel = underlying
	}
	return page.Locator(toEngineSelector(sel)), nil
}

func toEngineSelector(sel selector.Selector) engine.EngineSelector {
	switch sel.Kind {
	case selector.KindCSS:
		return engine.EngineSelector{Kind: "css", Value: sel.Value}
	case selector.KindXPath:
		return engine.EngineSelector{Kind: "xpath", Value: sel.Value}
	case selector.KindRole:
		return engine.EngineSelector{Kind: "role", Role: sel.Role, Name: sel.Name, Exact: sel.Exact}
	case selector.KindText:
		return engine.EngineSelector{Kind: "text", Value: sel.Value, Exact: sel.Exact}
	case selector.KindLabel:
		return engine.EngineSelector{Kind: "label", Value: sel.Value}
	case selector.KindPlaceholder:
		return engine.EngineSelector{Kind: "placeholder", Value: sel.Value}
	case selector.KindTestID:
		return engine.EngineSelector{Kind: "testId", Value: sel.Value}
	case selector.KindSemantic:
		return engine.EngineSelector{Kind: "text", Value: sel.Value}
	default:
		return engine.EngineSelector{Kind: "css", Value: sel.Value}
	}
}

