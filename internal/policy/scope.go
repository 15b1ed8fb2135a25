package policy

import (
	"fmt"
	"sort"

	"github.com/browseragentprotocol/bap/internal/audit"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

// Scope names the capability groups a session's authorization token may
// grant (initialize params.scopes; denial maps to CodeAuthorization).
type Scope string

const (
	ScopeSession Scope = "session.control"
	ScopeBrowserControl Scope = "browser.control"
	ScopeContext Scope = "context.control"
	ScopePage Scope = "page.control"
	ScopeAction Scope = "action.perform"
	ScopeObserve Scope = "observe.read"
	ScopeExtract Scope = "extract.read"
	ScopeStorageRead Scope = "storage.read"
	ScopeStorageWrite Scope = "storage.write"
	ScopeNetworkIntercept Scope = "network.intercept"
	ScopeEmulate Scope = "emulate.control"
	ScopeDialog Scope = "dialog.control"
	ScopeTrace Scope = "trace.control"
	ScopeEvents Scope = "events.subscribe"
	ScopeAgentAct Scope = "agent.act"
	ScopeApproval Scope = "approval.respond"
)

// Wildcard scopes: "*" grants every method; "category:*"
// grants every method in that category.
const (
	ScopeAll Scope = "*"
)

// methodScopes maps every dispatched JSON-RPC method (every entry in
// handlers.Methods except "initialize", which runs before a session or
// its scopes exist) to the scope(s) required to call it (any-of: holding
// any one listed scope is sufficient). A method absent from this table
// requires ScopeAll: "unknown methods require *".
var methodScopes = map[string][]Scope{
	"shutdown": {ScopeSession, "session:*"},
	"notifications/initialized": {ScopeSession, "session:*"},

	"browser/launch": {ScopeBrowserControl, "browser:*"},
	"browser/close": {ScopeBrowserControl, "browser:*"},

	"context/create": {ScopeContext, "context:*"},
	"context/list": {ScopeContext, "context:*"},
	"context/destroy": {ScopeContext, "context:*"},

	"page/create": {ScopePage, "page:*"},
	"page/navigate": {ScopePage, "page:*"},
	"page/reload": {ScopePage, "page:*"},
	"page/goBack": {ScopePage, "page:*"},
	"page/goForward": {ScopePage, "page:*"},
	"page/close": {ScopePage, "page:*"},
	"page/list": {ScopePage, "page:*"},
	"page/activate": {ScopePage, "page:*"},

	"frame/list": {ScopePage, "frame:*"},
	"frame/switch": {ScopePage, "frame:*"},
	"frame/main": {ScopePage, "frame:*"},

	"action/click": {ScopeAction, "action:*"},
	"action/dblclick": {ScopeAction, "action:*"},
	"action/type": {ScopeAction, "action:*"},
	"action/fill": {ScopeAction, "action:*"},
	"action/clear": {ScopeAction, "action:*"},
	"action/press": {ScopeAction, "action:*"},
	"action/hover": {ScopeAction, "action:*"},
	"action/scroll": {ScopeAction, "action:*"},
	"action/select": {ScopeAction, "action:*"},
	"action/check": {ScopeAction, "action:*"},
	"action/uncheck": {ScopeAction, "action:*"},
	"action/upload": {ScopeAction, "action:*"},
	"action/drag": {ScopeAction, "action:*"},

	"observe/screenshot": {ScopeObserve, "observe:*"},
	"observe/accessibility": {ScopeObserve, "observe:*"},
	"observe/dom": {ScopeObserve, "observe:*"},
	"observe/element": {ScopeObserve, "observe:*"},
	"observe/pdf": {ScopeObserve, "observe:*"},
	"observe/content": {ScopeObserve, "observe:*"},
	"observe/ariaSnapshot": {ScopeObserve, "observe:*"},

	"storage/getState": {ScopeStorageRead, "storage:*"},
	"storage/setState": {ScopeStorageWrite, "storage:*"},
	"storage/getCookies": {ScopeStorageRead, "storage:*"},
	"storage/setCookies": {ScopeStorageWrite, "storage:*"},
	"storage/clearCookies": {ScopeStorageWrite, "storage:*"},

	"network/intercept": {ScopeNetworkIntercept, "network:*"},
	"network/fulfill": {ScopeNetworkIntercept, "network:*"},
	"network/abort": {ScopeNetworkIntercept, "network:*"},
	"network/continue": {ScopeNetworkIntercept, "network:*"},

	"emulate/setViewport": {ScopeEmulate, "emulate:*"},
	"emulate/setUserAgent": {ScopeEmulate, "emulate:*"},
	"emulate/setGeolocation": {ScopeEmulate, "emulate:*"},
	"emulate/setOffline": {ScopeEmulate, "emulate:*"},

	"dialog/handle": {ScopeDialog, "dialog:*"},

	"trace/start": {ScopeTrace, "trace:*"},
	"trace/stop": {ScopeTrace, "trace:*"},

	"events/subscribe": {ScopeEvents, "events:*"},
	"stream/cancel": {ScopeEvents, "stream:*"},
	"approval/respond": {ScopeApproval, "approval:*"},

	"agent/act": {ScopeAgentAct, "agent:*"},
	"agent/observe": {ScopeObserve, "agent:*"},
	"agent/extract": {ScopeExtract, "agent:*"},
}

// category extracts the "category" prefix of a method name, e.g.
// "page/navigate" -> "page", used to test a granted "category:*" scope.
func category(method string) string {
	if idx := indexByte(method, '/'); idx >= 0 {
		return method[:idx]
	}
	return method
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// ScopeChecker validates that a session's granted scopes satisfy a method's
// requirement, returning CodeAuthorization per on failure.
type ScopeChecker struct{}

func NewScopeChecker() *ScopeChecker { return &ScopeChecker{} }

// Check admits method under granted iff granted holds "*", holds the
// method's category wildcard ("category:*"), or holds any one of the
// scopes methodScopes lists for method (any-of). A method absent from
// methodScopes requires ScopeAll outright — "unknown methods require *"
// — so a future method that is dispatched without a matching
// methodScopes entry fails closed instead of running unauthorized.
func (c *ScopeChecker) Check(method string, granted map[Scope]bool) error {
	if granted[ScopeAll] {
		return nil
	}

	required, ok := methodScopes[method]
	if !ok {
		return rpcerr.New(rpcerr.CodeAuthorization,
			fmt.Sprintf("method %q is not in the scope table and requires %q", method, ScopeAll),
			rpcerr.WithRequiredScopes([]string{string(ScopeAll)}),
			rpcerr.WithAuditEvent(audit.EventAuthorizationDenied))
	}
	if granted[Scope(category(method)+":*")] {
		return nil
	}
	for _, scope := range required {
		if granted[scope] {
			return nil
		}
	}
	return rpcerr.New(rpcerr.CodeAuthorization,
		fmt.Sprintf("method %q requires one of scopes %v", method, scopeStrings(required)),
		rpcerr.WithRequiredScopes(scopeStrings(required)),
		rpcerr.WithAuditEvent(audit.EventAuthorizationDenied))
}

func scopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

// Profile names a preset scope bundle, derived server-side at session
// creation (initialize never takes scopes from the client).
type Profile string

const (
	ProfileReadonly Profile = "readonly"
	ProfileStandard Profile = "standard"
	ProfileFull Profile = "full"
	ProfilePrivileged Profile = "privileged"
)

// ProfileScopes maps a named profile to its granted scope set. An
// unrecognized profile falls back to ProfileReadonly, the
// least-privileged default, so a typo in configuration fails closed.
func ProfileScopes(profile Profile) map[Scope]bool {
	switch profile {
	case ProfileStandard:
		return scopeSet(ScopeObserve, ScopeExtract, ScopeStorageRead,
			ScopeBrowserControl, ScopeContext, ScopePage, ScopeAction,
			ScopeEmulate, ScopeDialog, ScopeTrace, ScopeEvents,
			ScopeAgentAct, ScopeApproval, ScopeSession)
	case ProfileFull:
		return scopeSet(ScopeObserve, ScopeExtract, ScopeStorageRead, ScopeStorageWrite,
			ScopeBrowserControl, ScopeContext, ScopePage, ScopeAction,
			ScopeEmulate, ScopeDialog, ScopeTrace, ScopeEvents,
			ScopeAgentAct, ScopeApproval, ScopeSession, ScopeNetworkIntercept)
	case ProfilePrivileged:
		return scopeSet(ScopeAll)
	default:
		return scopeSet(ScopeObserve, ScopeExtract, ScopeStorageRead, ScopeSession)
	}
}

func scopeSet(scopes ...Scope) map[Scope]bool {
	out := make(map[Scope]bool, len(scopes))
	for _, s := range scopes {
		out[s] = true
	}
	return out
}

// ResolveScopes derives a session's granted scopes purely from server
// configuration: explicit (BAP_SCOPES, comma-separated) if set, else the
// configured profile. A client's self-declared initialize params.scopes
// is never consulted — this is the only path that grants authority.
func ResolveScopes(explicit []string, profile Profile) map[Scope]bool {
	if len(explicit) > 0 {
		out := make(map[Scope]bool, len(explicit))
		for _, s := range explicit {
			out[Scope(s)] = true
		}
		return out
	}
	return ProfileScopes(profile)
}

// GrantedList returns granted's scope strings in sorted order, for
// reporting back to a client (e.g. in initialize's response).
func GrantedList(granted map[Scope]bool) []string {
	out := make([]string, 0, len(granted))
	for s := range granted {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}
