// Package policy implements BAP's pre-execution guard stack: URL allow/deny
// lists, launch-argument filtering, filesystem path containment, selector
// content checks, credential redaction, and scope/authorization checks.
//
// Grounded on internal/security/security_checks.go: guards
// here are independent functions returning a *rpcerr.Error (or nil),
// composed by the dispatcher the same way security_checks.go's check*
// functions are composed by the scanner. The redaction list itself follows
// internal/redaction/redaction.go's compiled-pattern table shape.
package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

// URLGuard enforces the navigation allow/deny list.
type URLGuard struct {
	AllowSchemes []string
	DenyHosts []string
	AllowHosts []string // empty means "allow any host not denied"
}

// NewURLGuard returns a guard with BAP's default scheme policy: http(s) and
// about:blank only. file:// and data: are denied unless explicitly allowed,
// mirroring localhost/HTTP-scheme carve-outs in checkTransport.
func NewURLGuard() *URLGuard {
	return &URLGuard{AllowSchemes: []string{"http", "https", "about"}}
}

func (g *URLGuard) Check(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return rpcerr.New(rpcerr.CodeNavigationFailed, fmt.Sprintf("invalid URL: %v", err))
	}
	if !containsFold(g.AllowSchemes, u.Scheme) {
		return rpcerr.New(rpcerr.CodeAuthorization, fmt.Sprintf("scheme %q is not permitted", u.Scheme),
			rpcerr.WithDetails(map[string]string{"scheme": u.Scheme}))
	}
	host := u.Hostname()
	for _, denied := range g.DenyHosts {
		if host == denied || strings.HasSuffix(host, "."+denied) {
			return rpcerr.New(rpcerr.CodeAuthorization, fmt.Sprintf("host %q is on the deny list", host),
				rpcerr.WithDetails(map[string]string{"host": host}))
		}
	}
	if len(g.AllowHosts) == 0 {
		return nil
	}
	for _, allowed := range g.AllowHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return rpcerr.New(rpcerr.CodeAuthorization, fmt.Sprintf("host %q is not on the allow list", host),
		rpcerr.WithDetails(map[string]string{"host": host}))
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
