package policy

import (
	"fmt"
	"strings"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

// LaunchArgGuard filters browser launch flags before they ever reach an
// engine adapter. Flags that disable the sandbox or enable remote
// debugging on an open interface are denied outright; everything else is
// checked against a deny-substring list, the same linear-scan shape as
// requiredSecurityHeaders check.
type LaunchArgGuard struct {
	DenySubstrings []string
}

// NewLaunchArgGuard returns a guard with BAP's default deny list:
// sandbox-disabling and remote-debugging flags are never permitted because
// they widen the attack surface of the host machine, not just the page.
func NewLaunchArgGuard() *LaunchArgGuard {
	return &LaunchArgGuard{
		DenySubstrings: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--remote-debugging-address",
			"--remote-debugging-port",
			"--allow-running-insecure-content",
			"--disable-web-security",
		},
	}
}

func (g *LaunchArgGuard) Check(args []string) error {
	for _, arg := range args {
		lower := strings.ToLower(arg)
		for _, deny := range g.DenySubstrings {
			if strings.Contains(lower, deny) {
				return rpcerr.New(rpcerr.CodeAuthorization,
					fmt.Sprintf("launch argument %q is not permitted", arg),
					rpcerr.WithDetails(map[string]string{"arg": arg}))
			}
		}
	}
	return nil
}
