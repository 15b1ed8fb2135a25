package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/browseragentprotocol/bap/internal/audit"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

// blockedDirs lists system directories no configured root may resolve a
// path into, even if an operator misconfigures a root at or above them.
var blockedDirs = []string{
	"/etc", "/usr", "/bin", "/sbin", "/var",
	"/root", "/home", "/sys", "/proc", "/dev",
}

// PathGuard contains filesystem writes (downloads, uploaded files,
// PDF/screenshot export targets) within a configured allow-list of root
// directories, rejecting any resolved path that escapes every root via
// "..", "//", symlink traversal markers, or an absolute path outside them.
type PathGuard struct {
	Roots []string
}

// NewPathGuard constructs a guard over one or more allowed root
// directories (BAP_ALLOWED_DOWNLOAD_DIRS is comma-separated); a candidate
// path is accepted if it resolves under any one of them.
func NewPathGuard(roots ...string) *PathGuard {
	nonEmpty := make([]string, 0, len(roots))
	for _, r := range roots {
		if r != "" {
			nonEmpty = append(nonEmpty, r)
		}
	}
	return &PathGuard{Roots: nonEmpty}
}

// Check resolves candidate against the guard's roots and rejects escapes.
// It does not touch the filesystem: callers resolve symlinks themselves
// after the path check passes, same division of labor as the engine
// adapters applying policy-approved launch args without re-validating them.
func (g *PathGuard) Check(candidate string) (string, error) {
	if len(g.Roots) == 0 {
		return "", rpcerr.New(rpcerr.CodeInternal, "path guard has no configured root")
	}
	if strings.Contains(candidate, "..") || strings.Contains(candidate, "//") {
		return "", rpcerr.New(rpcerr.CodeAuthorization, "path contains a traversal sequence",
			rpcerr.WithDetails(map[string]string{"path": candidate}),
			rpcerr.WithAuditEvent(audit.EventPathTraversalAttempt))
	}

	var lastErr error
	for _, configuredRoot := range g.Roots {
		root, err := filepath.Abs(configuredRoot)
		if err != nil {
			lastErr = rpcerr.New(rpcerr.CodeInternal, fmt.Sprintf("resolve root: %v", err))
			continue
		}
		if blocked, dir := isBlockedDir(root); blocked {
			lastErr = rpcerr.New(rpcerr.CodeAuthorization, fmt.Sprintf("configured root resolves into blocked system directory %q", dir),
				rpcerr.WithAuditEvent(audit.EventPathBlocked))
			continue
		}
		joined := filepath.Join(root, candidate)
		resolved, err := filepath.Abs(joined)
		if err != nil {
			lastErr = rpcerr.New(rpcerr.CodeInternal, fmt.Sprintf("resolve path: %v", err))
			continue
		}
		if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			lastErr = rpcerr.New(rpcerr.CodeAuthorization, "path escapes the permitted directory",
				rpcerr.WithDetails(map[string]string{"path": candidate}),
				rpcerr.WithAuditEvent(audit.EventPathNotAllowed))
			continue
		}
		if blocked, dir := isBlockedDir(resolved); blocked {
			lastErr = rpcerr.New(rpcerr.CodeAuthorization, fmt.Sprintf("path resolves into blocked system directory %q", dir),
				rpcerr.WithAuditEvent(audit.EventPathBlocked))
			continue
		}
		return resolved, nil
	}
	if lastErr == nil {
		lastErr = rpcerr.New(rpcerr.CodeAuthorization, "path is not within any permitted directory",
			rpcerr.WithDetails(map[string]string{"path": candidate}),
			rpcerr.WithAuditEvent(audit.EventPathNotAllowed))
	}
	return "", lastErr
}

// isBlockedDir reports whether resolved is, or is nested under, one of
// blockedDirs.
func isBlockedDir(resolved string) (bool, string) {
	for _, blocked := range blockedDirs {
		if resolved == blocked || strings.HasPrefix(resolved, blocked+string(filepath.Separator)) {
			return true, blocked
		}
	}
	return false, ""
}
