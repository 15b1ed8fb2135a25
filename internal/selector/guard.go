package selector

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxValueLength is the hard cap on a selector value's length.
const MaxValueLength = 10000

var (
	cssInjectionPattern = regexp.MustCompile(`(?i)url\s*\(\s*["']?\s*javascript:`)
	cssExpressionPattern = regexp.MustCompile(`(?i)expression\s*\(`)
	xpathDocumentPattern = regexp.MustCompile(`(?i)document\s*\(`)
)

// Validate rejects empty/whitespace-only values, over-length values, and
// values matching known CSS/XPath injection patterns, grounded on
// internal/security/security_checks.go's table-driven regex checks.
func Validate(s Selector) error {
	value := valueToCheck(s)
	if value == "" {
		return nil // coordinates/ref carry no string value to guard
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("selector: value is empty or whitespace")
	}
	if len(value) > MaxValueLength {
		return fmt.Errorf("selector: value exceeds %d characters", MaxValueLength)
	}

	switch s.Kind {
	case KindCSS:
		if cssInjectionPattern.MatchString(value) || cssExpressionPattern.MatchString(value) {
			return fmt.Errorf("selector: CSS value contains a blocked pattern")
		}
	case KindXPath:
		if xpathDocumentPattern.MatchString(value) {
			return fmt.Errorf("selector: XPath value contains a blocked pattern")
		}
	}
	return nil
}

func valueToCheck(s Selector) string {
	switch s.Kind {
	case KindCSS, KindXPath, KindText, KindLabel, KindPlaceholder, KindTestID, KindSemantic:
		return s.Value
	case KindRole:
		return s.Role
	default:
		return ""
	}
}
