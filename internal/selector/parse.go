package selector

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse recognizes the string forms listed in :
// role:R:"Name", text:"...", label:"...", placeholder:"...", testid:...,
// css:..., xpath:..., coords:X,Y, ref:@x / @x, e<N> (positional ref
// compatibility), bare #id / .class (CSS shorthand).
func Parse(s string) (Selector, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Selector{}, fmt.Errorf("selector: empty string")
	}

	if strings.HasPrefix(trimmed, "@") {
		return Ref(trimmed[1:]), nil
	}
	if isPositionalRef(trimmed) {
		return Ref(trimmed), nil
	}
	if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ".") {
		return CSS(trimmed), nil
	}

	kind, rest, ok := splitPrefix(trimmed)
	if !ok {
		return Selector{}, fmt.Errorf("selector: unrecognized form %q", s)
	}

	switch kind {
	case "css":
		return CSS(rest), nil
	case "xpath":
		return XPath(rest), nil
	case "testid":
		return TestID(rest), nil
	case "text":
		value, exact := unquoteWithExact(rest)
		return Text(value, exact), nil
	case "label":
		value, _ := unquoteWithExact(rest)
		return Label(value), nil
	case "placeholder":
		value, _ := unquoteWithExact(rest)
		return Placeholder(value), nil
	case "semantic":
		value, _ := unquoteWithExact(rest)
		return Semantic(value), nil
	case "ref":
		return Ref(strings.TrimPrefix(rest, "@")), nil
	case "role":
		return parseRole(rest)
	case "coords":
		return parseCoords(rest)
	default:
		return Selector{}, fmt.Errorf("selector: unrecognized prefix %q", kind)
	}
}

func splitPrefix(s string) (kind, rest string, ok bool) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// isPositionalRef recognizes the "e<N>" positional-ref compatibility form,
// e.g. "e3".
func isPositionalRef(s string) bool {
	if len(s) < 2 || s[0] != 'e' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// unquoteWithExact strips surrounding quotes (if present) and reports
// whether the value looked like an exact quoted match.
func unquoteWithExact(s string) (value string, exact bool) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], true
	}
	return s, false
}

func parseRole(rest string) (Selector, error) {
	parts := strings.SplitN(rest, ":", 2)
	role := parts[0]
	if len(parts) == 1 {
		return Role(role, "", false), nil
	}
	name, exact := unquoteWithExact(parts[1])
	return Role(role, name, exact), nil
}

func parseCoords(rest string) (Selector, error) {
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return Selector{}, fmt.Errorf("selector: coords requires X,Y")
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Selector{}, fmt.Errorf("selector: invalid X: %w", err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Selector{}, fmt.Errorf("selector: invalid Y: %w", err)
	}
	return Coordinates(x, y), nil
}
