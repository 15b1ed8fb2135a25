// Package selector models BAP's Selector variants as a
// discriminated union with a string-form parser and formatter, and the
// injection-pattern validation the policy stack applies to selector
// values.
//
// The variant/tagged-union shape is new relative to the reference implementation (which
// operates on raw CSS strings); the validation style — compiled-once
// regexes in a small table — is grounded on
// internal/security/security_checks.go.
package selector

import "fmt"

// Kind identifies which Selector variant is populated.
type Kind string

const (
	KindCSS Kind = "css"
	KindXPath Kind = "xpath"
	KindRole Kind = "role"
	KindText Kind = "text"
	KindLabel Kind = "label"
	KindPlaceholder Kind = "placeholder"
	KindTestID Kind = "testId"
	KindCoordinates Kind = "coordinates"
	KindRef Kind = "ref"
	KindSemantic Kind = "semantic"
)

// Selector is a tagged union over every variant in Only the
// fields relevant to Kind are populated; unknown Kinds are rejected at
// Parse, matching the "unknown tags rejected at the parser" design note.
type Selector struct {
	Kind Kind

	Value string // css/xpath/text/label/placeholder/testId/semantic value
	Exact bool // text/role exact-match flag

	Role string // role kind
	Name string // role accessible name

	X, Y float64 // coordinates

	Ref string // stable ref token, e.g. "@save" or "@e1a2b3"
}

// CSS builds a css(value) selector.
func CSS(value string) Selector { return Selector{Kind: KindCSS, Value: value} }

// XPath builds an xpath(value) selector.
func XPath(value string) Selector { return Selector{Kind: KindXPath, Value: value} }

// Role builds a role(role, name?, exact?) selector.
func Role(role, name string, exact bool) Selector {
	return Selector{Kind: KindRole, Role: role, Name: name, Exact: exact}
}

// Text builds a text(value, exact?) selector.
func Text(value string, exact bool) Selector {
	return Selector{Kind: KindText, Value: value, Exact: exact}
}

// Label builds a label(value) selector.
func Label(value string) Selector { return Selector{Kind: KindLabel, Value: value} }

// Placeholder builds a placeholder(value) selector.
func Placeholder(value string) Selector { return Selector{Kind: KindPlaceholder, Value: value} }

// TestID builds a testId(value) selector.
func TestID(value string) Selector { return Selector{Kind: KindTestID, Value: value} }

// Coordinates builds a coordinates(x,y) selector.
func Coordinates(x, y float64) Selector { return Selector{Kind: KindCoordinates, X: x, Y: y} }

// Ref builds a ref(refId) selector.
func Ref(refID string) Selector { return Selector{Kind: KindRef, Ref: refID} }

// Semantic builds a semantic(description) selector. Per spec's Open
// Question, resolution always falls back to a text match — callers should
// not assume any stronger semantic matching occurs.
func Semantic(description string) Selector { return Selector{Kind: KindSemantic, Value: description} }

// String renders the selector back to its canonical string form. Combined
// with Parse, String satisfies the round-trip property required by spec
// Testable Property 11: Format(Parse(s)) == s for every canonical form.
func (s Selector) String() string {
	switch s.Kind {
	case KindCSS:
		return "css:" + s.Value
	case KindXPath:
		return "xpath:" + s.Value
	case KindRole:
		if s.Name != "" {
			return fmt.Sprintf("role:%s:%q", s.Role, s.Name)
		}
		return "role:" + s.Role
	case KindText:
		return fmt.Sprintf("text:%q", s.Value)
	case KindLabel:
		return fmt.Sprintf("label:%q", s.Value)
	case KindPlaceholder:
		return fmt.Sprintf("placeholder:%q", s.Value)
	case KindTestID:
		return "testid:" + s.Value
	case KindCoordinates:
		return fmt.Sprintf("coords:%g,%g", s.X, s.Y)
	case KindRef:
		return "ref:@" + s.Ref
	case KindSemantic:
		return fmt.Sprintf("semantic:%q", s.Value)
	default:
		return ""
	}
}
