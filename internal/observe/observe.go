// Package observe implements BAP's observe + annotate pipeline (spec
// (method agent/observe): it enumerates a page's interactive
// elements, computes the selector BAP would prefer to use for each one,
// and can produce a Set-of-Marks annotated screenshot for a vision-model
// caller.
//
// Grounded on internal/annotation/store.go for the Rect
// shape (viewport-relative bounding box) and on internal/registry for the
// ref-priority ordering it reuses (testId > DOM id > ariaLabel > hash),
// so the two packages agree on what "the same element" means.
package observe

import (
	"context"
	"fmt"
	"strconv"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/registry"
)

// Rect is a viewport-relative bounding box.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Width float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is one interactive element discovered by an observe pass.
type Element struct {
	Ref string `json:"ref"`
	Role string `json:"role"`
	Name string `json:"name"`
	Tag string `json:"tag"`
	Selector string `json:"selector"`
	Bounds Rect `json:"bounds"`
	Mark int `json:"mark,omitempty"`
}

// Candidate is the raw per-element data the engine surfaces; the
// Observer turns a slice of these into registered, ref-bearing Elements.
type Candidate struct {
	Role string
	Name string
	Tag string
	TestID string
	DOMID string
	AriaLabel string
	TextContent string
	Bounds Rect
	CSSSelector string // best-effort unique CSS path, used as the fallback re-resolution selector
}

// Observer enumerates interactive elements and annotates screenshots.
type Observer struct {
	registry *registry.Registry
}

func New(reg *registry.Registry) *Observer {
	return &Observer{registry: reg}
}

// Enumerate converts engine-surfaced candidates into registered Elements,
// assigning each a stable ref via the shared registry so a later
// agent/act call can resolve "ref:@<id>" back to this element.
func (o *Observer) Enumerate(pageID string, candidates []Candidate) []Element {
	elements := make([]Element, 0, len(candidates))
	for _, c := range candidates {
		identity := registry.Identity{
			TestID: c.TestID,
			DOMID: c.DOMID,
			AriaLabel: c.AriaLabel,
			Role: c.Role,
			TagName: c.Tag,
			TextContent: c.TextContent,
			Bounds: [4]float64{c.Bounds.X, c.Bounds.Y, c.Bounds.Width, c.Bounds.Height},
		}
		selector := PreferredSelector(c)
		ref := o.registry.Register(pageID, identity, selector)
		elements = append(elements, Element{
				Ref: ref,
				Role: c.Role,
				Name: firstNonEmpty(c.AriaLabel, c.TextContent, c.Name),
				Tag: c.Tag,
				Selector: selector,
				Bounds: c.Bounds,
		})
	}
	return elements
}

// PreferredSelector computes the selector string BAP should use to
// re-resolve this element against the live engine, following the same
// priority order as internal/registry's ref generation so that "the
// selector BAP would choose" and "the ref BAP assigns" are always
// consistent with one another.
func PreferredSelector(c Candidate) string {
	switch {
	case c.TestID != "":
		return fmt.Sprintf("testId:%s", c.TestID)
	case c.DOMID != "":
		return fmt.Sprintf("css:#%s", c.DOMID)
	case c.AriaLabel != "":
		return fmt.Sprintf("label:%s", c.AriaLabel)
	case c.CSSSelector != "":
		return fmt.Sprintf("css:%s", c.CSSSelector)
	default:
		return fmt.Sprintf("role:%s[name=%q]", c.Role, c.Name)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// AnnotationEntry records where one Set-of-Marks label was drawn, so a
// caller can map a label back to the element ref and screen position it
// annotates without re-running element enumeration.
type AnnotationEntry struct {
	Label string `json:"label"`
	Ref string `json:"ref"`
	Position Rect `json:"position"`
}

// AnnotationStyle controls the visual appearance of Set-of-Marks badges
// and boxes; zero-valued fields are filled in from
// DefaultAnnotationStyle by Capture.
type AnnotationStyle struct {
	BadgeColor string `json:"badgeColor"`
	TextColor string `json:"textColor"`
	BadgeSize int `json:"badgeSize"`
	Font string `json:"font"`
	BoxColor string `json:"boxColor"`
	BoxWidth int `json:"boxWidth"`
	BoxDashed bool `json:"boxDashed"`
	Opacity float64 `json:"opacity"`
}

// DefaultAnnotationStyle matches suggested Set-of-Marks badge/box styling.
func DefaultAnnotationStyle() AnnotationStyle {
	return AnnotationStyle{
		BadgeColor: "#ff3b30",
		TextColor: "#ffffff",
		BadgeSize: 14,
		Font: "sans-serif",
		BoxColor: "#ff3b30",
		BoxWidth: 2,
		BoxDashed: false,
		Opacity: 1,
	}
}

// AnnotateOptions configures how many elements get a Set-of-Marks badge
// and what the badge text/style shows.
type AnnotateOptions struct {
	// MaxLabels caps how many ranked elements are annotated; <=0 means
	// DefaultAnnotateOptions' default of 50.
	MaxLabels int
	// LabelFormat is "number" (default), "ref", or "both".
	LabelFormat string
	// Style is the badge/box appearance; the zero value defaults to
	// DefaultAnnotationStyle.
	Style AnnotationStyle
}

// DefaultAnnotateOptions matches suggested Set-of-Marks defaults.
func DefaultAnnotateOptions() AnnotateOptions {
	return AnnotateOptions{MaxLabels: 50, LabelFormat: "number", Style: DefaultAnnotationStyle()}
}

// Annotator renders numbered badges/boxes for marks over page's current
// screenshot and returns the resulting PNG bytes. The drawing itself runs
// in-page (a canvas evaluator), since only the browser engine has access
// to actual pixel coordinates and device scale factor.
type Annotator func(ctx context.Context, page engine.Page, marks []Element, opts AnnotateOptions) ([]byte, error)

// Snapshot holds the observation result for one page: the element list
// and, when requested, the Set-of-Marks annotated screenshot plus the
// label-to-element map for that annotation.
type Snapshot struct {
	Elements []Element `json:"elements"`
	Screenshot []byte `json:"screenshot,omitempty"`
	Annotated bool `json:"annotated,omitempty"`
	AnnotationMap []AnnotationEntry `json:"annotationMap,omitempty"`
}

// Capture enumerates interactive elements on page and, if annotate is
// true, calls annotator to produce a Set-of-Marks screenshot over up to
// opts.MaxLabels of the ranked elements. The actual pixel annotation is
// delegated to annotator since it depends on the engine's in-page
// evaluator; this package owns only the element geometry, numbering, and
// the resulting annotationMap.
func (o *Observer) Capture(ctx context.Context, page engine.Page, pageID string, candidates []Candidate, annotate bool, opts AnnotateOptions, annotator Annotator) (Snapshot, error) {
	elements := o.Enumerate(pageID, candidates)
	for i := range elements {
		elements[i].Mark = i + 1
	}

	snap := Snapshot{Elements: elements}
	if !annotate || annotator == nil {
		return snap, nil
	}

	if opts.MaxLabels <= 0 {
		opts.MaxLabels = DefaultAnnotateOptions().MaxLabels
	}
	if opts.LabelFormat == "" {
		opts.LabelFormat = DefaultAnnotateOptions().LabelFormat
	}
	if opts.Style == (AnnotationStyle{}) {
		opts.Style = DefaultAnnotationStyle()
	}
	marks := elements
	if len(marks) > opts.MaxLabels {
		marks = marks[:opts.MaxLabels]
	}

	shot, err := annotator(ctx, page, marks, opts)
	if err != nil {
		return snap, err
	}
	snap.Screenshot = shot
	snap.Annotated = true
	snap.AnnotationMap = make([]AnnotationEntry, len(marks))
	for i, m := range marks {
		snap.AnnotationMap[i] = AnnotationEntry{Label: AnnotationLabel(m, opts.LabelFormat), Ref: m.Ref, Position: m.Bounds}
	}
	return snap, nil
}

// AnnotationLabel computes the badge text for mark e under the given
// LabelFormat ("number", "ref", or "both"); exported so an Annotator
// implementation can draw the same text Capture records in the
// annotationMap.
func AnnotationLabel(e Element, format string) string {
	switch format {
	case "ref":
		return e.Ref
	case "both":
		return fmt.Sprintf("%d:%s", e.Mark, e.Ref)
	default:
		return strconv.Itoa(e.Mark)
	}
}
