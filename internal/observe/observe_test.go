package observe

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/registry"
)

func TestPreferredSelectorPriority(t *testing.T) {
	assert.Equal(t, "testId:submit", PreferredSelector(Candidate{TestID: "submit", DOMID: "x", AriaLabel: "y"}))
	assert.Equal(t, "css:#x", PreferredSelector(Candidate{DOMID: "x", AriaLabel: "y"}))
	assert.Equal(t, "label:y", PreferredSelector(Candidate{AriaLabel: "y", CSSSelector: "div > span"}))
	assert.Equal(t, "css:div > span", PreferredSelector(Candidate{CSSSelector: "div > span"}))
	assert.Equal(t, `role:button[name="Go"]`, PreferredSelector(Candidate{Role: "button", Name: "Go"}))
}

func TestEnumerateRegistersRefs(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	o := New(reg)

	elements := o.Enumerate("page-1", []Candidate{
			{Role: "button", TestID: "submit", Bounds: Rect{X: 1, Y: 2, Width: 3, Height: 4}},
			{Role: "link", AriaLabel: "Home"},
	})

	require.Len(t, elements, 2)
	assert.NotEmpty(t, elements[0].Ref)
	assert.NotEmpty(t, elements[1].Ref)
	assert.NotEqual(t, elements[0].Ref, elements[1].Ref)

	resolved, ok := reg.Resolve(elements[0].Ref)
	assert.True(t, ok)
	assert.Equal(t, "page-1", resolved)

	want := []Element{
		{Role: "button", Selector: "testId:submit", Bounds: Rect{X: 1, Y: 2, Width: 3, Height: 4}},
		{Role: "link", Name: "Home", Selector: "label:Home"},
	}
	if diff := cmp.Diff(want, elements, cmpopts.IgnoreFields(Element{}, "Ref")); diff != "" {
		t.Errorf("Enumerate() mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumerateNamePrefersAriaLabel(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	o := New(reg)

	elements := o.Enumerate("page-1", []Candidate{
			{Role: "button", AriaLabel: "Close dialog", TextContent: "X", Name: "fallback"},
	})

	require.Len(t, elements, 1)
	assert.Equal(t, "Close dialog", elements[0].Name)
}

func TestCaptureAssignsSequentialMarks(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	o := New(reg)

	snap, err := o.Capture(context.Background(), nil, "page-1", []Candidate{
			{Role: "button", TestID: "a"},
			{Role: "button", TestID: "b"},
		}, false, AnnotateOptions{}, nil)

	require.NoError(t, err)
	require.Len(t, snap.Elements, 2)
	assert.Equal(t, 1, snap.Elements[0].Mark)
	assert.Equal(t, 2, snap.Elements[1].Mark)
	assert.Nil(t, snap.Screenshot)
	assert.False(t, snap.Annotated)
}

func TestCaptureCallsAnnotatorWhenRequested(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	o := New(reg)

	var capturedMarks []Element
	annotator := func(ctx context.Context, page engine.Page, marks []Element, opts AnnotateOptions) ([]byte, error) {
		capturedMarks = marks
		return []byte("fake-png"), nil
	}

	snap, err := o.Capture(context.Background(), nil, "page-1", []Candidate{
			{Role: "button", TestID: "a"},
		}, true, AnnotateOptions{}, annotator)

	require.NoError(t, err)
	assert.Equal(t, []byte("fake-png"), snap.Screenshot)
	assert.True(t, snap.Annotated)
	require.Len(t, capturedMarks, 1)
	assert.Equal(t, 1, capturedMarks[0].Mark)
	require.Len(t, snap.AnnotationMap, 1)
	assert.Equal(t, "1", snap.AnnotationMap[0].Label)
	assert.Equal(t, capturedMarks[0].Ref, snap.AnnotationMap[0].Ref)
}

func TestCaptureHonorsMaxLabelsAndLabelFormat(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	o := New(reg)

	annotator := func(ctx context.Context, page engine.Page, marks []Element, opts AnnotateOptions) ([]byte, error) {
		return []byte("fake-png"), nil
	}

	snap, err := o.Capture(context.Background(), nil, "page-1", []Candidate{
			{Role: "button", TestID: "a"},
			{Role: "button", TestID: "b"},
			{Role: "button", TestID: "c"},
		}, true, AnnotateOptions{MaxLabels: 2, LabelFormat: "both"}, annotator)

	require.NoError(t, err)
	require.Len(t, snap.AnnotationMap, 2)
	assert.Equal(t, "1:"+snap.AnnotationMap[0].Ref, snap.AnnotationMap[0].Label)
}
