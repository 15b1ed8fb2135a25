package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterPrefersTestID(t *testing.T) {
	r := New()
	defer r.Close()

	ref := r.Register("page-1", Identity{TestID: "Submit Button", DOMID: "ignored"}, "css:#submit")
	assert.Equal(t, "testid-submit-button", ref)
}

func TestRegisterFallsBackToDOMID(t *testing.T) {
	r := New()
	defer r.Close()

	ref := r.Register("page-1", Identity{DOMID: "main-cta"}, "css:#main-cta")
	assert.Equal(t, "id-main-cta", ref)
}

func TestRegisterFallsBackToAriaLabel(t *testing.T) {
	r := New()
	defer r.Close()

	ref := r.Register("page-1", Identity{AriaLabel: "Close dialog"}, "label:Close dialog")
	assert.Equal(t, "aria-close-dialog", ref)
}

func TestRegisterFallsBackToContentHash(t *testing.T) {
	r := New()
	defer r.Close()

	ref := r.Register("page-1", Identity{Role: "button", TagName: "button", TextContent: "Go"}, "css:button")
	assert.Contains(t, ref, "hash-")
}

func TestResolveReturnsSelector(t *testing.T) {
	r := New()
	defer r.Close()

	ref := r.Register("page-1", Identity{DOMID: "x"}, "css:#x")
	selector, ok := r.Resolve(ref)
	assert.True(t, ok)
	assert.Equal(t, "css:#x", selector)
}

func TestResolveUnknownRefReturnsFalse(t *testing.T) {
	r := New()
	defer r.Close()

	_, ok := r.Resolve("id-nonexistent")
	assert.False(t, ok)
}

func TestResolveExpiredRefReturnsFalse(t *testing.T) {
	r := New()
	defer r.Close()

	ref := r.Register("page-1", Identity{DOMID: "x"}, "css:#x")

	r.mu.Lock()
	r.entries[ref].expiresAt = time.Now().Add(-time.Second)
	r.mu.Unlock()

	_, ok := r.Resolve(ref)
	assert.False(t, ok)
}

func TestInvalidatePageDropsAllRefs(t *testing.T) {
	r := New()
	defer r.Close()

	refA := r.Register("page-1", Identity{DOMID: "a"}, "css:#a")
	refB := r.Register("page-1", Identity{DOMID: "b"}, "css:#b")
	refOther := r.Register("page-2", Identity{DOMID: "c"}, "css:#c")

	r.InvalidatePage("page-1")

	_, ok := r.Resolve(refA)
	assert.False(t, ok)
	_, ok = r.Resolve(refB)
	assert.False(t, ok)
	_, ok = r.Resolve(refOther)
	assert.True(t, ok)
}

func TestSweepStaleRemovesExpiredEntries(t *testing.T) {
	r := New()
	defer r.Close()

	ref := r.Register("page-1", Identity{DOMID: "x"}, "css:#x")
	r.mu.Lock()
	r.entries[ref].expiresAt = time.Now().Add(-time.Second)
	r.mu.Unlock()

	r.sweepStale()

	r.mu.RLock()
	_, exists := r.entries[ref]
	pageRefs := sortedRefs(r.byPage["page-1"])
	r.mu.RUnlock()

	assert.False(t, exists)
	assert.Empty(t, pageRefs)
}

func TestSimilarityIdenticalIdentitiesIsHigh(t *testing.T) {
	id := Identity{TestID: "x", Role: "button", TagName: "button", TextContent: "Go", Bounds: [4]float64{10, 10, 20, 20}}
	assert.Equal(t, 1.0, Similarity(id, id))
	assert.True(t, SameElement(id, id))
}

func TestSimilarityDifferentIdentitiesIsLow(t *testing.T) {
	a := Identity{TestID: "a", Bounds: [4]float64{0, 0, 10, 10}}
	b := Identity{TestID: "b", Bounds: [4]float64{500, 500, 10, 10}}
	assert.False(t, SameElement(a, b))
}

func TestSimilarityFarApartBoundsNeverMatch(t *testing.T) {
	a := Identity{Role: "button", TagName: "button", Bounds: [4]float64{0, 0, 0, 0}}
	b := Identity{Role: "button", TagName: "button", Bounds: [4]float64{1000, 1000, 0, 0}}
	assert.Less(t, Similarity(a, b), SimilarityThreshold)
}

func TestRegisterRefreshesExpiryOnReObserve(t *testing.T) {
	r := New()
	defer r.Close()

	ref1 := r.Register("page-1", Identity{DOMID: "x"}, "css:#x")

	r.mu.Lock()
	r.entries[ref1].expiresAt = time.Now().Add(time.Millisecond)
	r.mu.Unlock()

	ref2 := r.Register("page-1", Identity{DOMID: "x"}, "css:#x")
	require.Equal(t, ref1, ref2)

	r.mu.RLock()
	expires := r.entries[ref1].expiresAt
	r.mu.RUnlock()
	assert.True(t, expires.After(time.Now().Add(time.Second)))
}
