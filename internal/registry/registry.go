// Package registry implements BAP's Element Registry: stable
// "ref" identifiers for elements discovered by agent/observe, resolvable
// back to a live locator on later action calls, with staleness eviction
// and a similarity check used to recognize the "same" element returned
// again across repeated observes.
//
// Grounded on internal/annotation/store.go: the TTL-map +
// background cleanup loop is the same mechanism used here, narrowed to a
// single map (no named multi-page sessions) and keyed by generated ref
// instead of tabID/correlationID.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/browseragentprotocol/bap/internal/util"
)

// Identity is the tuple an element is fingerprinted by, used both to
// generate a stable ref and to compute the similarity ratio between two
// observations ("same element" is a similarity judgment, not
// strict equality, since DOM attributes can shift between observes).
type Identity struct {
	TestID string
	DOMID string
	AriaLabel string
	Role string
	TagName string
	TextContent string
	Bounds [4]float64 // x, y, width, height
}

// entry is one registered element, expiring after StaleAfter of no
// re-observation.
type entry struct {
	ref string
	pageID string
	identity Identity
	selector string // engine-facing selector string for re-resolution
	expiresAt time.Time
}

// StaleAfter is how long a ref remains resolvable without being seen
// again in an observe pass.
const StaleAfter = 60 * time.Second

// SimilarityThreshold is the minimum similarity ratio for two
// observations to be considered the same element.
const SimilarityThreshold = 0.8

// Registry maps stable refs to the element identity/selector needed to
// re-resolve them against the live engine.
type Registry struct {
	mu sync.RWMutex
	entries map[string]*entry
	byPage map[string][]string // pageID -> refs, for bulk eviction on page close

	done chan struct{}
	closeOnce sync.Once
}

// New constructs a Registry and starts its background staleness sweep.
func New() *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		byPage: make(map[string][]string),
		done: make(chan struct{}),
	}
	util.SafeGo(func() { r.sweepLoop() })
	return r
}

// Close stops the background sweep. Safe to call more than once.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Register assigns (or refreshes) a stable ref for id on pageID and
// returns it. Priority for the generated ref body follows :
// testId, then DOM id, then aria-label, then a content hash.
func (r *Registry) Register(pageID string, id Identity, selector string) string {
	ref := refFor(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[ref]; !exists {
		r.byPage[pageID] = append(r.byPage[pageID], ref)
	}
	r.entries[ref] = &entry{
		ref: ref,
		pageID: pageID,
		identity: id,
		selector: selector,
		expiresAt: time.Now().Add(StaleAfter),
	}
	return ref
}

// Resolve returns the engine-facing selector string for ref, refreshing
// its staleness window, or ("", false) if unknown or expired.
func (r *Registry) Resolve(ref string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	e.expiresAt = time.Now().Add(StaleAfter)
	return e.selector, true
}

// InvalidatePage drops every ref registered for pageID (called on page
// close / navigation, since refs do not survive a navigation per spec
// similarity-matching edge cases).
func (r *Registry) InvalidatePage(pageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range r.byPage[pageID] {
		delete(r.entries, ref)
	}
	delete(r.byPage, pageID)
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweepStale()
		}
	}
}

func (r *Registry) sweepStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for ref, e := range r.entries {
		if now.After(e.expiresAt) {
			delete(r.entries, ref)
			refs := r.byPage[e.pageID]
			for i, rr := range refs {
				if rr == ref {
					r.byPage[e.pageID] = append(refs[:i], refs[i+1:]...)
					break
				}
			}
		}
	}
}

// refFor generates a stable ref string for an identity, preferring stable
// human-meaningful attributes over a content hash (priority:
// testId > DOM id > ariaLabel > hash).
func refFor(id Identity) string {
	switch {
	case id.TestID != "":
		return "testid-" + sanitize(id.TestID)
	case id.DOMID != "":
		return "id-" + sanitize(id.DOMID)
	case id.AriaLabel != "":
		return "aria-" + sanitize(id.AriaLabel)
	default:
		return "hash-" + contentHash(id)
	}
}

func sanitize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

func contentHash(id Identity) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%.1f,%.1f", id.Role, id.TagName, id.TextContent, id.Bounds[0], id.Bounds[1])
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Similarity returns a ratio in [0,1] estimating how similar two
// identities are, used to decide whether a re-observed element should be
// treated as "the same" one.
func Similarity(a, b Identity) float64 {
	fields := []struct {
		match bool
		weight float64
	}{
		{a.TestID != "" && a.TestID == b.TestID, 0.35},
		{a.DOMID != "" && a.DOMID == b.DOMID, 0.25},
		{a.AriaLabel != "" && strings.EqualFold(a.AriaLabel, b.AriaLabel), 0.15},
		{a.Role != "" && a.Role == b.Role, 0.1},
		{a.TagName != "" && a.TagName == b.TagName, 0.05},
		{a.TextContent != "" && a.TextContent == b.TextContent, 0.1},
	}

	var totalWeight, scored float64
	for _, f := range fields {
		totalWeight += f.weight
		if f.match {
			scored += f.weight
		}
	}
	if totalWeight == 0 {
		return boundsSimilarity(a.Bounds, b.Bounds)
	}
	ratio := scored / totalWeight
	// Blend in bounds proximity so two elements with identical roles but
	// far-apart positions are not judged "the same".
	return 0.8*ratio + 0.2*boundsSimilarity(a.Bounds, b.Bounds)
}

func boundsSimilarity(a, b [4]float64) float64 {
	dx := abs(a[0] - b[0])
	dy := abs(a[1] - b[1])
	if dx > 50 || dy > 50 {
		return 0
	}
	return 1 - (dx+dy)/100
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// SameElement reports whether a and b should be treated as the same
// element per the configured similarity threshold.
func SameElement(a, b Identity) bool {
	return Similarity(a, b) >= SimilarityThreshold
}

// sortedRefs is a small helper used by tests to get deterministic
// ordering over a page's refs.
func sortedRefs(refs []string) []string {
	out := append([]string(nil), refs...)
	sort.Strings(out)
	return out
}
