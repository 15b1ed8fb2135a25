package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	trail := New(10, nil, nil)
	trail.Record(Entry{SessionID: "sess-1", Method: "page.goto"})

	results := trail.Query(Filter{})
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].ID)
	assert.WithinDuration(t, time.Now(), results[0].Timestamp, time.Second)
}

func TestRecordEvictsOldestWhenFull(t *testing.T) {
	trail := New(2, nil, nil)
	trail.Record(Entry{Method: "first"})
	trail.Record(Entry{Method: "second"})
	trail.Record(Entry{Method: "third"})

	results := trail.Query(Filter{Limit: 10})
	require.Len(t, results, 2)
	// newest first
	assert.Equal(t, "third", results[0].Method)
	assert.Equal(t, "second", results[1].Method)
}

func TestRecordMirrorsToWriter(t *testing.T) {
	var buf bytes.Buffer
	trail := New(10, &buf, nil)
	trail.Record(Entry{SessionID: "sess-1", Method: "page.goto", Success: true})

	line := strings.TrimSpace(buf.String())
	var decoded Entry
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, "page.goto", decoded.Method)
}

func TestQueryFiltersBySessionAndMethod(t *testing.T) {
	trail := New(10, nil, nil)
	trail.Record(Entry{SessionID: "a", Method: "page.goto"})
	trail.Record(Entry{SessionID: "b", Method: "page.goto"})
	trail.Record(Entry{SessionID: "a", Method: "page.click"})

	results := trail.Query(Filter{SessionID: "a"})
	assert.Len(t, results, 2)

	results = trail.Query(Filter{SessionID: "a", Method: "page.click"})
	require.Len(t, results, 1)
	assert.Equal(t, "page.click", results[0].Method)
}

func TestQueryFiltersBySince(t *testing.T) {
	trail := New(10, nil, nil)
	trail.Record(Entry{Method: "old"})

	cutoff := time.Now().Add(time.Hour)
	trail.Record(Entry{Method: "new"})

	results := trail.Query(Filter{Since: &cutoff})
	assert.Empty(t, results)
}

func TestQueryDefaultLimitCaps(t *testing.T) {
	trail := New(defaultQueryLimit+50, nil, nil)
	for i := 0; i < defaultQueryLimit+10; i++ {
		trail.Record(Entry{Method: "x"})
	}
	results := trail.Query(Filter{})
	assert.Len(t, results, defaultQueryLimit)
}
