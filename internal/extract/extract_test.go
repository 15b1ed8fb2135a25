package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicText(t *testing.T) {
	doc := `<html><body><h1>Title</h1><p>Hello world.</p><script>ignored()</script></body></html>`

	result, err := Heuristic(doc, Request{Kind: KindText})
	require.NoError(t, err)

	assert.Contains(t, result.Text, "Title")
	assert.Contains(t, result.Text, "Hello world.")
	assert.NotContains(t, result.Text, "ignored")
}

func TestHeuristicTextTruncates(t *testing.T) {
	doc := `<p>0123456789</p>`

	result, err := Heuristic(doc, Request{Kind: KindText, MaxLength: 4})
	require.NoError(t, err)

	assert.Len(t, result.Text, 4)
	assert.True(t, result.Truncated)
}

func TestHeuristicTable(t *testing.T) {
	doc := `<table>
 <tr><th>Name</th><th>Age</th></tr>
 <tr><td>Alice</td><td>30</td></tr>
 <tr><td>Bob</td><td>41</td></tr>
	</table>`

	result, err := Heuristic(doc, Request{Kind: KindTable})
	require.NoError(t, err)
	require.Len(t, result.Tables, 1)

	rows := result.Tables[0].Rows
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Name", "Age"}, rows[0])
	assert.Equal(t, []string{"Alice", "30"}, rows[1])
	assert.Equal(t, []string{"Bob", "41"}, rows[2])
}

func TestHeuristicMultipleTables(t *testing.T) {
	doc := `<table><tr><td>a</td></tr></table><table><tr><td>b</td></tr></table>`

	result, err := Heuristic(doc, Request{Kind: KindTable})
	require.NoError(t, err)
	assert.Len(t, result.Tables, 2)
}

func TestHeuristicOrderedAndUnorderedLists(t *testing.T) {
	doc := `<ul><li>first</li><li>second</li></ul><ol><li>one</li><li>two</li></ol>`

	result, err := Heuristic(doc, Request{Kind: KindList})
	require.NoError(t, err)
	require.Len(t, result.Lists, 2)

	assert.False(t, result.Lists[0].Ordered)
	assert.Equal(t, []string{"first", "second"}, result.Lists[0].Items)

	assert.True(t, result.Lists[1].Ordered)
	assert.Equal(t, []string{"one", "two"}, result.Lists[1].Items)
}

func TestHeuristicEmptyDocument(t *testing.T) {
	result, err := Heuristic("", Request{Kind: KindText})
	require.NoError(t, err)
	assert.Empty(t, result.Text)
}

func TestHeuristicSkipsNonContentTags(t *testing.T) {
	doc := `<body><nav>Menu</nav><footer>Copyright</footer><p>Real content</p></body>`

	result, err := Heuristic(doc, Request{Kind: KindText})
	require.NoError(t, err)

	assert.Contains(t, result.Text, "Real content")
	assert.NotContains(t, result.Text, "Menu")
	assert.NotContains(t, result.Text, "Copyright")
}
