// Package extract implements BAP's deterministic heuristic data extractor
// (method agent/extract). It walks a page's HTML and pulls out the shapes
// an agent most often wants in one round trip: the visible text, every
// table as rows of cells, and every list as an ordered slice of items. No
// model is consulted; this is intentionally the weak, mechanical baseline
// this, with an ExtractorFunc seam left for a future
// plug-in rather than anything built into this repository.
//
// Grounded on internal/tools/research/web_fetch.go:
// html.Parse over the raw document plus a depth-guarded recursive walk
// classifying nodes by tag, reusing the same golang.org/x/net/html
// dependency and the same skip-list for non-content tags.
package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// Kind names what shape to extract.
type Kind string

const (
	KindText Kind = "text"
	KindTable Kind = "table"
	KindList Kind = "list"
)

// Request describes one extraction call.
type Request struct {
	Kind Kind
	Selector string // optional CSS-ish scope hint; "" means whole document
	MaxLength int // 0 means no truncation
}

// Table is one <table> rendered as rows of cell text.
type Table struct {
	Rows [][]string `json:"rows"`
}

// List is one <ul>/<ol> rendered as item text, in document order.
type List struct {
	Ordered bool `json:"ordered"`
	Items []string `json:"items"`
}

// Result is the aggregate extraction output; only the field matching the
// request Kind is populated.
type Result struct {
	Text string `json:"text,omitempty"`
	Tables []Table `json:"tables,omitempty"`
	Lists []List `json:"lists,omitempty"`
	Truncated bool `json:"truncated,omitempty"`
}

// ExtractorFunc lets a caller plug in a smarter (e.g. model-backed)
// extractor without this package or its callers changing shape. Extract
// never constructs one itself; a nil fn always falls back to Heuristic.
type ExtractorFunc func(documentHTML string, req Request) (Result, error)

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"iframe": true, "svg": true, "nav": true, "footer": true, "header": true,
}

const maxWalkDepth = 80

// Heuristic extracts from raw page HTML using only structural tag rules,
// no semantic understanding of the page's content.
func Heuristic(documentHTML string, req Request) (Result, error) {
	doc, err := html.Parse(strings.NewReader(documentHTML))
	if err != nil {
		return Result{}, err
	}

	var result Result
	switch req.Kind {
	case KindTable:
		result.Tables = collectTables(doc)
	case KindList:
		result.Lists = collectLists(doc)
	default:
		var sb strings.Builder
		walkText(doc, &sb, 0)
		result.Text = cleanText(sb.String())
	}

	if req.MaxLength > 0 && result.Text != "" && len(result.Text) > req.MaxLength {
		result.Text = result.Text[:req.MaxLength]
		result.Truncated = true
	}
	return result, nil
}

func walkText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > maxWalkDepth {
		return
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	}
	if n.Type == html.ElementNode && skipTags[n.Data] {
		return
	}
	if n.Type == html.ElementNode && isBlock(n.Data) {
		sb.WriteString("\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb, depth+1)
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "br", "tr":
		return true
	default:
		return false
	}
}

func collectTables(n *html.Node) []Table {
	var tables []Table
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "table" {
			tables = append(tables, Table{Rows: tableRows(node)})
			return // tables do not nest in the shapes we care about
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return tables
}

func tableRows(table *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "tr" {
			var cells []string
			for c := node.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					var sb strings.Builder
					walkText(c, &sb, 0)
					cells = append(cells, strings.TrimSpace(cleanText(sb.String())))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

func collectLists(n *html.Node) []List {
	var lists []List
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && (node.Data == "ul" || node.Data == "ol") {
			items := make([]string, 0)
			for c := node.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.Data == "li" {
					var sb strings.Builder
					walkText(c, &sb, 0)
					items = append(items, strings.TrimSpace(cleanText(sb.String())))
				}
			}
			lists = append(lists, List{Ordered: node.Data == "ol", Items: items})
			return // lists do not nest in the shapes we care about
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return lists
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
