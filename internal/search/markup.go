package search

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type matcher func(*html.Node) bool

// findAll walks the tree depth-first and returns every element matching m.
func findAll(n *html.Node, m matcher) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && m(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findFirst(n *html.Node, m matcher) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && m(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, m); found != nil {
			return found
		}
	}
	return nil
}

// closest returns the nearest ancestor (or n itself) matching m.
func closest(n *html.Node, m matcher) *html.Node {
	for ; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && m(n) {
			return n
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}

func byClass(classes ...string) matcher {
	return func(n *html.Node) bool {
		for _, c := range classes {
			if hasClass(n, c) {
				return true
			}
		}
		return false
	}
}

func byID(ids ...string) matcher {
	return func(n *html.Node) bool {
		id := attr(n, "id")
		for _, want := range ids {
			if strings.EqualFold(id, want) {
				return true
			}
		}
		return false
	}
}

func byTag(tags ...atom.Atom) matcher {
	return func(n *html.Node) bool {
		for _, t := range tags {
			if n.DataAtom == t {
				return true
			}
		}
		return false
	}
}

func anyOf(ms ...matcher) matcher {
	return func(n *html.Node) bool {
		for _, m := range ms {
			if m(n) {
				return true
			}
		}
		return false
	}
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true, atom.Br: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.Dt: true,
	atom.Dd: true, atom.Section: true, atom.Article: true, atom.Ul: true, atom.Table: true,
}

// nodeLines returns the visible text of n, one line per block element, with
// whitespace collapsed inside each line.
func nodeLines(n *html.Node) []string {
	if n == nil {
		return nil
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
			if blockElements[n.DataAtom] {
				b.WriteByte('\n')
				defer b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// nodeText returns the visible text of n on a single line.
func nodeText(n *html.Node) string {
	return strings.Join(nodeLines(n), " ")
}

// fragmentText extracts plain text from an HTML/XML fragment such as a
// gazette document body.
func fragmentText(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	var lines []string
	for _, n := range nodes {
		lines = append(lines, nodeLines(n)...)
	}
	return strings.Join(lines, "\n")
}
