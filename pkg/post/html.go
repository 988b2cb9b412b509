package post

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExtractText pulls the readable body out of embed markup. Paragraphs inside
// a post blockquote win; otherwise all text nodes are used.
func ExtractText(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}

	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(markup), root)
	if err != nil {
		return ""
	}

	var paragraphs []string
	var all []string
	for _, n := range nodes {
		walk(n, false, &paragraphs, &all)
	}

	if len(paragraphs) > 0 {
		return collapse(strings.Join(paragraphs, " "))
	}
	return collapse(strings.Join(all, " "))
}

func walk(n *html.Node, inQuote bool, paragraphs, all *[]string) {
	switch n.Type {
	case html.TextNode:
		*all = append(*all, n.Data)
		return
	case html.ElementNode:
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
		if n.DataAtom == atom.Blockquote && isPostQuote(n) {
			inQuote = true
		}
		if inQuote && n.DataAtom == atom.P {
			*paragraphs = append(*paragraphs, textContent(n))
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, inQuote, paragraphs, all)
	}
}

func isPostQuote(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, class := range strings.Fields(a.Val) {
			if class == "twitter-tweet" || class == "x-post" {
				return true
			}
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
