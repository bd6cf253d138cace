package selector

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// Evaluator runs queries against one loaded page.
type Evaluator interface {
	Extract(q Query) (string, error)
}

// Document is a parsed HTML page shared by the CSS and XPath engines.
type Document struct {
	root *html.Node
	doc  *goquery.Document

	// pre-order position of every node, built on the first XPath query
	order map[*html.Node]int
}

// Parse builds a Document from raw HTML. The HTML5 parser recovers from
// malformed markup, so errors only come from the reader.
func Parse(raw string) (*Document, error) {
	root, err := htmlquery.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{
		root: root,
		doc:  goquery.NewDocumentFromNode(root),
	}, nil
}

// Goquery exposes the CSS view of the document.
func (d *Document) Goquery() *goquery.Document {
	return d.doc
}

// Extract returns the value q selects from the first matching node.
func (d *Document) Extract(q Query) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}

	switch q.Type {
	case CSS:
		return d.extractCSS(q)
	default:
		return d.extractXPath(q)
	}
}

func (d *Document) extractCSS(q Query) (string, error) {
	matcher, err := cascadia.Compile(q.Selector)
	if err != nil {
		return "", &Error{Kind: EvalError, Selector: q.Selector, Cause: err}
	}

	sel := d.doc.FindMatcher(goquery.SingleMatcher(matcher))
	if sel.Length() == 0 {
		return "", &Error{Kind: NoMatch, Selector: q.Selector}
	}

	switch q.Mode {
	case HTML:
		inner, err := sel.Html()
		if err != nil {
			return "", &Error{Kind: EvalError, Selector: q.Selector, Cause: err}
		}
		return strings.TrimSpace(inner), nil
	case Text:
		return strings.TrimSpace(sel.Text()), nil
	default:
		val, _ := sel.Attr(q.AttributeName())
		return strings.TrimSpace(val), nil
	}
}

func (d *Document) extractXPath(q Query) (val string, err error) {
	expr, err := xpath.Compile(q.Selector)
	if err != nil {
		return "", &Error{Kind: EvalError, Selector: q.Selector, Cause: err}
	}

	// Some malformed expressions only fail during evaluation.
	defer func() {
		if r := recover(); r != nil {
			val = ""
			err = &Error{Kind: EvalError, Selector: q.Selector, Cause: fmt.Errorf("%v", r)}
		}
	}()

	iter, ok := expr.Evaluate(htmlquery.CreateXPathNavigator(d.root)).(*xpath.NodeIterator)
	if !ok {
		return "", &Error{Kind: EvalError, Selector: q.Selector, Cause: fmt.Errorf("expression does not select nodes")}
	}
	nav, found := d.firstInDocumentOrder(iter)
	if !found {
		return "", &Error{Kind: NoMatch, Selector: q.Selector}
	}
	if nav == nil || nav.NodeType() != xpath.ElementNode {
		return "", &Error{Kind: NotAnElement, Selector: q.Selector}
	}
	node := nav.Current()

	switch q.Mode {
	case HTML:
		return strings.TrimSpace(htmlquery.OutputHTML(node, false)), nil
	case Text:
		return strings.TrimSpace(htmlquery.InnerText(node)), nil
	default:
		return strings.TrimSpace(htmlquery.SelectAttr(node, q.AttributeName())), nil
	}
}

// firstInDocumentOrder drains iter and returns the match that comes first
// in the document. Union results arrive in expression order, so the first
// item of the iterator is not necessarily the first node. nav is nil when a
// match is not an HTML node.
func (d *Document) firstInDocumentOrder(iter *xpath.NodeIterator) (nav *htmlquery.NodeNavigator, found bool) {
	best := -1
	for iter.MoveNext() {
		found = true
		cur, ok := iter.Current().(*htmlquery.NodeNavigator)
		if !ok {
			return nil, true
		}

		// an attribute sorts right after its owner element
		key := d.position(cur.Current()) * 2
		if cur.NodeType() == xpath.AttributeNode {
			key++
		}
		if best < 0 || key < best {
			best = key
			nav = cur.Copy().(*htmlquery.NodeNavigator)
		}
	}
	return nav, found
}

func (d *Document) position(n *html.Node) int {
	if d.order == nil {
		d.order = make(map[*html.Node]int)
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			d.order[n] = len(d.order)
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(d.root)
	}
	return d.order[n]
}

// Compile checks that q is well formed and that its selector compiles for
// its engine.
func Compile(q Query) error {
	if err := q.Validate(); err != nil {
		return err
	}

	var err error
	switch q.Type {
	case CSS:
		_, err = cascadia.Compile(q.Selector)
	default:
		_, err = xpath.Compile(q.Selector)
	}
	if err != nil {
		return &Error{Kind: EvalError, Selector: q.Selector, Cause: err}
	}
	return nil
}

// ExtractField parses raw and extracts one field.
func ExtractField(raw string, typ Type, sel string, mode Mode, attribute string) (string, error) {
	doc, err := Parse(raw)
	if err != nil {
		return "", &Error{Kind: EvalError, Selector: sel, Cause: err}
	}
	return doc.Extract(Query{Type: typ, Selector: sel, Mode: mode, Attribute: attribute})
}

// ExtractNextURL parses raw and reads attribute from the first match of sel.
// The value is returned unresolved.
func ExtractNextURL(raw string, typ Type, sel string, attribute string) (string, error) {
	return ExtractField(raw, typ, sel, Attribute, attribute)
}
