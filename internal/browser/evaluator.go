package browser

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/pagewalker/internal/selector"
)

// extractJS mirrors selector.Document.Extract using the page's own engines.
const extractJS = `(type, sel, mode, attr) => {
	let node;
	try {
		node = type === 'css'
			? document.querySelector(sel)
			: document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	} catch (e) {
		return { kind: 'eval_error', error: String(e) };
	}
	if (!node) return { kind: 'no_match' };
	if (!(node instanceof Element)) return { kind: 'not_an_element' };
	if (mode === 'html') return { kind: 'ok', value: node.innerHTML.trim() };
	if (mode === 'text') return { kind: 'ok', value: (node.textContent || '').trim() };
	return { kind: 'ok', value: (node.getAttribute(attr) || '').trim() };
}`

// pageEvaluator runs selectors inside the live DOM of a rendered page.
type pageEvaluator struct {
	page *rod.Page
}

func (e *pageEvaluator) Extract(q selector.Query) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}

	res, err := e.page.Eval(extractJS, string(q.Type), q.Selector, string(q.Mode), q.AttributeName())
	if err != nil {
		return "", &selector.Error{Kind: selector.EvalError, Selector: q.Selector, Cause: err}
	}

	kind, value, msg := decodeResult(res.Value)
	switch kind {
	case "ok":
		return value, nil
	case "no_match":
		return "", &selector.Error{Kind: selector.NoMatch, Selector: q.Selector}
	case "not_an_element":
		return "", &selector.Error{Kind: selector.NotAnElement, Selector: q.Selector}
	default:
		return "", &selector.Error{
			Kind:     selector.EvalError,
			Selector: q.Selector,
			Cause:    fmt.Errorf("%s", msg),
		}
	}
}

func decodeResult(v gson.JSON) (kind, value, msg string) {
	str := func(key string) string {
		if f := v.Get(key); !f.Nil() {
			return f.Str()
		}
		return ""
	}
	return str("kind"), str("value"), str("error")
}
