// Package selector extracts single values from HTML documents using CSS or
// XPath rules with first-match semantics.
package selector

import (
	"fmt"
	"strings"
)

// Type is the selector engine a rule is written for.
type Type string

const (
	CSS   Type = "css"
	XPath Type = "xpath"
)

// Mode is what a rule extracts from the matched element.
type Mode string

const (
	Text      Mode = "text"
	HTML      Mode = "html"
	Attribute Mode = "attribute"
)

// DefaultAttribute is read when an attribute rule does not name one.
const DefaultAttribute = "href"

// Query is one extraction request against a document.
type Query struct {
	Type      Type
	Selector  string
	Mode      Mode
	Attribute string
}

// AttributeName returns the attribute an attribute-mode query reads.
func (q Query) AttributeName() string {
	if a := strings.TrimSpace(q.Attribute); a != "" {
		return a
	}
	return DefaultAttribute
}

// Validate checks the parts of q that do not depend on a document.
func (q Query) Validate() error {
	switch q.Type {
	case CSS, XPath:
	default:
		return &Error{Kind: EvalError, Selector: q.Selector, Cause: fmt.Errorf("unknown selector type %q", q.Type)}
	}

	switch q.Mode {
	case Text, HTML, Attribute:
	default:
		return &Error{Kind: EvalError, Selector: q.Selector, Cause: fmt.Errorf("unknown extract mode %q", q.Mode)}
	}

	if strings.TrimSpace(q.Selector) == "" {
		return &Error{Kind: EvalError, Selector: q.Selector, Cause: fmt.Errorf("empty selector")}
	}
	return nil
}

// ParseType accepts "css" or "xpath" in any case.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case CSS:
		return CSS, nil
	case XPath:
		return XPath, nil
	}
	return "", fmt.Errorf("invalid selector type: %q (want css or xpath)", s)
}

// ParseMode accepts "text", "html" or "attribute" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Text:
		return Text, nil
	case HTML:
		return HTML, nil
	case Attribute:
		return Attribute, nil
	}
	return "", fmt.Errorf("invalid extract mode: %q (want text, html or attribute)", s)
}

// Kind classifies extraction failures.
type Kind int

const (
	// NoMatch means no node matched the selector.
	NoMatch Kind = iota + 1
	// NotAnElement means the first match was a text, comment, attribute or document node.
	NotAnElement
	// EvalError means the selector could not be evaluated by its engine.
	EvalError
)

func (k Kind) String() string {
	switch k {
	case NoMatch:
		return "no_match"
	case NotAnElement:
		return "not_an_element"
	case EvalError:
		return "eval_error"
	default:
		return "unknown"
	}
}

// Error is returned by every extraction failure.
type Error struct {
	Kind     Kind
	Selector string
	Cause    error
}

// Sentinels for errors.Is.
var (
	ErrNoMatch      = &Error{Kind: NoMatch}
	ErrNotAnElement = &Error{Kind: NotAnElement}
	ErrEval         = &Error{Kind: EvalError}
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("selector %q: %s", e.Selector, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
