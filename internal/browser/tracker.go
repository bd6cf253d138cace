package browser

import (
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// tracker records stylesheet and script requests made by the current page.
type tracker struct {
	mu      sync.Mutex
	styles  map[string]struct{}
	scripts map[string]struct{}
}

func newTracker() *tracker {
	t := &tracker{}
	t.reset()
	return t
}

func (t *tracker) record(typ proto.NetworkResourceType, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch typ {
	case proto.NetworkResourceTypeStylesheet:
		t.styles[url] = struct{}{}
	case proto.NetworkResourceTypeScript:
		t.scripts[url] = struct{}{}
	}
}

func (t *tracker) reset() {
	t.mu.Lock()
	t.styles = make(map[string]struct{})
	t.scripts = make(map[string]struct{})
	t.mu.Unlock()
}

func (t *tracker) snapshot() (styles, scripts []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	styles = make([]string, 0, len(t.styles))
	for u := range t.styles {
		styles = append(styles, u)
	}
	scripts = make([]string, 0, len(t.scripts))
	for u := range t.scripts {
		scripts = append(scripts, u)
	}
	return styles, scripts
}
