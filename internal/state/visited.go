package state

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// VisitedSet records the URLs a crawl run has visited. A bloom filter
// answers most negative lookups; the exact map resolves its false positives.
type VisitedSet struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
	order  []string
}

// NewVisitedSet sizes the filter for about estimatedItems URLs.
func NewVisitedSet(estimatedItems int) *VisitedSet {
	if estimatedItems < 100 {
		estimatedItems = 100
	}

	return &VisitedSet{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// Add inserts url and reports whether it was new.
func (v *VisitedSet) Add(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.exact[url]; ok {
		return false
	}
	v.filter.AddString(url)
	v.exact[url] = struct{}{}
	v.order = append(v.order, url)
	return true
}

// Has reports whether url was added.
func (v *VisitedSet) Has(url string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.filter.TestString(url) {
		return false
	}
	_, ok := v.exact[url]
	return ok
}

// Len returns the number of distinct URLs.
func (v *VisitedSet) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.order)
}

// List returns the URLs in insertion order.
func (v *VisitedSet) List() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.order...)
}

// Reset empties the set.
func (v *VisitedSet) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.filter.ClearAll()
	v.exact = make(map[string]struct{})
	v.order = nil
}
