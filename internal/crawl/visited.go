package crawl

import "sync"

// visitedSet remembers which URLs a crawl has already queued
type visitedSet struct {
	urls map[string]bool
	mu   sync.Mutex
}

func newVisitedSet() *visitedSet {
	return &visitedSet{urls: make(map[string]bool)}
}

// markIfNew returns true the first time it sees url
func (s *visitedSet) markIfNew(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.urls[url] {
		return false
	}
	s.urls[url] = true
	return true
}

func (s *visitedSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}
