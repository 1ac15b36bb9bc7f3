package ner

import (
	"log/slog"
	"strings"
	"sync/atomic"
)

// pool spreads requests over sidecar replicas using atomic round-robin
// selection. Retries naturally move on to the next replica.
type pool struct {
	urls    []string
	counter atomic.Uint64
}

// newPool builds a pool of /analyze URLs from base URLs. Blank and duplicate
// entries are dropped.
func newPool(baseURLs []string) *pool {
	seen := make(map[string]bool, len(baseURLs))
	p := &pool{}
	for _, u := range baseURLs {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		p.urls = append(p.urls, u+"/analyze")
	}
	if len(p.urls) > 1 {
		slog.Info("ner: sidecar replicas registered", "replicas", len(p.urls))
	}
	return p
}

// next returns the next replica URL. It is safe for concurrent use.
func (p *pool) next() string {
	idx := p.counter.Add(1) - 1
	return p.urls[idx%uint64(len(p.urls))]
}

// len returns the number of replicas in the pool.
func (p *pool) len() int {
	return len(p.urls)
}
