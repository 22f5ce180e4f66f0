// Package route implements route discovery (spec §4.B): a breadth-first
// search over the channel graph exposed by the registry cache, with
// per-(src,dst) caching and OPEN-channel verification. The routing
// approach is grounded on the teacher's decaying-failure-view path
// advisor (lnd's routing/missioncontrol.go) generalized from a single
// payment graph to a cached BFS over registered channels.
package route

import (
	"sort"
	"sync"
	"time"

	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/types"
)

// Registry is the subset of the registry cache route discovery depends
// on, kept narrow so tests can supply a fake without pulling in HTTP.
type Registry interface {
	ListChannels(chainID string) []types.Channel
	GetRouter(chainID string) (string, bool)
	VerifyChannel(a, b, channelID string) bool
}

// Finder performs cached BFS route discovery.
type Finder struct {
	reg      Registry
	maxHops  int
	validFor time.Duration

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct{ src, dst string }

type cacheEntry struct {
	routes  []types.Route
	builtAt time.Time
}

// New constructs a Finder. maxHops and validFor should match the registry
// cache's own hop cap and validity window (spec §4.B).
func New(reg Registry, maxHops int, validFor time.Duration) *Finder {
	return &Finder{
		reg:      reg,
		maxHops:  maxHops,
		validFor: validFor,
		cache:    make(map[cacheKey]cacheEntry),
	}
}

// FindRoutes returns every simple path from src to dst of at most
// maxHops+1 nodes, ordered by hop count ascending then estimated time
// ascending. It never errors: upstream failures surface as an empty
// slice, logged here.
func (f *Finder) FindRoutes(src, dst string) []types.Route {
	key := cacheKey{src, dst}

	f.mu.Lock()
	if entry, ok := f.cache[key]; ok && time.Since(entry.builtAt) < f.validFor {
		routes := entry.routes
		f.mu.Unlock()
		return routes
	}
	f.mu.Unlock()

	routes := f.bfs(src, dst)

	f.mu.Lock()
	f.cache[key] = cacheEntry{routes: routes, builtAt: time.Now()}
	f.mu.Unlock()

	return routes
}

// bfs explores the channel graph breadth-first, capping path length at
// maxHops+1 chains and tracking a per-node visited set per path to avoid
// cycles.
func (f *Finder) bfs(src, dst string) []types.Route {
	if src == dst {
		return nil
	}

	type node struct {
		chain    string
		chains   []string
		channels []types.Channel
		visited  map[string]bool
	}

	start := node{
		chain:   src,
		chains:  []string{src},
		visited: map[string]bool{src: true},
	}

	queue := []node{start}
	var found []types.Route

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if len(cur.chains) > f.maxHops+1 {
			continue
		}

		for _, ch := range f.reg.ListChannels(cur.chain) {
			if ch.State != types.ChannelOpen {
				continue
			}
			next := ch.Counterparty.ChainID
			if cur.visited[next] {
				continue
			}

			nextChains := append(append([]string{}, cur.chains...), next)
			nextChannels := append(append([]types.Channel{}, cur.channels...), ch)
			nextVisited := make(map[string]bool, len(cur.visited)+1)
			for k := range cur.visited {
				nextVisited[k] = true
			}
			nextVisited[next] = true

			if next == dst {
				found = append(found, types.Route{
					Chains:           nextChains,
					Channels:         nextChannels,
					EstimatedSeconds: estimateSeconds(len(nextChains) - 1),
				})
				continue
			}

			if len(nextChains) <= f.maxHops {
				queue = append(queue, node{
					chain:    next,
					chains:   nextChains,
					channels: nextChannels,
					visited:  nextVisited,
				})
			}
		}
	}

	sortRoutes(found)
	return found
}

// estimateSeconds is a coarse per-hop time estimate used only to
// tie-break equal-length routes; it does not claim real-world accuracy.
func estimateSeconds(hops int) int64 {
	const perHop = 45
	return int64(hops * perHop)
}

func sortRoutes(routes []types.Route) {
	sort.Slice(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if a.Hops() != b.Hops() {
			return a.Hops() < b.Hops()
		}
		return a.EstimatedSeconds < b.EstimatedSeconds
	})
}

// VerifyRoute checks that every channel in r is OPEN and every chain
// resolves a router address, short-circuiting on the first failure (spec
// §4.B).
func (f *Finder) VerifyRoute(r types.Route) bool {
	for _, chain := range r.Chains {
		if _, ok := f.reg.GetRouter(chain); !ok {
			log.Route.Debugf("route verify failed: chain %s has no router", chain)
			return false
		}
	}
	for i, ch := range r.Channels {
		if i >= len(r.Chains)-1 {
			break
		}
		if !f.reg.VerifyChannel(r.Chains[i], r.Chains[i+1], ch.ChannelID) {
			log.Route.Debugf("route verify failed: channel %s %s->%s not open",
				ch.ChannelID, r.Chains[i], r.Chains[i+1])
			return false
		}
	}
	return true
}
