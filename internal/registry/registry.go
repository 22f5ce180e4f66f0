// Package registry implements the Chain Registry Cache (spec §4.A): a
// read-mostly snapshot of chains, channels, and router addresses,
// refreshed in the background and published by atomic pointer swap so
// readers never block behind the refresher.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/types"
)

// startupRetryAttempts bounds how many times Start retries the initial
// synchronous refresh before falling back to an empty snapshot, so a
// registry API that is merely slow to come up on a cold deploy doesn't
// strand every dependent component without any route/router data.
const startupRetryAttempts = 3

// snapshot is the immutable registry state published atomically. A new
// snapshot is built off to the side by refresh() and swapped in wholesale,
// never mutated in place.
type snapshot struct {
	chains          map[string]types.ChainInfo
	channels        map[string][]types.Channel
	routers         map[string]string
	intermediateRcv map[string]string // chainId -> PFM intermediate receiver address
	lastUpdate      time.Time
}

func emptySnapshot() *snapshot {
	return &snapshot{
		chains:          map[string]types.ChainInfo{},
		channels:        map[string][]types.Channel{},
		routers:         map[string]string{},
		intermediateRcv: map[string]string{},
	}
}

// Config controls the registry's HTTP source and refresh cadence.
type Config struct {
	BaseURL         string
	CacheTimeout    time.Duration
	RefreshInterval time.Duration
}

// Cache is the registry's running instance. Construct with New and call
// Start to launch the background refresher; Stop to halt it.
type Cache struct {
	cfg    Config
	client *http.Client

	current atomic.Pointer[snapshot]

	refreshSignal chan struct{}
	quit          chan struct{}
}

// New constructs a Cache seeded with an empty snapshot. Callers should
// call Start before relying on fresh data, though an empty cache never
// panics — it simply resolves nothing until the first successful refresh.
func New(cfg Config) *Cache {
	c := &Cache{
		cfg:           cfg,
		client:        &http.Client{Timeout: 15 * time.Second},
		refreshSignal: make(chan struct{}, 1),
		quit:          make(chan struct{}),
	}
	c.current.Store(emptySnapshot())
	return c
}

// Start launches the background refresh loop. It performs one synchronous
// refresh before returning so callers have data immediately at startup.
func (c *Cache) Start(ctx context.Context) error {
	err := retry.Do(func() error {
		return c.refresh(ctx)
	},
		retry.Context(ctx),
		retry.Attempts(startupRetryAttempts),
		retry.Delay(time.Second),
		retry.OnRetry(func(n uint, err error) {
			log.Registry.Warnf("initial registry refresh attempt %d/%d failed: %v",
				n+1, startupRetryAttempts, err)
		}),
	)
	if err != nil {
		log.Registry.Warnf("initial registry refresh exhausted retries, serving empty snapshot: %v", err)
	}

	go c.loop(ctx)
	return nil
}

// Stop halts the background refresher.
func (c *Cache) Stop() {
	close(c.quit)
}

func (c *Cache) loop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tryRefresh(ctx)
		case <-c.refreshSignal:
			c.tryRefresh(ctx)
		case <-c.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) tryRefresh(ctx context.Context) {
	if err := c.refresh(ctx); err != nil {
		// Retain the previous snapshot; never serve empty data after a
		// single failure.
		log.Registry.Warnf("registry refresh failed, retaining previous snapshot: %v", err)
	}
}

// wireChains/wireChannels mirror the registry HTTP API's response shape.
type wireChain struct {
	ChainID string `json:"chainId"`
	Name    string `json:"name"`
	Prefix  string `json:"prefix"`
	Router  string `json:"routerAddress"`
	IntermediateReceiver string `json:"intermediateReceiver"`
}

type wireChannel struct {
	ChainID      string `json:"chainId"`
	ChannelID    string `json:"channelId"`
	PortID       string `json:"portId"`
	State        string `json:"state"`
	Counterparty struct {
		ChainID   string `json:"chainId"`
		ChannelID string `json:"channelId"`
		PortID    string `json:"portId"`
	} `json:"counterparty"`
}

// refresh fetches a complete new view from the registry's HTTP API and
// swaps it in atomically on success.
func (c *Cache) refresh(ctx context.Context) error {
	chains, err := c.fetchChains(ctx)
	if err != nil {
		return err
	}
	channels, err := c.fetchChannels(ctx)
	if err != nil {
		return err
	}

	next := emptySnapshot()
	next.lastUpdate = time.Now()

	for _, ch := range chains {
		next.chains[ch.ChainID] = types.ChainInfo{
			ChainID: ch.ChainID,
			Name:    ch.Name,
			Prefix:  ch.Prefix,
		}
		if ch.Router != "" {
			next.routers[ch.ChainID] = ch.Router
		}
		if ch.IntermediateReceiver != "" {
			next.intermediateRcv[ch.ChainID] = ch.IntermediateReceiver
		}
	}

	for _, ch := range channels {
		state := types.ChannelState(ch.State)
		next.channels[ch.ChainID] = append(next.channels[ch.ChainID], types.Channel{
			ChainID:   ch.ChainID,
			ChannelID: ch.ChannelID,
			PortID:    ch.PortID,
			State:     state,
			Counterparty: types.Counterparty{
				ChainID:   ch.Counterparty.ChainID,
				ChannelID: ch.Counterparty.ChannelID,
				PortID:    ch.Counterparty.PortID,
			},
		})
	}

	c.current.Store(next)
	return nil
}

func (c *Cache) fetchChains(ctx context.Context) ([]wireChain, error) {
	var out []wireChain
	if err := c.getJSON(ctx, "/chains", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cache) fetchChannels(ctx context.Context) ([]wireChannel, error) {
	var out []wireChannel
	if err := c.getJSON(ctx, "/channels", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cache) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListChannels returns the channel set for a chain from the most recent
// snapshot, regardless of its staleness (stale reads are allowed per spec
// §4.A; the refresher is signalled to run sooner).
func (c *Cache) ListChannels(chainID string) []types.Channel {
	c.signalIfStale()
	snap := c.current.Load()
	return snap.channels[chainID]
}

// GetRouter returns the router contract/module address for chainID, and
// whether the registry has one on record.
func (c *Cache) GetRouter(chainID string) (string, bool) {
	c.signalIfStale()
	snap := c.current.Load()
	addr, ok := snap.routers[chainID]
	return addr, ok
}

// GetIntermediateReceiver resolves the PFM receiver address the registry
// has recorded for an intermediate hop chain. The planner must fail
// rather than fabricate an address when this returns false (spec §9).
func (c *Cache) GetIntermediateReceiver(chainID string) (string, bool) {
	snap := c.current.Load()
	addr, ok := snap.intermediateRcv[chainID]
	return addr, ok
}

// VerifyChannel reports whether a channel with id channelID from chain a
// to chain b is currently OPEN in the cached snapshot.
func (c *Cache) VerifyChannel(a, b, channelID string) bool {
	for _, ch := range c.ListChannels(a) {
		if ch.ChannelID == channelID && ch.Counterparty.ChainID == b {
			return ch.State == types.ChannelOpen
		}
	}
	return false
}

// LastUpdate returns when the current snapshot was built.
func (c *Cache) LastUpdate() time.Time {
	return c.current.Load().lastUpdate
}

// Stale reports whether the current snapshot has exceeded CacheTimeout.
func (c *Cache) Stale() bool {
	return time.Since(c.LastUpdate()) > c.cfg.CacheTimeout
}

func (c *Cache) signalIfStale() {
	if !c.Stale() {
		return
	}
	select {
	case c.refreshSignal <- struct{}{}:
	default:
	}
}
