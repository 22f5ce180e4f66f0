// Package pfm builds nested IBC packet-forward-middleware memos (spec
// §4.C): given a route, it computes a monotonically decreasing timelock
// cascade, resolves each intermediate hop's receiver from the chain
// registry, and emits the nested forward{...forward{...memo}} JSON.
package pfm

import (
	"fmt"
	"time"

	"github.com/htlcrelay/relayer/internal/errs"
	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/memo"
	"github.com/htlcrelay/relayer/internal/types"
	"github.com/htlcrelay/relayer/internal/validate"
)

// RouteSource is the subset of route discovery the planner depends on.
type RouteSource interface {
	FindRoutes(src, dst string) []types.Route
	VerifyRoute(r types.Route) bool
}

// ReceiverResolver looks up the PFM receiver address a registry has on
// file for an intermediate hop chain.
type ReceiverResolver interface {
	GetIntermediateReceiver(chainID string) (string, bool)
}

// FeeSchedule looks up the additive chain+middleware fee for one hop's
// chain. A failed/absent lookup falls back to FallbackFee rather than
// aborting the plan (spec §4.C "Fees").
type FeeSchedule interface {
	HopFee(chainID string) (chainFee, middlewareFee uint64, err error)
}

// FallbackFee is used per-hop when FeeSchedule lookup fails.
const FallbackFee = 0

// HTLCParams is the source HTLC's parameters driving the plan.
type HTLCParams struct {
	HTLCID       string
	Hashlock     string
	Timelock     int64 // absolute unix seconds, from the source chain
	SourceChain  string
	SourceHTLCID string
}

// HopPlan is one leg of a multi-hop plan.
type HopPlan struct {
	Chain       string
	Channel     types.Channel
	Receiver    string
	TimeoutUnix int64
	ChainFee    uint64
	MiddlewareFee uint64
}

// Plan is the planner's complete output for a single relay.
type Plan struct {
	Route    types.Route
	Hops     []HopPlan
	MemoJSON []byte
	TotalFee uint64
}

// Planner builds Plans from a route source, receiver resolver, and fee
// schedule, subject to maxHops/hopTimeout/timeoutBuffer configuration.
type Planner struct {
	Routes       RouteSource
	Receivers    ReceiverResolver
	Fees         FeeSchedule
	MaxHops      int
	HopTimeout   time.Duration
	TimeoutBuffer time.Duration

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

func (p *Planner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Plan builds a forwarding plan from src to dst for htlc, targeting
// receiver on the final hop. It returns errs.ErrNoRouteFound if no route
// exists, errs.ErrInvalidCascade if the hop count exceeds MaxHops or any
// hop's window collapses below TimeoutBuffer/2, and
// errs.ErrUnknownIntermediate if an intermediate hop's receiver cannot be
// resolved from the registry.
func (p *Planner) Plan(src, dst, receiver string, htlc HTLCParams) (*Plan, error) {
	routes := p.Routes.FindRoutes(src, dst)
	if len(routes) == 0 {
		return nil, errs.ErrNoRouteFound
	}

	var chosen *types.Route
	for i := range routes {
		if p.Routes.VerifyRoute(routes[i]) {
			chosen = &routes[i]
			break
		}
	}
	if chosen == nil {
		return nil, errs.ErrNoRouteFound
	}

	if chosen.Hops() > p.MaxHops {
		return nil, errs.ErrInvalidCascade
	}

	hops, err := p.buildCascade(*chosen, receiver, htlc)
	if err != nil {
		return nil, err
	}

	memoJSON, total, err := p.buildMemo(hops, receiver, htlc)
	if err != nil {
		return nil, err
	}

	return &Plan{Route: *chosen, Hops: hops, MemoJSON: memoJSON, TotalFee: total}, nil
}

// buildCascade computes the strictly decreasing per-hop timeout sequence
// described in spec §4.C step 3 and resolves each intermediate receiver.
func (p *Planner) buildCascade(r types.Route, finalReceiver string, htlc HTLCParams) ([]HopPlan, error) {
	n := r.Hops()
	now := p.now().Unix()

	window := htlc.Timelock - now
	if window <= 0 {
		return nil, errs.ErrInvalidCascade
	}
	step := window / int64(n) / 2

	hops := make([]HopPlan, n)
	for i := 0; i < n; i++ {
		timeout := now + step*int64(n-i)

		if maxAllowed := now + int64(p.HopTimeout.Seconds()); timeout > maxAllowed {
			timeout = maxAllowed
		}

		if i > 0 && timeout >= hops[i-1].TimeoutUnix {
			return nil, errs.ErrInvalidCascade
		}
		if float64(timeout-now) < p.TimeoutBuffer.Seconds()/2 {
			return nil, errs.ErrInvalidCascade
		}

		chain := r.Chains[i+1]
		receiverAddr := finalReceiver
		if i < n-1 {
			addr, ok := p.Receivers.GetIntermediateReceiver(chain)
			if !ok {
				log.Planner.Warnf("no intermediate receiver on file for chain %s", chain)
				return nil, errs.ErrUnknownIntermediate
			}
			receiverAddr = addr
		}

		chainFee, mwFee := p.lookupFee(chain)

		hops[i] = HopPlan{
			Chain:         chain,
			Channel:       r.Channels[i],
			Receiver:      receiverAddr,
			TimeoutUnix:   timeout,
			ChainFee:      chainFee,
			MiddlewareFee: mwFee,
		}
	}

	return hops, nil
}

func (p *Planner) lookupFee(chain string) (uint64, uint64) {
	if p.Fees == nil {
		return FallbackFee, FallbackFee
	}
	chainFee, mwFee, err := p.Fees.HopFee(chain)
	if err != nil {
		log.Planner.Debugf("fee lookup failed for %s, using fallback schedule: %v", chain, err)
		return FallbackFee, FallbackFee
	}
	return chainFee, mwFee
}

// buildMemo assembles the nested forward{...forward{...memo}} JSON
// payload and totals the additive per-hop fees.
func (p *Planner) buildMemo(hops []HopPlan, finalReceiver string, htlc HTLCParams) ([]byte, uint64, error) {
	if len(hops) == 0 {
		return nil, 0, fmt.Errorf("pfm: cannot build memo with zero hops")
	}

	htlcMemo := memo.HTLCMemo{
		Type:         memo.HTLCMemoType,
		HTLCID:       htlc.HTLCID,
		Receiver:     finalReceiver,
		Hashlock:     htlc.Hashlock,
		Timelock:     uint64(hops[len(hops)-1].TimeoutUnix),
		SourceChain:  htlc.SourceChain,
		SourceHTLCID: htlc.SourceHTLCID,
		TargetChain:  hops[len(hops)-1].Chain,
		TargetAddr:   finalReceiver,
	}
	htlcJSON, err := memo.Serialize(htlcMemo)
	if err != nil {
		return nil, 0, err
	}

	var total uint64
	var innermost *memo.ForwardMemo
	for i := len(hops) - 1; i >= 0; i-- {
		hop := hops[i]
		total += hop.ChainFee + hop.MiddlewareFee

		if !validate.Port(hop.Channel.PortID) || !validate.Channel(hop.Channel.ChannelID) {
			return nil, 0, fmt.Errorf("pfm: refusing to assemble memo with malformed port/channel %q/%q: %w",
				hop.Channel.PortID, hop.Channel.ChannelID, errs.ErrValidation)
		}

		hopIdx := i
		body := memo.ForwardBody{
			Receiver: hop.Receiver,
			Port:     hop.Channel.PortID,
			Channel:  hop.Channel.ChannelID,
			Timeout:  fmt.Sprintf("%d", hop.TimeoutUnix),
			Retries:  2,
			HopIndex: &hopIdx,
		}
		if i == len(hops)-1 {
			body.Memo = string(htlcJSON)
		} else {
			body.Next = innermost
		}
		innermost = &memo.ForwardMemo{Forward: body}
	}

	out, err := memo.SerializeForward(*innermost)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
