package pfm

import (
	"errors"
	"testing"
	"time"

	"github.com/htlcrelay/relayer/internal/errs"
	"github.com/htlcrelay/relayer/internal/memo"
	"github.com/htlcrelay/relayer/internal/types"
)

type fakeRoutes struct {
	routes []types.Route
	valid  bool
}

func (f *fakeRoutes) FindRoutes(src, dst string) []types.Route { return f.routes }
func (f *fakeRoutes) VerifyRoute(r types.Route) bool            { return f.valid }

type fakeReceivers struct {
	byChain map[string]string
}

func (f *fakeReceivers) GetIntermediateReceiver(chainID string) (string, bool) {
	addr, ok := f.byChain[chainID]
	return addr, ok
}

func twoHopRoute() types.Route {
	return types.Route{
		Chains: []string{"chain-a", "chain-b", "chain-c"},
		Channels: []types.Channel{
			{ChainID: "chain-a", ChannelID: "channel-0", PortID: "transfer", Counterparty: types.Counterparty{ChainID: "chain-b"}},
			{ChainID: "chain-b", ChannelID: "channel-1", PortID: "transfer", Counterparty: types.Counterparty{ChainID: "chain-c"}},
		},
	}
}

func basePlanner(routes *fakeRoutes, receivers *fakeReceivers) *Planner {
	fixedNow := time.Unix(1_700_000_000, 0)
	return &Planner{
		Routes:        routes,
		Receivers:     receivers,
		MaxHops:       5,
		HopTimeout:    time.Hour,
		TimeoutBuffer: 10 * time.Second,
		Now:           func() time.Time { return fixedNow },
	}
}

func TestPlanBuildsDecreasingCascade(t *testing.T) {
	routes := &fakeRoutes{routes: []types.Route{twoHopRoute()}, valid: true}
	receivers := &fakeReceivers{byChain: map[string]string{"chain-b": "0xintermediate"}}
	p := basePlanner(routes, receivers)

	htlc := HTLCParams{
		HTLCID: "h1", Hashlock: "deadbeef", Timelock: p.now().Unix() + 3600,
		SourceChain: "chain-a", SourceHTLCID: "src-1",
	}

	plan, err := p.Plan("chain-a", "chain-c", "0xfinal", htlc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Hops) != 2 {
		t.Fatalf("expected 2 hops, got %d", len(plan.Hops))
	}
	if plan.Hops[0].TimeoutUnix <= plan.Hops[1].TimeoutUnix {
		t.Fatalf("cascade must strictly decrease: hop0=%d hop1=%d", plan.Hops[0].TimeoutUnix, plan.Hops[1].TimeoutUnix)
	}
	if plan.Hops[0].Receiver != "0xintermediate" {
		t.Fatalf("intermediate hop must use the resolved registry receiver, got %s", plan.Hops[0].Receiver)
	}
	if plan.Hops[1].Receiver != "0xfinal" {
		t.Fatalf("final hop must use the caller-supplied receiver, got %s", plan.Hops[1].Receiver)
	}
}

func TestPlanNoRouteFound(t *testing.T) {
	routes := &fakeRoutes{routes: nil}
	p := basePlanner(routes, &fakeReceivers{byChain: map[string]string{}})

	_, err := p.Plan("chain-a", "chain-z", "0xfinal", HTLCParams{Timelock: p.now().Unix() + 3600})
	if !errors.Is(err, errs.ErrNoRouteFound) {
		t.Fatalf("expected ErrNoRouteFound, got %v", err)
	}
}

func TestPlanUnverifiableRouteFailsAsNoRoute(t *testing.T) {
	routes := &fakeRoutes{routes: []types.Route{twoHopRoute()}, valid: false}
	p := basePlanner(routes, &fakeReceivers{byChain: map[string]string{}})

	_, err := p.Plan("chain-a", "chain-c", "0xfinal", HTLCParams{Timelock: p.now().Unix() + 3600})
	if !errors.Is(err, errs.ErrNoRouteFound) {
		t.Fatalf("expected ErrNoRouteFound when no candidate route verifies, got %v", err)
	}
}

func TestPlanExceedsMaxHops(t *testing.T) {
	routes := &fakeRoutes{routes: []types.Route{twoHopRoute()}, valid: true}
	p := basePlanner(routes, &fakeReceivers{byChain: map[string]string{"chain-b": "0xintermediate"}})
	p.MaxHops = 1

	_, err := p.Plan("chain-a", "chain-c", "0xfinal", HTLCParams{Timelock: p.now().Unix() + 3600})
	if !errors.Is(err, errs.ErrInvalidCascade) {
		t.Fatalf("expected ErrInvalidCascade when route hops exceed MaxHops, got %v", err)
	}
}

func TestPlanUnknownIntermediateReceiver(t *testing.T) {
	routes := &fakeRoutes{routes: []types.Route{twoHopRoute()}, valid: true}
	p := basePlanner(routes, &fakeReceivers{byChain: map[string]string{}})

	_, err := p.Plan("chain-a", "chain-c", "0xfinal", HTLCParams{Timelock: p.now().Unix() + 3600})
	if !errors.Is(err, errs.ErrUnknownIntermediate) {
		t.Fatalf("expected ErrUnknownIntermediate, got %v", err)
	}
}

func TestPlanRejectsTimelockTooCloseToExpiry(t *testing.T) {
	routes := &fakeRoutes{routes: []types.Route{twoHopRoute()}, valid: true}
	p := basePlanner(routes, &fakeReceivers{byChain: map[string]string{"chain-b": "0xintermediate"}})

	// A timelock only a few seconds out leaves no room for a sane cascade.
	htlc := HTLCParams{Timelock: p.now().Unix() + 2}
	_, err := p.Plan("chain-a", "chain-c", "0xfinal", htlc)
	if !errors.Is(err, errs.ErrInvalidCascade) {
		t.Fatalf("expected ErrInvalidCascade for a near-expired timelock, got %v", err)
	}
}

func TestPlanMemoNestsForwardAroundHTLC(t *testing.T) {
	routes := &fakeRoutes{routes: []types.Route{twoHopRoute()}, valid: true}
	receivers := &fakeReceivers{byChain: map[string]string{"chain-b": "0xintermediate"}}
	p := basePlanner(routes, receivers)

	htlc := HTLCParams{
		HTLCID: "h1", Hashlock: "deadbeef", Timelock: p.now().Unix() + 3600,
		SourceChain: "chain-a", SourceHTLCID: "src-1",
	}
	plan, err := p.Plan("chain-a", "chain-c", "0xfinal", htlc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := memo.Parse(plan.MemoJSON)
	if body.Kind != memo.KindForwarded {
		t.Fatalf("expected a nested forward memo, got kind %v", body.Kind)
	}
	if body.Innermost == nil || body.Innermost.HTLCID != "h1" {
		t.Fatalf("expected the innermost memo to carry the original HTLC, got %+v", body.Innermost)
	}
}

func TestLookupFeeFallsBackWithoutSchedule(t *testing.T) {
	p := &Planner{}
	chainFee, mwFee := p.lookupFee("chain-b")
	if chainFee != FallbackFee || mwFee != FallbackFee {
		t.Fatalf("expected fallback fees with no FeeSchedule configured, got %d/%d", chainFee, mwFee)
	}
}
