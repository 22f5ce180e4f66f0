package adminrpc

import (
	"context"
	"testing"
	"time"

	"github.com/htlcrelay/relayer/internal/breaker"
	"github.com/htlcrelay/relayer/internal/recovery"
	"github.com/htlcrelay/relayer/internal/registry"
	"github.com/htlcrelay/relayer/internal/relay"
)

func testServer() *Server {
	mgr := breaker.NewManager(nil)
	core := breaker.NewCore(mgr, nil)
	engine := relay.New(relay.Config{LocalChain: "chain-a"}, core, nil, nil, nil, nil)
	scanner := recovery.New(recovery.Config{}, nil, nil, core)
	reg := registry.New(registry.Config{CacheTimeout: time.Minute})

	return &Server{Breaker: mgr, Engine: engine, Scanner: scanner, Registry: reg}
}

func TestGetHealthReflectsBreakerAndEngineState(t *testing.T) {
	s := testServer()
	s.Breaker.Trip("evm", "test")

	report, err := s.getHealth(context.Background(), &struct{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.OpenBreakers) != 1 || report.OpenBreakers[0] != "evm" {
		t.Fatalf("expected evm listed as open, got %v", report.OpenBreakers)
	}
	if !report.RegistryStale {
		t.Fatal("expected a never-refreshed registry to report stale")
	}
}

func TestEmergencyStopAndResumeRoundTrip(t *testing.T) {
	s := testServer()

	if _, err := s.emergencyStop(context.Background(), &EmergencyStopRequest{Reason: "test"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Breaker.Stopped() {
		t.Fatal("expected EmergencyStop to engage the breaker manager's stop flag")
	}

	if _, err := s.resume(context.Background(), &ResumeRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Breaker.Stopped() {
		t.Fatal("expected Resume to clear the stop flag")
	}
}

func TestTripAndResetCircuitRequireName(t *testing.T) {
	s := testServer()

	if _, err := s.tripCircuit(context.Background(), &CircuitRequest{}); err == nil {
		t.Fatal("expected tripCircuit to require a non-empty name")
	}
	if _, err := s.resetCircuit(context.Background(), &CircuitRequest{}); err == nil {
		t.Fatal("expected resetCircuit to require a non-empty name")
	}

	resp, err := s.tripCircuit(context.Background(), &CircuitRequest{Name: "evm"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != "open" {
		t.Fatalf("expected state open after trip, got %s", resp.State)
	}

	resp, err = s.resetCircuit(context.Background(), &CircuitRequest{Name: "evm"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != "closed" {
		t.Fatalf("expected state closed after reset, got %s", resp.State)
	}
}

func TestResetCircuitAllReportsClosedWithoutLookup(t *testing.T) {
	s := testServer()
	s.Breaker.Trip("evm", "t")
	s.Breaker.Trip("ibc", "t")

	resp, err := s.resetCircuit(context.Background(), &CircuitRequest{Name: "all"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.State != "closed" {
		t.Fatalf("expected closed, got %s", resp.State)
	}
	if s.Breaker.StateOf("evm") != breaker.Closed || s.Breaker.StateOf("ibc") != breaker.Closed {
		t.Fatal("expected every circuit reset by name \"all\"")
	}
}

func TestCleanupReportsRemovedCount(t *testing.T) {
	s := testServer()
	resp, err := s.cleanup(context.Background(), &CleanupRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RelaysRemoved != 0 {
		t.Fatalf("expected 0 removed from an empty engine, got %d", resp.RelaysRemoved)
	}
}

func TestListRelaysReturnsEmptySliceInitially(t *testing.T) {
	s := testServer()
	resp, err := s.listRelays(context.Background(), &ListRelaysRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Relays) != 0 {
		t.Fatalf("expected no tracked relays, got %d", len(resp.Relays))
	}
}
