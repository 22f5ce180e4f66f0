package ack

import (
	"sync"
	"testing"
	"time"

	"github.com/htlcrelay/relayer/internal/memo"
	"github.com/htlcrelay/relayer/internal/types"
)

type fakeNotifier struct {
	mu       sync.Mutex
	advanced []int
	failed   []int
}

func (f *fakeNotifier) AdvanceHop(relayID string, hopIndex int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanced = append(f.advanced, hopIndex)
}

func (f *fakeNotifier) FailHop(relayID string, hopIndex int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, hopIndex)
}

func forwardMemoWithHop(hop int) []byte {
	body := memo.ForwardMemo{Forward: memo.ForwardBody{
		Receiver: "0xr", Port: "transfer", Channel: "chan-0", Timeout: "100",
		HopIndex: &hop,
	}}
	raw, _ := memo.SerializeForward(body)
	return raw
}

func TestOnAckSuccessUsesExplicitHopIndex(t *testing.T) {
	notifier := &fakeNotifier{}
	h := New(notifier, time.Hour)

	pkt := types.Packet{SourceChannel: "chan-0", Sequence: 1, Data: forwardMemoWithHop(2)}
	route := types.Route{Channels: []types.Channel{{ChannelID: "chan-0"}}}
	h.TrackPacket("relay-1", route, pkt)

	h.OnAckSuccess(pkt, "chain-local")

	if len(notifier.advanced) != 1 || notifier.advanced[0] != 2 {
		t.Fatalf("expected hop index 2 derived from the memo's explicit hop_index, got %v", notifier.advanced)
	}
}

func TestOnAckSuccessFallsBackToChannelMatch(t *testing.T) {
	notifier := &fakeNotifier{}
	h := New(notifier, time.Hour)

	// No HopIndex in the memo: hopIndex() must fall back to matching the
	// packet's channel pair against the tracked route.
	plain := memo.HTLCMemo{Type: memo.HTLCMemoType, HTLCID: "h1"}
	raw, _ := memo.Serialize(plain)
	pkt := types.Packet{SourceChannel: "chan-1", DestChannel: "chan-1-b", Sequence: 5, Data: raw}

	route := types.Route{Channels: []types.Channel{
		{ChannelID: "chan-0", Counterparty: types.Counterparty{ChannelID: "chan-0-b"}},
		{ChannelID: "chan-1", Counterparty: types.Counterparty{ChannelID: "chan-1-b"}},
	}}
	h.TrackPacket("relay-1", route, pkt)

	h.OnAckSuccess(pkt, "chain-local")

	if len(notifier.advanced) != 1 || notifier.advanced[0] != 1 {
		t.Fatalf("expected hop index 1 derived from channel match, got %v", notifier.advanced)
	}
}

func TestOnAckSuccessIgnoresUnknownPacket(t *testing.T) {
	notifier := &fakeNotifier{}
	h := New(notifier, time.Hour)

	pkt := types.Packet{SourceChannel: "chan-0", Sequence: 99}
	h.OnAckSuccess(pkt, "chain-local") // never tracked

	if len(notifier.advanced) != 0 {
		t.Fatalf("an ack for an untracked packet must not notify anything, got %v", notifier.advanced)
	}
}

func TestOnAckSuccessDropsMalformedMemoWithoutNotifying(t *testing.T) {
	notifier := &fakeNotifier{}
	h := New(notifier, time.Hour)

	pkt := types.Packet{SourceChannel: "chan-0", Sequence: 1, Data: []byte("not json at all")}
	h.TrackPacket("relay-1", types.Route{}, pkt)

	h.OnAckSuccess(pkt, "chain-local")

	if len(notifier.advanced) != 0 {
		t.Fatal("a malformed memo must be logged and dropped, never notified as success")
	}
}

func TestOnAckErrorAndTimeoutNotifyFailHop(t *testing.T) {
	notifier := &fakeNotifier{}
	h := New(notifier, time.Hour)

	pkt1 := types.Packet{SourceChannel: "chan-0", Sequence: 1, Data: forwardMemoWithHop(0)}
	h.TrackPacket("relay-1", types.Route{}, pkt1)
	h.OnAckError(pkt1, "ack.error")

	pkt2 := types.Packet{SourceChannel: "chan-0", Sequence: 2, Data: forwardMemoWithHop(1)}
	h.TrackPacket("relay-1", types.Route{}, pkt2)
	h.OnTimeout(pkt2)

	if len(notifier.failed) != 2 || notifier.failed[0] != 0 || notifier.failed[1] != 1 {
		t.Fatalf("expected both ack.error and timeout to notify FailHop with their hop indices, got %v", notifier.failed)
	}
}

func TestTrackPacketIsConsumedExactlyOnce(t *testing.T) {
	notifier := &fakeNotifier{}
	h := New(notifier, time.Hour)

	pkt := types.Packet{SourceChannel: "chan-0", Sequence: 1, Data: forwardMemoWithHop(0)}
	h.TrackPacket("relay-1", types.Route{}, pkt)

	h.OnAckSuccess(pkt, "chain-local")
	h.OnAckSuccess(pkt, "chain-local") // second delivery for the same packet

	if len(notifier.advanced) != 1 {
		t.Fatalf("a packet outcome must be delivered at most once, got %d deliveries", len(notifier.advanced))
	}
}

func TestSweepDropsOnlyStaleEntries(t *testing.T) {
	notifier := &fakeNotifier{}
	h := New(notifier, 50*time.Millisecond)

	pkt := types.Packet{SourceChannel: "chan-0", Sequence: 1}
	h.TrackPacket("relay-1", types.Route{}, pkt)

	if n := h.Sweep(); n != 0 {
		t.Fatalf("expected nothing swept immediately after tracking, got %d", n)
	}

	time.Sleep(60 * time.Millisecond)
	if n := h.Sweep(); n != 1 {
		t.Fatalf("expected the stale entry swept after maxAge elapsed, got %d", n)
	}
	if h.Len() != 0 {
		t.Fatalf("expected no pending entries remaining, got %d", h.Len())
	}
}
