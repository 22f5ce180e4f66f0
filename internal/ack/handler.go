// Package ack implements the acknowledgment/timeout handler (spec §4.F):
// it tracks pending IBC packets by sourceChannel/sequence, reconciles
// ack.success/ack.error/timeout outcomes against the planned route,
// derives which cascade hop a packet belongs to (spec §9, replacing the
// source's hard-coded channel table), and sweeps stale records.
package ack

import (
	"sync"
	"time"

	"github.com/htlcrelay/relayer/internal/log"
	"github.com/htlcrelay/relayer/internal/memo"
	"github.com/htlcrelay/relayer/internal/types"
	"github.com/htlcrelay/relayer/internal/validate"
)

// Notifier is the callback surface the relay engine registers so the ack
// handler can advance or fail a relay's hop counter without the two
// packages importing one another (spec §9 "Cyclic references").
type Notifier interface {
	AdvanceHop(relayID string, hopIndex int)
	FailHop(relayID string, hopIndex int, reason string)
}

// pendingAck is one in-flight packet's bookkeeping.
type pendingAck struct {
	packet     types.Packet
	relayID    string
	route      types.Route
	observedAt time.Time
}

// Handler is the running ack/timeout tracker.
type Handler struct {
	notifier Notifier
	maxAge   time.Duration

	mu      sync.Mutex
	pending map[string]*pendingAck // keyed by packet.Key()
}

// New constructs a Handler. maxAge defaults to one hour per spec §4.F.
func New(notifier Notifier, maxAge time.Duration) *Handler {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Handler{
		notifier: notifier,
		maxAge:   maxAge,
		pending:  make(map[string]*pendingAck),
	}
}

// TrackPacket registers a packet sent as part of relayID's route so a
// later ack/timeout can be matched back to it.
func (h *Handler) TrackPacket(relayID string, route types.Route, pkt types.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pending[pkt.Key()] = &pendingAck{
		packet:     pkt,
		relayID:    relayID,
		route:      route,
		observedAt: time.Now(),
	}
}

// OnAckSuccess handles an ack.success outcome. For every packet whose data
// parses as a memo it reports the derived hop index to the notifier via
// AdvanceHop; the notifier decides from that index whether the relay is
// complete. localChain is not consulted, and the handler itself does not
// tell intermediate hops from the final one.
func (h *Handler) OnAckSuccess(pkt types.Packet, localChain string) {
	entry := h.takePending(pkt.Key())
	if entry == nil {
		log.Ack.Debugf("ack.success for unknown packet %s, ignoring", pkt.Key())
		return
	}

	if err := validate.MemoContent(pkt.Data); err != nil {
		log.Ack.Warnf("rejected packet data for %s: %v", pkt.Key(), err)
		log.Ack.Tracef("rejected packet detail: %s", log.Dump(pkt))
		return
	}

	body := memo.Parse(pkt.Data)
	if body.Kind == memo.KindUnknown {
		log.Ack.Warnf("malformed packet data for %s, ignored without raising", pkt.Key())
		log.Ack.Tracef("malformed packet detail: %s", log.Dump(pkt))
		return
	}

	hopIdx := h.hopIndex(body, entry, pkt)
	h.notifier.AdvanceHop(entry.relayID, hopIdx)
}

// OnAckError handles an ack.error outcome: the hop is marked failed so the
// relay engine can schedule a refund/retry.
func (h *Handler) OnAckError(pkt types.Packet, reason string) {
	entry := h.takePending(pkt.Key())
	if entry == nil {
		return
	}
	if err := validate.MemoContent(pkt.Data); err != nil {
		log.Ack.Warnf("packet data for %s failed validation on ack.error: %v", pkt.Key(), err)
	}
	body := memo.Parse(pkt.Data)
	hopIdx := h.hopIndex(body, entry, pkt)
	h.notifier.FailHop(entry.relayID, hopIdx, reason)
}

// OnTimeout handles a packet timeout, identical in effect to ack.error.
func (h *Handler) OnTimeout(pkt types.Packet) {
	h.OnAckError(pkt, "timeout")
}

func (h *Handler) takePending(key string) *pendingAck {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.pending[key]
	if !ok {
		return nil
	}
	delete(h.pending, key)
	return entry
}

// hopIndex derives the cascade hop a packet belongs to: it prefers the
// forward memo's explicit hop_index field, falling back to matching the
// packet's (sourceChannel, destChannel) against the planned route (spec
// §9, replacing the source's hard-coded channel-map table).
func (h *Handler) hopIndex(body memo.MemoBody, entry *pendingAck, pkt types.Packet) int {
	if body.Kind == memo.KindForwarded && body.Forward.Forward.HopIndex != nil {
		return *body.Forward.Forward.HopIndex
	}

	for i, ch := range entry.route.Channels {
		if ch.ChannelID == pkt.SourceChannel && ch.Counterparty.ChannelID == pkt.DestChannel {
			return i
		}
	}
	return 0
}

// Sweep drops ack records older than maxAge. Unlike the source's
// unconditional clear, this enforces the age predicate properly (spec §9
// open question on clearOldEntries).
func (h *Handler) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-h.maxAge)
	dropped := 0
	for key, entry := range h.pending {
		if entry.observedAt.Before(cutoff) {
			delete(h.pending, key)
			dropped++
		}
	}
	return dropped
}

// Len reports how many packets are currently tracked, for tests/metrics.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
