// Package memo implements the wire-format HTLC and packet-forward memos
// (spec §6, §9 "Dynamic memo shapes"). A single Parse entrypoint yields a
// tagged MemoBody variant; downstream code pattern-matches on its Kind
// instead of re-parsing heterogeneous JSON at every call site.
package memo

import (
	"encoding/json"
	"fmt"
)

// HTLCMemo is the structured payload carried inside a packet once it
// reaches (or targets) the HTLC contract on the destination chain.
type HTLCMemo struct {
	Type         string `json:"type"`
	HTLCID       string `json:"htlcId"`
	Receiver     string `json:"receiver"`
	Hashlock     string `json:"hashlock"`
	Timelock     uint64 `json:"timelock"`
	SourceChain  string `json:"sourceChain"`
	SourceHTLCID string `json:"sourceHTLCId"`
	TargetChain  string `json:"targetChain"`
	TargetAddr   string `json:"targetAddress"`
}

const HTLCMemoType = "htlc_create"

// ForwardMemo is the PFM nesting structure. The deepest forward carries
// the HTLC memo as a raw json string in its Memo field.
type ForwardMemo struct {
	Forward ForwardBody `json:"forward"`
}

type ForwardBody struct {
	Receiver string       `json:"receiver"`
	Port     string       `json:"port"`
	Channel  string       `json:"channel"`
	Timeout  string       `json:"timeout"`
	Retries  uint8        `json:"retries"`
	Next     *ForwardMemo `json:"next,omitempty"`
	Memo     string       `json:"memo,omitempty"`

	// HopIndex is an extension the spec requires (§9 open question on
	// getHopIndex): when present it lets the ack handler identify which
	// cascade hop a packet belongs to without guessing from a hard-coded
	// channel table.
	HopIndex *int `json:"hop_index,omitempty"`
}

// Kind tags the shape a raw inbound memo turned out to have.
type Kind int

const (
	KindUnknown Kind = iota
	KindPlain
	KindForwarded
)

// MemoBody is the tagged variant produced by Parse.
type MemoBody struct {
	Kind     Kind
	Plain    *HTLCMemo
	Forward  *ForwardMemo
	Innermost *HTLCMemo // the HTLC memo found at the bottom of a forward chain, if any
}

// Parse inspects raw JSON and classifies it as a bare HTLC memo, a nested
// forward memo (optionally carrying an HTLC memo at its deepest level), or
// unknown. It never panics on malformed input; callers get KindUnknown and
// should drop the event per spec §4.F ("malformed packet data is logged
// and ignored without raising").
func Parse(raw []byte) MemoBody {
	var asForward ForwardMemo
	if err := json.Unmarshal(raw, &asForward); err == nil && asForward.Forward.Port != "" {
		body := MemoBody{Kind: KindForwarded, Forward: &asForward}
		body.Innermost = deepestHTLC(&asForward)
		return body
	}

	var asPlain HTLCMemo
	if err := json.Unmarshal(raw, &asPlain); err == nil && asPlain.Type == HTLCMemoType {
		return MemoBody{Kind: KindPlain, Plain: &asPlain}
	}

	// Tolerate the "htlc" sibling-field shape noted in spec §9.
	var wrapper struct {
		HTLC *HTLCMemo `json:"htlc"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.HTLC != nil {
		return MemoBody{Kind: KindPlain, Plain: wrapper.HTLC}
	}

	return MemoBody{Kind: KindUnknown}
}

// deepestHTLC walks a forward chain to its innermost hop and decodes the
// HTLC memo carried in its Memo field, if any.
func deepestHTLC(f *ForwardMemo) *HTLCMemo {
	cur := f
	for cur.Forward.Next != nil {
		cur = cur.Forward.Next
	}
	if cur.Forward.Memo == "" {
		return nil
	}
	var h HTLCMemo
	if err := json.Unmarshal([]byte(cur.Forward.Memo), &h); err != nil {
		return nil
	}
	return &h
}

// Serialize marshals an HTLCMemo back to its wire JSON form.
func Serialize(m HTLCMemo) ([]byte, error) {
	if m.Type == "" {
		m.Type = HTLCMemoType
	}
	return json.Marshal(m)
}

// SerializeForward marshals a ForwardMemo to its nested wire JSON form.
func SerializeForward(f ForwardMemo) ([]byte, error) {
	return json.Marshal(f)
}

// MaxMemoBytes is the wire-format size cap from spec §6.
const MaxMemoBytes = 256

// ErrMemoTooLarge is returned by validators when a serialized memo exceeds
// MaxMemoBytes.
var ErrMemoTooLarge = fmt.Errorf("memo exceeds %d bytes", MaxMemoBytes)
