package memo

import "testing"

func TestParsePlainHTLCMemo(t *testing.T) {
	raw, err := Serialize(HTLCMemo{HTLCID: "h1", Receiver: "0xr", Hashlock: "deadbeef"})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	body := Parse(raw)
	if body.Kind != KindPlain {
		t.Fatalf("expected KindPlain, got %v", body.Kind)
	}
	if body.Plain == nil || body.Plain.HTLCID != "h1" {
		t.Fatalf("unexpected plain memo: %+v", body.Plain)
	}
}

func TestParseForwardedMemoWithInnermostHTLC(t *testing.T) {
	inner, _ := Serialize(HTLCMemo{HTLCID: "h2"})
	hop := 1
	forward := ForwardMemo{Forward: ForwardBody{
		Receiver: "0xmid", Port: "transfer", Channel: "chan-1", Timeout: "100", HopIndex: &hop,
		Next: &ForwardMemo{Forward: ForwardBody{
			Receiver: "0xfinal", Port: "transfer", Channel: "chan-2", Timeout: "200", Memo: string(inner),
		}},
	}}
	raw, err := SerializeForward(forward)
	if err != nil {
		t.Fatalf("SerializeForward: %v", err)
	}

	body := Parse(raw)
	if body.Kind != KindForwarded {
		t.Fatalf("expected KindForwarded, got %v", body.Kind)
	}
	if body.Innermost == nil || body.Innermost.HTLCID != "h2" {
		t.Fatalf("expected the innermost HTLC memo decoded, got %+v", body.Innermost)
	}
}

func TestParseHTLCSiblingFieldShape(t *testing.T) {
	raw := []byte(`{"htlc":{"type":"htlc_create","htlcId":"h3"}}`)
	body := Parse(raw)
	if body.Kind != KindPlain {
		t.Fatalf("expected KindPlain for the htlc sibling-field shape, got %v", body.Kind)
	}
	if body.Plain == nil || body.Plain.HTLCID != "h3" {
		t.Fatalf("unexpected plain memo: %+v", body.Plain)
	}
}

func TestParseMalformedJSONYieldsUnknown(t *testing.T) {
	body := Parse([]byte("not json"))
	if body.Kind != KindUnknown {
		t.Fatalf("expected KindUnknown for malformed input, got %v", body.Kind)
	}
}

func TestParseEmptyObjectYieldsUnknown(t *testing.T) {
	body := Parse([]byte("{}"))
	if body.Kind != KindUnknown {
		t.Fatalf("expected KindUnknown for an object matching neither shape, got %v", body.Kind)
	}
}

func TestForwardWithoutInnermostMemoHasNilInnermost(t *testing.T) {
	forward := ForwardMemo{Forward: ForwardBody{Receiver: "0xr", Port: "transfer", Channel: "chan-0", Timeout: "1"}}
	raw, _ := SerializeForward(forward)

	body := Parse(raw)
	if body.Kind != KindForwarded {
		t.Fatalf("expected KindForwarded, got %v", body.Kind)
	}
	if body.Innermost != nil {
		t.Fatalf("expected nil Innermost when no HTLC memo is nested, got %+v", body.Innermost)
	}
}
