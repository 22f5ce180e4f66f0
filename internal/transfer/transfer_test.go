package transfer

import "testing"

func TestDecodeHashlockAcceptsWithAndWithoutPrefix(t *testing.T) {
	want := "00112233445566778899aabbccddeeff00112233445566778899aabbccddee"

	a, err := decodeHashlock(want)
	if err != nil {
		t.Fatalf("unexpected error without 0x prefix: %v", err)
	}
	b, err := decodeHashlock("0x" + want)
	if err != nil {
		t.Fatalf("unexpected error with 0x prefix: %v", err)
	}
	if a != b {
		t.Fatal("expected identical decoding with and without the 0x prefix")
	}
}

func TestDecodeHashlockRejectsWrongLength(t *testing.T) {
	if _, err := decodeHashlock("deadbeef"); err == nil {
		t.Fatal("expected an error for a hashlock shorter than 32 bytes")
	}
}

func TestDecodeHashlockRejectsNonHex(t *testing.T) {
	if _, err := decodeHashlock("not-hex-zzzz-not-hex-zzzz-not-hex-zzzz-not-hex-zz"); err == nil {
		t.Fatal("expected an error for non-hex input")
	}
}

func TestSplitPortChannel(t *testing.T) {
	port, channel, err := splitPortChannel("transfer/channel-0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != "transfer" || channel != "channel-0" {
		t.Fatalf("expected transfer/channel-0, got %s/%s", port, channel)
	}
}

func TestSplitPortChannelRejectsMissingSeparator(t *testing.T) {
	if _, _, err := splitPortChannel("transferchannel-0"); err == nil {
		t.Fatal("expected an error when the router entry carries no '/' separator")
	}
}
