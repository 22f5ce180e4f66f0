package cosmos

import "testing"

func TestParseAmountCommaJoinedForm(t *testing.T) {
	coins, err := ParseAmount("100uatom,250uosmo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(coins) != 2 {
		t.Fatalf("expected 2 coins, got %d", len(coins))
	}
}

func TestParseAmountJSONArrayForm(t *testing.T) {
	coins, err := ParseAmount(`[{"denom":"uatom","amount":"100"}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(coins) != 1 || coins[0].Denom != "uatom" {
		t.Fatalf("unexpected coins: %+v", coins)
	}
}

func TestParseAmountRejectsEmpty(t *testing.T) {
	if _, err := ParseAmount("  "); err == nil {
		t.Fatal("expected an error for an empty amount string")
	}
}

func TestParseAmountRejectsMalformedSegment(t *testing.T) {
	if _, err := ParseAmount("uatom"); err == nil {
		t.Fatal("expected an error for a segment missing its numeric prefix")
	}
}
