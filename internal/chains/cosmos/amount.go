package cosmos

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	sdk "github.com/cosmos/cosmos-sdk/types"
)

// ParseAmount accepts either a JSON coin array (`[{"denom":"uatom","amount":"100"}]`)
// or a comma-joined "<n><denom>[,<n><denom>]*" string (spec §4.E) and
// returns the coins it describes.
func ParseAmount(raw string) (sdk.Coins, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("cosmos: empty amount")
	}

	if trimmed[0] == '[' {
		var wire []struct {
			Denom  string `json:"denom"`
			Amount string `json:"amount"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
			return nil, fmt.Errorf("cosmos: decode coin array: %w", err)
		}
		coins := make(sdk.Coins, 0, len(wire))
		for _, w := range wire {
			amt, ok := sdk.NewIntFromString(w.Amount)
			if !ok {
				return nil, fmt.Errorf("cosmos: invalid coin amount %q", w.Amount)
			}
			coins = coins.Add(sdk.NewCoin(w.Denom, amt))
		}
		return coins, nil
	}

	coins := make(sdk.Coins, 0)
	for _, part := range strings.Split(trimmed, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i := 0
		for i < len(part) && (part[i] >= '0' && part[i] <= '9') {
			i++
		}
		if i == 0 {
			return nil, fmt.Errorf("cosmos: malformed amount segment %q", part)
		}
		n, err := strconv.ParseInt(part[:i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cosmos: malformed amount %q: %w", part, err)
		}
		denom := part[i:]
		coins = coins.Add(sdk.NewCoin(denom, sdk.NewInt(n)))
	}
	return coins, nil
}
