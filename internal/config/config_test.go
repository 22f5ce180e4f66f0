package config

import (
	"testing"
)

func TestSplitNonEmptyIgnoresEmptyFields(t *testing.T) {
	got := splitNonEmpty("a;;b;c;", ';')
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestParseCosmosChainsEnvValid(t *testing.T) {
	t.Setenv("COSMOS_CHAINS", "osmosis-1|http://osmo:26657|wasm1abc;cosmoshub-4|http://hub:26657|wasm1def")

	chains, err := parseCosmosChainsEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(chains))
	}
	if chains[0].ChainID != "osmosis-1" || chains[0].RPCURL != "http://osmo:26657" || chains[0].HTLCContract != "wasm1abc" {
		t.Fatalf("unexpected first chain: %+v", chains[0])
	}
	if chains[1].ChainID != "cosmoshub-4" {
		t.Fatalf("unexpected second chain: %+v", chains[1])
	}
}

func TestParseCosmosChainsEnvEmpty(t *testing.T) {
	t.Setenv("COSMOS_CHAINS", "")
	chains, err := parseCosmosChainsEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chains != nil {
		t.Fatalf("expected nil chains for an unset COSMOS_CHAINS, got %v", chains)
	}
}

func TestParseCosmosChainsEnvMalformedEntry(t *testing.T) {
	t.Setenv("COSMOS_CHAINS", "osmosis-1|http://osmo:26657") // missing htlcContract

	_, err := parseCosmosChainsEnv()
	if err == nil {
		t.Fatal("expected an error for a malformed COSMOS_CHAINS entry")
	}
}

func TestParsePort(t *testing.T) {
	port, err := parsePort("localhost:10080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port != 10080 {
		t.Fatalf("expected 10080, got %d", port)
	}
}

func TestParsePortMissingColon(t *testing.T) {
	if _, err := parsePort("localhost"); err == nil {
		t.Fatal("expected an error for an address with no port")
	}
}

func TestValidateRequiresLocalChain(t *testing.T) {
	cfg := &Config{
		EVM:      EVMConfig{RPCURL: "http://evm"},
		Registry: RegistryConfig{BaseURL: "http://registry"},
		Cosmos:   []CosmosConfig{{ChainID: "cosmoshub-4", RPCURL: "http://hub"}},
		Admin:    AdminConfig{ListenAddr: "localhost:10080"},
	}
	if err := validate(cfg); err == nil {
		t.Fatal("expected validate to require General.LocalChain")
	}
}

func TestValidateRequiresAtLeastOneCosmosChain(t *testing.T) {
	cfg := &Config{
		General:  GeneralConfig{LocalChain: "chain-a"},
		EVM:      EVMConfig{RPCURL: "http://evm"},
		Registry: RegistryConfig{BaseURL: "http://registry"},
		Admin:    AdminConfig{ListenAddr: "localhost:10080"},
	}
	if err := validate(cfg); err == nil {
		t.Fatal("expected validate to require at least one Cosmos chain")
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := &Config{
		General:  GeneralConfig{LocalChain: "chain-a"},
		EVM:      EVMConfig{RPCURL: "http://evm"},
		Registry: RegistryConfig{BaseURL: "http://registry"},
		Cosmos:   []CosmosConfig{{ChainID: "cosmoshub-4", RPCURL: "http://hub"}},
		Admin:    AdminConfig{ListenAddr: "localhost:10080"},
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected error for a complete config: %v", err)
	}
}
