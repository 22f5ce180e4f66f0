package adminrpc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	macaroon "gopkg.in/macaroon.v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/htlcrelay/relayer/internal/log"
)

const macaroonMetadataKey = "macaroon"

// LoadOrBakeMacaroon reads the admin macaroon at path, baking a fresh one
// on first run, mirroring lnd's admin.macaroon bootstrap.
func LoadOrBakeMacaroon(path string) (*macaroon.Macaroon, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		mac := &macaroon.Macaroon{}
		if err := mac.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("adminrpc: decode macaroon at %s: %w", path, err)
		}
		return mac, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("adminrpc: read macaroon at %s: %w", path, err)
	}

	rootKey := make([]byte, 32)
	if _, err := rand.Read(rootKey); err != nil {
		return nil, fmt.Errorf("adminrpc: generate root key: %w", err)
	}

	mac, err := macaroon.New(rootKey, []byte("admin"), "htlcrelay", macaroon.LatestVersion)
	if err != nil {
		return nil, fmt.Errorf("adminrpc: bake macaroon: %w", err)
	}

	raw, err = mac.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("adminrpc: marshal macaroon: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return nil, fmt.Errorf("adminrpc: write macaroon to %s: %w", path, err)
	}

	log.Admin.Infof("baked new admin macaroon at %s", path)
	return mac, nil
}

// AuthInterceptor rejects any admin RPC whose request metadata does not
// carry a macaroon matching want's signature.
func AuthInterceptor(want *macaroon.Macaroon) grpc.UnaryServerInterceptor {
	wantSig := hex.EncodeToString(want.Signature())

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler) (interface{}, error) {

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, fmt.Errorf("adminrpc: missing metadata, macaroon required for %s", info.FullMethod)
		}
		values := md.Get(macaroonMetadataKey)
		if len(values) != 1 {
			return nil, fmt.Errorf("adminrpc: missing macaroon for %s", info.FullMethod)
		}

		raw, err := hex.DecodeString(values[0])
		if err != nil {
			return nil, fmt.Errorf("adminrpc: malformed macaroon hex: %w", err)
		}
		presented := &macaroon.Macaroon{}
		if err := presented.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("adminrpc: malformed macaroon: %w", err)
		}

		if hex.EncodeToString(presented.Signature()) != wantSig {
			log.Admin.Warnf("rejected admin RPC %s: macaroon signature mismatch", info.FullMethod)
			return nil, fmt.Errorf("adminrpc: invalid macaroon")
		}

		return handler(ctx, req)
	}
}
