package keys

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/zecsync/warpcore/internal/protocol"
)

// fileKeySet is one entry of a keys file: one account's viewing key
// material for one pool, hex-encoded. Key derivation from a unified
// full viewing key string is out of scope here — this loader expects
// keys already split into their raw per-pool IVK/FVK bytes, the way
// an operator's provisioning step would hand them to this binary.
type fileKeySet struct {
	Account uint64 `json:"account"`
	Pool    string `json:"pool"`
	IVKHex  string `json:"ivk"`
	FVKHex  string `json:"fvk"`
}

// LoadRegistryFile reads a JSON array of fileKeySet from path and
// builds a Registry from it. Used by cmd/warpcore to construct the
// registry pipeline.New requires.
func LoadRegistryFile(path string) (*Registry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read %s: %w", path, err)
	}

	var entries []fileKeySet
	if err := json.Unmarshal(buf, &entries); err != nil {
		return nil, fmt.Errorf("keys: parse %s: %w", path, err)
	}

	sets := make([]KeySet, 0, len(entries))
	for i, e := range entries {
		var pool protocol.Pool
		switch e.Pool {
		case "sapling":
			pool = protocol.Sapling
		case "orchard":
			pool = protocol.Orchard
		default:
			return nil, fmt.Errorf("keys: entry %d: unknown pool %q", i, e.Pool)
		}

		ivk, err := hex.DecodeString(e.IVKHex)
		if err != nil {
			return nil, fmt.Errorf("keys: entry %d: decode ivk: %w", i, err)
		}
		fvk, err := hex.DecodeString(e.FVKHex)
		if err != nil {
			return nil, fmt.Errorf("keys: entry %d: decode fvk: %w", i, err)
		}

		sets = append(sets, KeySet{
			Account: Account(e.Account),
			Pool:    pool,
			IVK:     protocol.IncomingViewingKey(ivk),
			FVK:     protocol.FullViewingKey(fvk),
		})
	}

	return NewRegistry(sets), nil
}
