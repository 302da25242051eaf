// Package keys holds the wallet's viewing-key registry. Per spec.md
// §5, the registry is read-only for the duration of a sync run; it is
// built once before a pipeline run starts and never mutated by any
// pipeline stage.
package keys

import "github.com/zecsync/warpcore/internal/protocol"

// Account is an opaque wallet account identifier.
type Account uint64

// KeySet is one account's viewing key material for one pool. At most
// one per (account, pool) exists at a time, matching spec.md §3.
type KeySet struct {
	Account Account
	Pool    protocol.Pool
	IVK     protocol.IncomingViewingKey
	FVK     protocol.FullViewingKey
}

// Registry is a snapshot of every account's viewing keys, grouped by
// pool so the Decrypter can iterate "every key for this pool" without
// filtering on every call.
type Registry struct {
	byPool map[protocol.Pool][]KeySet
}

// NewRegistry builds a registry from a flat list of key sets.
func NewRegistry(sets []KeySet) *Registry {
	r := &Registry{byPool: make(map[protocol.Pool][]KeySet)}
	for _, s := range sets {
		r.byPool[s.Pool] = append(r.byPool[s.Pool], s)
	}
	return r
}

// KeysForPool returns every registered key set for pool, in
// registration order. The returned slice must not be mutated by
// callers; it is shared across concurrent decrypt workers.
func (r *Registry) KeysForPool(pool protocol.Pool) []KeySet {
	return r.byPool[pool]
}

// FVK returns the full viewing key registered for account in pool, if
// any — used by the Spend Detector to derive the nullifier of a
// freshly positioned note, which needs the full (not incoming)
// viewing key.
func (r *Registry) FVK(account Account, pool protocol.Pool) (protocol.FullViewingKey, bool) {
	for _, s := range r.byPool[pool] {
		if s.Account == account {
			return s.FVK, true
		}
	}
	return nil, false
}

// Accounts returns every distinct account present in the registry.
func (r *Registry) Accounts() []Account {
	seen := make(map[Account]bool)
	var out []Account
	for _, sets := range r.byPool {
		for _, s := range sets {
			if !seen[s.Account] {
				seen[s.Account] = true
				out = append(out, s.Account)
			}
		}
	}
	return out
}
