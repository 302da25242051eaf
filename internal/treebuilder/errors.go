package treebuilder

import (
	"fmt"

	"github.com/zecsync/warpcore/internal/protocol"
)

// errMismatch signals an internal invariant violation: AddNodes must
// register exactly one new witness per leaf marked NewWitness, in the
// same order those leaves were passed in.
func errMismatch(pool protocol.Pool, matched, witnesses int) error {
	return fmt.Errorf("treebuilder: %v: matched outputs (%d) != new witnesses (%d)", pool, matched, witnesses)
}
