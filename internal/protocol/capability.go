package protocol

import "fmt"

// For returns the Capability for a pool. It is the only place in the
// package that switches on Pool; everywhere else works through the
// interface.
func For(pool Pool) (Capability, error) {
	switch pool {
	case Sapling:
		return NewSapling(), nil
	case Orchard:
		return NewOrchard(), nil
	default:
		return nil, fmt.Errorf("protocol: unknown pool %v", pool)
	}
}
