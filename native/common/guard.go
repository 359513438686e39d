package common

import "errors"

// ErrNotOwner rejects configuration calls from anyone but the component
// owner.
var ErrNotOwner = errors.New("caller is not the owner")

// AllowView reports whether an exercise module is on the active allow-list.
type AllowView interface {
	IsActive(module [20]byte) bool
}

// GuardOwner fails unless caller is the configured owner.
func GuardOwner(owner, caller [20]byte) error {
	if caller != owner {
		return ErrNotOwner
	}
	return nil
}
