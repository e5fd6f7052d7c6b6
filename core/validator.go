package core

import (
	"context"
	"time"
)

// Validator answers whether a presented credential grants access.
//
// By default only presence in the store is checked: expiry is enforced by
// the reaper removing old records, so a credential stays usable until the
// next reap. With strict set, the issue time is compared against the window
// as well, and records with an unreadable timestamp are refused.
type Validator struct {
	store  Store
	window time.Duration
	strict bool
	now    func() time.Time
}

func NewValidator(store Store, window time.Duration, strict bool, now func() time.Time) *Validator {
	if window <= 0 {
		window = DefaultExpirationWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{store: store, window: window, strict: strict, now: now}
}

func (v *Validator) IsValid(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	c, ok, err := v.store.Find(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if !v.strict {
		return true, nil
	}
	if c.IssuedAt.IsZero() {
		return false, nil
	}
	return v.now().Sub(c.IssuedAt) < v.window, nil
}
