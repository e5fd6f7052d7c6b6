package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Issuer mints credentials. The random UUID is the only thing standing
// between a caller and the classifier, so it must never be sequential.
type Issuer struct {
	store Store
	now   func() time.Time
}

func NewIssuer(store Store, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{store: store, now: now}
}

func (i *Issuer) Issue(ctx context.Context) (Credential, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Credential{}, fmt.Errorf("generate credential: %w", err)
	}
	c := Credential{
		ID:       id.String(),
		IssuedAt: i.now().UTC(),
	}
	if err := i.store.Append(ctx, c); err != nil {
		return Credential{}, err
	}
	return c, nil
}
