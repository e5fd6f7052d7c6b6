package core

import (
	"context"
)

// Store is the append-only credential record list.
//
// Find is a full scan returning the first record with a matching id; a
// record with an unparsable timestamp still matches but carries a zero
// IssuedAt. Compact rewrites the list to the records keep accepts, in their
// original order, dropping malformed lines unconditionally.
type Store interface {
	Append(ctx context.Context, c Credential) error
	Find(ctx context.Context, id string) (Credential, bool, error)
	Compact(ctx context.Context, keep func(Credential) bool) (int, error)
}
