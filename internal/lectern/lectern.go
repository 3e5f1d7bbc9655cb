// Package lectern holds the domain types shared by the fetcher, the persistence layer and the
// RPC handlers, along with the contracts those packages talk to each other through.
package lectern

import (
	"context"
	"errors"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

// Transactor runs fn inside a single transaction, committing when fn returns nil and rolling back
// otherwise. The transaction travels on the context given to fn.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
