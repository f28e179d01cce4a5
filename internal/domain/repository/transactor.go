package repository

import "context"

// Transactor runs fn inside one database transaction. Repositories called with
// the ctx passed to fn join that transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
