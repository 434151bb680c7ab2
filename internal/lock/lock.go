package lock

import (
	"context"
	"errors"
)

var ErrNotObtained = errors.New("lock not obtained")

// Release gives the lock back. It is safe to call more than once.
type Release func()

// Locker serialises work on one key, such as a sale id.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// SaleKey is the lock key guarding edits and deletes of one sale.
func SaleKey(saleID string) string {
	return "pharmacy:sale:" + saleID
}
