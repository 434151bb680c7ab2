package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/lock"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/store/memory"
)

// stepClock hands out strictly increasing timestamps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	clock := &stepClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(repo, lock.NewLocal(), zap.NewNop(), opts...), repo
}

func addProduct(t *testing.T, repo store.ProductDirectory, id, name, price string, qty int) {
	t.Helper()
	now := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	_, err := repo.CreateProduct(context.Background(), domain.Product{
		ID:            id,
		Name:          name,
		SalePrice:     decimal.RequireFromString(price),
		PurchasePrice: decimal.RequireFromString(price),
		Quantity:      qty,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	require.NoError(t, err)
}

func quantityOf(t *testing.T, repo store.ProductDirectory, id string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func items(pairs ...any) []domain.SaleItemInput {
	out := make([]domain.SaleItemInput, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.SaleItemInput{ProductID: pairs[i].(string), Quantity: pairs[i+1].(int)})
	}
	return out
}

func money(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

// noTxRepo runs units of work without a rollback journal so that only the
// service's own compensation protects stock.
type noTxRepo struct {
	*memory.Store
	failCreate  error
	failUpdate  error
	failReserve map[string]error
}

func (r *noTxRepo) WithinTx(_ context.Context, fn func(q store.Querier) error) error {
	return fn(r)
}

func (r *noTxRepo) Reserve(ctx context.Context, productID string, qty int) (domain.StockReservation, error) {
	if err, ok := r.failReserve[productID]; ok {
		return domain.StockReservation{}, err
	}
	return r.Store.Reserve(ctx, productID, qty)
}

func (r *noTxRepo) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if r.failCreate != nil {
		return nil, r.failCreate
	}
	return r.Store.CreateSale(ctx, sale)
}

func (r *noTxRepo) UpdateSale(ctx context.Context, sale domain.Sale, expectedVersion int) (*domain.Sale, error) {
	if r.failUpdate != nil {
		return nil, r.failUpdate
	}
	return r.Store.UpdateSale(ctx, sale, expectedVersion)
}

// failingTxRepo keeps the store's journal but fails sale writes inside it.
type failingTxRepo struct {
	*memory.Store
	err error
}

func (r *failingTxRepo) WithinTx(ctx context.Context, fn func(q store.Querier) error) error {
	return r.Store.WithinTx(ctx, func(q store.Querier) error {
		return fn(failingQuerier{Querier: q, err: r.err})
	})
}

type failingQuerier struct {
	store.Querier
	err error
}

func (q failingQuerier) CreateSale(context.Context, domain.Sale) (*domain.Sale, error) {
	return nil, q.err
}

func (q failingQuerier) UpdateSale(context.Context, domain.Sale, int) (*domain.Sale, error) {
	return nil, q.err
}

var errDiskFull = errors.New("disk full")
