package memory

import (
	"context"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
)

// WithinTx serialises units of work and keeps an undo journal of every
// ledger, product update and sale write made through the supplied Querier.
// The journal is replayed in reverse when fn fails.
func (s *Store) WithinTx(_ context.Context, fn func(q store.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txStore{Store: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type txStore struct {
	*Store
	undo []func()
}

func (t *txStore) Reserve(ctx context.Context, productID string, qty int) (domain.StockReservation, error) {
	res, err := t.Store.Reserve(ctx, productID, qty)
	if err != nil {
		return res, err
	}
	t.undo = append(t.undo, func() { t.adjust(productID, qty) })
	return res, nil
}

func (t *txStore) Restore(ctx context.Context, productID string, qty int) error {
	if err := t.Store.Restore(ctx, productID, qty); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { t.adjust(productID, -qty) })
	return nil
}

func (t *txStore) UpdateProduct(_ context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	updated, previous, err := t.patchProduct(id, patch)
	if err != nil {
		return nil, err
	}
	t.undo = append(t.undo, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.products[id] = previous
	})
	return updated, nil
}

func (t *txStore) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	created, err := t.Store.CreateSale(ctx, sale)
	if err != nil {
		return nil, err
	}
	t.undo = append(t.undo, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.sales, created.ID)
		if created.IdempotencyKey != "" {
			delete(t.salesByIdem, created.IdempotencyKey)
		}
	})
	return created, nil
}

func (t *txStore) UpdateSale(ctx context.Context, sale domain.Sale, expectedVersion int) (*domain.Sale, error) {
	previous, err := t.Store.GetSale(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	updated, err := t.Store.UpdateSale(ctx, sale, expectedVersion)
	if err != nil {
		return nil, err
	}
	t.undo = append(t.undo, func() { t.put(previous) })
	return updated, nil
}

func (t *txStore) DeleteSale(ctx context.Context, id string) error {
	previous, err := t.Store.GetSale(ctx, id)
	if err != nil {
		return err
	}
	if err := t.Store.DeleteSale(ctx, id); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { t.put(previous) })
	return nil
}

func (t *txStore) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *txStore) adjust(productID string, delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.products[productID]
	if !ok {
		return
	}
	p.Quantity += delta
	t.products[productID] = p
}

func (t *txStore) put(sale *domain.Sale) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sales[sale.ID] = cloneSale(sale)
	if sale.IdempotencyKey != "" {
		t.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
}
