package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
)

func newStoreWithProduct(t *testing.T, qty int) *Store {
	t.Helper()
	s := New()
	_, err := s.CreateProduct(context.Background(), domain.Product{
		ID:        "prd-1",
		Name:      "Paracetamol 500mg",
		SalePrice: decimal.RequireFromString("2.50"),
		Quantity:  qty,
	})
	require.NoError(t, err)
	return s
}

func TestReserveDecrementsAndReportsSnapshot(t *testing.T) {
	s := newStoreWithProduct(t, 10)

	res, err := s.Reserve(context.Background(), "prd-1", 4)
	require.NoError(t, err)
	assert.Equal(t, "Paracetamol 500mg", res.Name)
	assert.True(t, res.Price.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, 6, res.Remaining)
}

func TestReserveRejectsOverdraw(t *testing.T) {
	s := newStoreWithProduct(t, 3)

	_, err := s.Reserve(context.Background(), "prd-1", 4)
	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 4, stockErr.Requested)

	p, err := s.GetProduct(context.Background(), "prd-1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Quantity)
}

func TestReserveUnknownProduct(t *testing.T) {
	s := New()
	_, err := s.Reserve(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, store.ErrProductNotFound)
	assert.ErrorIs(t, s.Restore(context.Background(), "missing", 1), store.ErrProductNotFound)
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	s := newStoreWithProduct(t, 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Reserve(context.Background(), "prd-1", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	p, err := s.GetProduct(context.Background(), "prd-1")
	require.NoError(t, err)
	assert.Equal(t, 50, succeeded)
	assert.Equal(t, 0, p.Quantity)
}

func TestWithinTxRollsBackJournal(t *testing.T) {
	s := newStoreWithProduct(t, 10)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(q store.Querier) error {
		if _, err := q.Reserve(ctx, "prd-1", 4); err != nil {
			return err
		}
		if err := q.Restore(ctx, "prd-1", 1); err != nil {
			return err
		}
		if _, err := q.CreateSale(ctx, domain.Sale{
			ID:    "sale-1",
			Items: []domain.SaleItem{{ProductID: "prd-1", Quantity: 3}},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.GetProduct(ctx, "prd-1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)

	_, err = s.GetSale(ctx, "sale-1")
	assert.ErrorIs(t, err, store.ErrSaleNotFound)
}

func TestWithinTxRollsBackProductUpdate(t *testing.T) {
	s := newStoreWithProduct(t, 10)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(q store.Querier) error {
		if err := q.Restore(ctx, "prd-1", 3); err != nil {
			return err
		}
		qty := 1
		if _, err := q.UpdateProduct(ctx, "prd-1", domain.ProductPatch{Quantity: &qty}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.GetProduct(ctx, "prd-1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)
}

func TestWithinTxRestoresDeletedSale(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateSale(ctx, domain.Sale{ID: "sale-1", IdempotencyKey: "idem-1", Version: 1, Items: []domain.SaleItem{{ProductID: "prd-1", Quantity: 1}}})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(q store.Querier) error {
		require.NoError(t, q.DeleteSale(ctx, "sale-1"))
		return errors.New("abort")
	})
	require.Error(t, err)

	sale, err := s.FindSaleByIdempotency(ctx, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "sale-1", sale.ID)
}

func TestUpdateSaleChecksVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateSale(ctx, domain.Sale{ID: "sale-1", Version: 1, Items: []domain.SaleItem{{ProductID: "prd-1", Quantity: 1}}})
	require.NoError(t, err)

	_, err = s.UpdateSale(ctx, domain.Sale{ID: "sale-1", Version: 3}, 2)
	assert.ErrorIs(t, err, store.ErrConcurrentModification)

	updated, err := s.UpdateSale(ctx, domain.Sale{ID: "sale-1", Version: 2, PaymentMode: domain.PaymentUPI}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
}

func TestListSalesNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"sale-a", "sale-b", "sale-c"} {
		_, err := s.CreateSale(ctx, domain.Sale{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Items:     []domain.SaleItem{{ProductID: "prd-1", Quantity: 1}},
		})
		require.NoError(t, err)
	}

	sales, err := s.ListSales(ctx, domain.ListSalesFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "sale-c", sales[0].ID)
	assert.Equal(t, "sale-b", sales[1].ID)
}

func TestProductNameIsUnique(t *testing.T) {
	s := newStoreWithProduct(t, 1)
	_, err := s.CreateProduct(context.Background(), domain.Product{ID: "prd-2", Name: "paracetamol 500MG"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestUpdateProductLeavesUnsetQuantity(t *testing.T) {
	s := newStoreWithProduct(t, 10)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "prd-1", 3)
	require.NoError(t, err)

	name := "Paracetamol 650mg"
	updated, err := s.UpdateProduct(ctx, "prd-1", domain.ProductPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, 7, updated.Quantity)

	qty := 20
	updated, err = s.UpdateProduct(ctx, "prd-1", domain.ProductPatch{Quantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, 20, updated.Quantity)
	assert.Equal(t, name, updated.Name)

	_, err = s.UpdateProduct(ctx, "prd-missing", domain.ProductPatch{Name: &name})
	assert.ErrorIs(t, err, store.ErrProductNotFound)
}

func TestCustomerPhoneIsUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateCustomer(ctx, domain.Customer{ID: "cus-1", Name: "Asha", Phone: "+919876543210"})
	require.NoError(t, err)
	_, err = s.CreateCustomer(ctx, domain.Customer{ID: "cus-2", Name: "Ravi", Phone: "+919876543210"})
	assert.ErrorIs(t, err, store.ErrValidation)
}
