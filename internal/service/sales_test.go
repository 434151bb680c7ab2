package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/lock"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/store/memory"
)

func TestCreateSaleDebitsStockAndSnapshotsLines(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
	addProduct(t, repo, "prd-b", "ORS Sachet", "21.00", 4)

	resp, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:       items("prd-a", 3, "prd-b", 1),
		TotalAmount: money("1.00"),
	})
	require.NoError(t, err)
	assert.False(t, resp.Duplicate)

	sale := resp.Sale
	assert.NotEmpty(t, sale.ID)
	assert.Equal(t, 1, sale.Version)
	assert.Equal(t, domain.PaymentCash, sale.PaymentMode)
	require.Len(t, sale.Items, 2)
	assert.Equal(t, "Paracetamol 500mg", sale.Items[0].Name)
	assert.True(t, sale.Items[0].Price.Equal(decimal.RequireFromString("25.00")))
	assert.True(t, sale.TotalAmount.Equal(decimal.RequireFromString("96.00")), "got %s", sale.TotalAmount)

	assert.Equal(t, 7, quantityOf(t, repo, "prd-a"))
	assert.Equal(t, 3, quantityOf(t, repo, "prd-b"))
}

func TestCreateSaleRoundsTotalFromExplicitPrices(t *testing.T) {
	svc, repo := newTestService(t)
	addProduct(t, repo, "prd-a", "Cetirizine 10mg", "18.00", 10)
	addProduct(t, repo, "prd-b", "Vitamin C 500mg", "60.00", 10)

	resp, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{
			{ProductID: "prd-a", Quantity: 3, Price: money("19.99")},
			{ProductID: "prd-b", Quantity: 1, Price: money("0.10")},
		},
		PaymentMode: "upi",
	})
	require.NoError(t, err)
	assert.True(t, resp.Sale.TotalAmount.Equal(decimal.RequireFromString("60.07")), "got %s", resp.Sale.TotalAmount)
	assert.Equal(t, domain.PaymentUPI, resp.Sale.PaymentMode)
}

func TestCreateSaleRejectsInvalidRequests(t *testing.T) {
	svc, repo := newTestService(t)
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)

	cases := map[string]domain.CreateSaleRequest{
		"no items":         {},
		"zero quantity":    {Items: items("prd-a", 0)},
		"blank product":    {Items: items("  ", 1)},
		"negative price":   {Items: []domain.SaleItemInput{{ProductID: "prd-a", Quantity: 1, Price: money("-1")}}},
		"unknown payment":  {Items: items("prd-a", 1), PaymentMode: "bitcoin"},
		"oversized key":    {Items: items("prd-a", 1), IdempotencyKey: strings.Repeat("k", 129)},
		"negative qty raw": {Items: items("prd-a", -2)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSale(context.Background(), req)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}
	assert.Equal(t, 10, quantityOf(t, repo, "prd-a"))
}

func TestCreateSaleUnknownCustomer(t *testing.T) {
	svc, repo := newTestService(t)
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)

	_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		CustomerID: "cus-missing",
		Items:      items("prd-a", 2),
	})
	assert.ErrorIs(t, err, store.ErrCustomerNotFound)
	assert.Equal(t, 10, quantityOf(t, repo, "prd-a"))
}

func TestCreateSaleUnknownProductLeavesStockUntouched(t *testing.T) {
	svc, repo := newTestService(t)
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)

	_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{Items: items("prd-a", 2, "prd-missing", 1)})
	assert.ErrorIs(t, err, store.ErrProductNotFound)
	assert.Equal(t, 10, quantityOf(t, repo, "prd-a"))
}

func TestCreateSaleDepletesThenRefuses(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Cough Syrup 100ml", "95.00", 5)

	_, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 3)})
	require.NoError(t, err)

	_, err = svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 3)})
	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "prd-a", stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, quantityOf(t, repo, "prd-a"))
}

func TestCreateSaleSumsDemandForRepeatedProduct(t *testing.T) {
	svc, repo := newTestService(t)
	addProduct(t, repo, "prd-a", "Cough Syrup 100ml", "95.00", 5)

	_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{Items: items("prd-a", 3, "prd-a", 3)})
	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 6, stockErr.Requested)
	assert.Equal(t, 5, quantityOf(t, repo, "prd-a"))
}

func TestCreateSaleIdempotencyKeyReturnsExistingSale(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)

	req := domain.CreateSaleRequest{Items: items("prd-a", 2), IdempotencyKey: "till-1-0001"}
	first, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)
	second, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Sale.ID, second.Sale.ID)
	assert.Equal(t, 8, quantityOf(t, repo, "prd-a"))
}

func TestCreateSaleStorageFailureAfterReserveRestoresStock(t *testing.T) {
	t.Run("journaled unit of work", func(t *testing.T) {
		backing := memory.New()
		addProduct(t, backing, "prd-a", "Paracetamol 500mg", "25.00", 10)
		addProduct(t, backing, "prd-b", "ORS Sachet", "21.00", 10)
		svc := New(&failingTxRepo{Store: backing, err: errDiskFull}, lock.NewLocal(), zap.NewNop())

		_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{Items: items("prd-a", 4, "prd-b", 2)})
		require.ErrorIs(t, err, errDiskFull)
		assert.Equal(t, 10, quantityOf(t, backing, "prd-a"))
		assert.Equal(t, 10, quantityOf(t, backing, "prd-b"))
	})

	t.Run("compensation only", func(t *testing.T) {
		repo := &noTxRepo{Store: memory.New(), failCreate: errDiskFull}
		addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
		addProduct(t, repo, "prd-b", "ORS Sachet", "21.00", 10)
		svc := New(repo, lock.NewLocal(), zap.NewNop())

		_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{Items: items("prd-a", 4, "prd-b", 2)})
		require.ErrorIs(t, err, errDiskFull)
		assert.Equal(t, 10, quantityOf(t, repo, "prd-a"))
		assert.Equal(t, 10, quantityOf(t, repo, "prd-b"))
	})
}

func TestCreateSalePartialReservationIsCompensated(t *testing.T) {
	repo := &noTxRepo{
		Store:       memory.New(),
		failReserve: map[string]error{"prd-c": store.ErrStorage},
	}
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
	addProduct(t, repo, "prd-b", "ORS Sachet", "21.00", 10)
	addProduct(t, repo, "prd-c", "Cetirizine 10mg", "18.00", 10)
	svc := New(repo, lock.NewLocal(), zap.NewNop())

	_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{Items: items("prd-a", 1, "prd-b", 2, "prd-c", 3)})
	require.ErrorIs(t, err, store.ErrStorage)
	assert.Equal(t, 10, quantityOf(t, repo, "prd-a"))
	assert.Equal(t, 10, quantityOf(t, repo, "prd-b"))
	assert.Equal(t, 10, quantityOf(t, repo, "prd-c"))

	sales, err := repo.ListSales(context.Background(), domain.ListSalesFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService(t)
	addProduct(t, repo, "prd-a", "Amoxicillin 250mg", "85.50", 10)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{Items: items("prd-a", 1)})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 0, quantityOf(t, repo, "prd-a"))
}

func TestGetSaleResolvesCustomerAndCurrentNames(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Asha", Phone: "9876543210"})
	require.NoError(t, err)

	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{CustomerID: customer.ID, Items: items("prd-a", 1)})
	require.NoError(t, err)

	renamed := "Paracetamol 500mg Strip"
	_, err = svc.UpdateProduct(ctx, "prd-a", domain.ProductUpdateRequest{Name: &renamed})
	require.NoError(t, err)

	view, err := svc.GetSale(ctx, created.Sale.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Customer)
	assert.Equal(t, "Asha", view.Customer.Name)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Paracetamol 500mg", view.Items[0].Name)
	assert.Equal(t, renamed, view.Items[0].ProductName)

	_, err = svc.GetSale(ctx, "sale-missing")
	assert.ErrorIs(t, err, store.ErrSaleNotFound)
}

func TestListSalesNewestFirstWithCustomerFilter(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 50)
	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Ravi", Phone: "+91 98765 01234"})
	require.NoError(t, err)

	var ids []string
	for i := range 3 {
		req := domain.CreateSaleRequest{Items: items("prd-a", 1)}
		if i != 1 {
			req.CustomerID = customer.ID
		}
		resp, err := svc.CreateSale(ctx, req)
		require.NoError(t, err)
		ids = append(ids, resp.Sale.ID)
	}

	all, err := svc.ListSales(ctx, domain.ListSalesFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{all[0].ID, all[1].ID, all[2].ID})

	mine, err := svc.ListSales(ctx, domain.ListSalesFilter{CustomerID: customer.ID})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, ids[2], mine[0].ID)

	limited, err := svc.ListSales(ctx, domain.ListSalesFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestEditSaleReducingQuantityRestoresDifference(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)

	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 3)})
	require.NoError(t, err)
	require.Equal(t, 7, quantityOf(t, repo, "prd-a"))

	edited, err := svc.EditSale(ctx, created.Sale.ID, domain.EditSaleRequest{Items: items("prd-a", 1)})
	require.NoError(t, err)
	assert.Equal(t, 9, quantityOf(t, repo, "prd-a"))
	assert.Equal(t, 2, edited.Version)
	assert.True(t, edited.TotalAmount.Equal(decimal.RequireFromString("25.00")))
}

func TestEditSaleWithSameItemsIsStockNeutral(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
	addProduct(t, repo, "prd-b", "ORS Sachet", "21.00", 3)

	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 2, "prd-b", 3)})
	require.NoError(t, err)

	// prd-b is fully sold; the edit must count the sale's own reservation.
	_, err = svc.EditSale(ctx, created.Sale.ID, domain.EditSaleRequest{Items: items("prd-a", 2, "prd-b", 3)})
	require.NoError(t, err)
	assert.Equal(t, 8, quantityOf(t, repo, "prd-a"))
	assert.Equal(t, 0, quantityOf(t, repo, "prd-b"))
}

func TestEditSaleInsufficientStockKeepsOriginal(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)

	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 3)})
	require.NoError(t, err)

	_, err = svc.EditSale(ctx, created.Sale.ID, domain.EditSaleRequest{Items: items("prd-a", 11)})
	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 10, stockErr.Available)
	assert.Equal(t, 11, stockErr.Requested)

	assert.Equal(t, 7, quantityOf(t, repo, "prd-a"))
	view, err := svc.GetSale(ctx, created.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Sale.Version)
	assert.Equal(t, 3, view.Sale.Items[0].Quantity)
}

func TestEditSaleStorageFailureLeavesStockAsBefore(t *testing.T) {
	backing := memory.New()
	addProduct(t, backing, "prd-a", "Paracetamol 500mg", "25.00", 10)
	addProduct(t, backing, "prd-b", "ORS Sachet", "21.00", 10)

	healthy := New(backing, lock.NewLocal(), zap.NewNop())
	created, err := healthy.CreateSale(context.Background(), domain.CreateSaleRequest{Items: items("prd-a", 3)})
	require.NoError(t, err)

	broken := New(&failingTxRepo{Store: backing, err: errDiskFull}, lock.NewLocal(), zap.NewNop())
	_, err = broken.EditSale(context.Background(), created.Sale.ID, domain.EditSaleRequest{Items: items("prd-b", 4)})
	require.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, 7, quantityOf(t, backing, "prd-a"))
	assert.Equal(t, 10, quantityOf(t, backing, "prd-b"))
}

func TestEditSaleWithoutItemsUpdatesInPlace(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)

	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 2)})
	require.NoError(t, err)

	mode := "card"
	edited, err := svc.EditSale(ctx, created.Sale.ID, domain.EditSaleRequest{
		TotalAmount: money("45.005"),
		PaymentMode: &mode,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCard, edited.PaymentMode)
	assert.True(t, edited.TotalAmount.Equal(decimal.RequireFromString("45.01")), "got %s", edited.TotalAmount)
	assert.Len(t, edited.Items, 1)
	assert.Equal(t, 8, quantityOf(t, repo, "prd-a"))
}

func TestEditSaleRejections(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 2)})
	require.NoError(t, err)
	id := created.Sale.ID

	bad := "crypto"
	stale := 7
	cases := []struct {
		name string
		id   string
		req  domain.EditSaleRequest
		want error
	}{
		{"nothing to change", id, domain.EditSaleRequest{}, store.ErrValidation},
		{"empty items", id, domain.EditSaleRequest{Items: []domain.SaleItemInput{}}, store.ErrValidation},
		{"negative total", id, domain.EditSaleRequest{TotalAmount: money("-5")}, store.ErrValidation},
		{"unknown payment", id, domain.EditSaleRequest{PaymentMode: &bad}, store.ErrValidation},
		{"stale version", id, domain.EditSaleRequest{TotalAmount: money("10"), Version: &stale}, store.ErrConcurrentModification},
		{"missing sale", "sale-missing", domain.EditSaleRequest{TotalAmount: money("10")}, store.ErrSaleNotFound},
		{"unknown product", id, domain.EditSaleRequest{Items: items("prd-missing", 1)}, store.ErrProductNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.EditSale(ctx, tc.id, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, 8, quantityOf(t, repo, "prd-a"))
}

func TestEditSaleHonoursMatchingVersion(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 2)})
	require.NoError(t, err)

	version := 1
	edited, err := svc.EditSale(ctx, created.Sale.ID, domain.EditSaleRequest{Items: items("prd-a", 4), Version: &version})
	require.NoError(t, err)
	assert.Equal(t, 2, edited.Version)

	_, err = svc.EditSale(ctx, created.Sale.ID, domain.EditSaleRequest{Items: items("prd-a", 1), Version: &version})
	assert.ErrorIs(t, err, store.ErrConcurrentModification)
	assert.Equal(t, 6, quantityOf(t, repo, "prd-a"))
}

func TestDeleteSaleGivesUpWhileSaleIsLocked(t *testing.T) {
	locker := lock.NewLocal()
	repo := memory.New()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
	svc := New(repo, locker, zap.NewNop())

	created, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{Items: items("prd-a", 2)})
	require.NoError(t, err)

	release, err := locker.Acquire(context.Background(), lock.SaleKey(created.Sale.ID))
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.DeleteSale(ctx, created.Sale.ID)
	require.Error(t, err)
	assert.Equal(t, 8, quantityOf(t, repo, "prd-a"))
}

func TestDeleteSaleRestoresEveryLine(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
	addProduct(t, repo, "prd-b", "ORS Sachet", "21.00", 5)

	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 4, "prd-b", 5)})
	require.NoError(t, err)

	resp, err := svc.DeleteSale(ctx, created.Sale.ID)
	require.NoError(t, err)
	assert.True(t, resp.Deleted)
	assert.Equal(t, 2, resp.RestoredItems)
	assert.Equal(t, 0, resp.SkippedItems)
	assert.Equal(t, 10, quantityOf(t, repo, "prd-a"))
	assert.Equal(t, 5, quantityOf(t, repo, "prd-b"))

	_, err = svc.DeleteSale(ctx, created.Sale.ID)
	assert.ErrorIs(t, err, store.ErrSaleNotFound)
}

func TestDeleteSaleSkipsDeletedProducts(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	repo := memory.New()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
	addProduct(t, repo, "prd-b", "ORS Sachet", "21.00", 5)
	svc := New(repo, lock.NewLocal(), zap.New(core))
	ctx := context.Background()

	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 4, "prd-b", 2)})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteProduct(ctx, "prd-b"))

	resp, err := svc.DeleteSale(ctx, created.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.RestoredItems)
	assert.Equal(t, 1, resp.SkippedItems)
	assert.Equal(t, 10, quantityOf(t, repo, "prd-a"))

	skipped := logs.FilterMessage("restore skipped, product no longer exists").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "prd-b", skipped[0].ContextMap()["product_id"])
}

func TestDeleteSaleStorageFailureKeepsSaleAndStock(t *testing.T) {
	repo := memory.New()
	addProduct(t, repo, "prd-a", "Paracetamol 500mg", "25.00", 10)
	svc := New(repo, lock.NewLocal(), zap.NewNop())
	ctx := context.Background()

	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: items("prd-a", 4)})
	require.NoError(t, err)

	boom := errors.New("delete failed")
	broken := New(&deleteFailingRepo{Store: repo, err: boom}, lock.NewLocal(), zap.NewNop())
	_, err = broken.DeleteSale(ctx, created.Sale.ID)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 6, quantityOf(t, repo, "prd-a"))
	_, err = svc.GetSale(ctx, created.Sale.ID)
	assert.NoError(t, err)
}

type deleteFailingRepo struct {
	*memory.Store
	err error
}

func (r *deleteFailingRepo) WithinTx(ctx context.Context, fn func(q store.Querier) error) error {
	return r.Store.WithinTx(ctx, func(q store.Querier) error {
		return fn(deleteFailingQuerier{Querier: q, err: r.err})
	})
}

type deleteFailingQuerier struct {
	store.Querier
	err error
}

func (q deleteFailingQuerier) DeleteSale(context.Context, string) error {
	return q.err
}

// Random mixes of create, edit and delete must keep every quantity
// non-negative and equal to initial stock minus what live sales hold.
func TestRandomOperationsConserveStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	faker := gofakeit.New(20260301)

	initial := map[string]int{"prd-a": 12, "prd-b": 7, "prd-c": 3, "prd-d": 20}
	ids := []string{"prd-a", "prd-b", "prd-c", "prd-d"}
	for _, id := range ids {
		addProduct(t, repo, id, "Product "+id, "10.00", initial[id])
	}

	randomItems := func() []domain.SaleItemInput {
		n := faker.IntRange(1, 3)
		out := make([]domain.SaleItemInput, 0, n)
		for range n {
			out = append(out, domain.SaleItemInput{
				ProductID: ids[faker.IntRange(0, len(ids)-1)],
				Quantity:  faker.IntRange(1, 6),
			})
		}
		return out
	}

	var live []string
	for range 300 {
		switch op := faker.IntRange(0, 9); {
		case op < 5 || len(live) == 0:
			resp, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: randomItems()})
			if err == nil {
				live = append(live, resp.Sale.ID)
			} else {
				require.ErrorIs(t, err, store.ErrInsufficientStock)
			}
		case op < 8:
			id := live[faker.IntRange(0, len(live)-1)]
			_, err := svc.EditSale(ctx, id, domain.EditSaleRequest{Items: randomItems()})
			if err != nil {
				require.ErrorIs(t, err, store.ErrInsufficientStock)
			}
		default:
			i := faker.IntRange(0, len(live)-1)
			_, err := svc.DeleteSale(ctx, live[i])
			require.NoError(t, err)
			live = append(live[:i], live[i+1:]...)
		}

		held := map[string]int{}
		sales, err := repo.ListSales(ctx, domain.ListSalesFilter{Limit: 1000})
		require.NoError(t, err)
		require.Len(t, sales, len(live))
		for _, sale := range sales {
			for _, item := range sale.Items {
				held[item.ProductID] += item.Quantity
			}
		}
		for _, id := range ids {
			qty := quantityOf(t, repo, id)
			require.GreaterOrEqual(t, qty, 0)
			require.Equal(t, initial[id]-held[id], qty, "product %s", id)
		}
	}
}
