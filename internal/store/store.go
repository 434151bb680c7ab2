package store

import (
	"context"
	"errors"
	"fmt"

	"pharmacy/backend/internal/domain"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrProductNotFound        = errors.New("product not found")
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrSaleNotFound           = errors.New("sale not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrConcurrentModification = errors.New("sale was modified concurrently")
	ErrIdempotencyConflict    = errors.New("idempotency key already used")
	ErrStorage                = errors.New("storage failure")
)

// StockError is returned when a product cannot cover a requested quantity.
type StockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): available %d, requested %d", e.Name, e.ProductID, e.Available, e.Requested)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrCustomerNotFound) || errors.Is(err, ErrSaleNotFound)
}

// Ledger holds on-hand product quantities. Reserve is a single conditional
// decrement; it never lets a quantity drop below zero.
type Ledger interface {
	Reserve(ctx context.Context, productID string, qty int) (domain.StockReservation, error)
	Restore(ctx context.Context, productID string, qty int) error
}

type ProductDirectory interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	// UpdateProduct applies patch to the stored row in one step, so a
	// concurrent Reserve or Restore is never overwritten.
	UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

type CustomerDirectory interface {
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
}

type SaleStore interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.ListSalesFilter) ([]domain.Sale, error)
	// UpdateSale replaces the stored document if its version still equals
	// expectedVersion, otherwise it fails with ErrConcurrentModification.
	UpdateSale(ctx context.Context, sale domain.Sale, expectedVersion int) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error
}

type Querier interface {
	Ledger
	ProductDirectory
	CustomerDirectory
	SaleStore
}

type Repository interface {
	Querier
	// WithinTx runs fn as one unit of work. If fn returns an error every
	// ledger and sale mutation made through the supplied Querier is undone.
	WithinTx(ctx context.Context, fn func(q Querier) error) error
}
