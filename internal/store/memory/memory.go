package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	products    map[string]domain.Product
	customers   map[string]domain.Customer
	sales       map[string]*domain.Sale
	salesByIdem map[string]string
}

func New() *Store {
	return &Store{
		products:    make(map[string]domain.Product),
		customers:   make(map[string]domain.Customer),
		sales:       make(map[string]*domain.Sale),
		salesByIdem: make(map[string]string),
	}
}

// NewSeeded returns a store with a small demo catalogue for local runs.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	expiry := now.AddDate(1, 0, 0)

	for _, p := range []domain.Product{
		{ID: "prd-paracetamol-500", Name: "Paracetamol 500mg", SalePrice: decimal.RequireFromString("25.00"), PurchasePrice: decimal.RequireFromString("18.40"), Quantity: 200, Supplier: "Sun Pharma"},
		{ID: "prd-amoxicillin-250", Name: "Amoxicillin 250mg", SalePrice: decimal.RequireFromString("85.50"), PurchasePrice: decimal.RequireFromString("61.00"), Quantity: 80, Supplier: "Cipla"},
		{ID: "prd-cetirizine-10", Name: "Cetirizine 10mg", SalePrice: decimal.RequireFromString("18.00"), PurchasePrice: decimal.RequireFromString("11.25"), Quantity: 150, Supplier: "Dr. Reddy's"},
		{ID: "prd-ors-sachet", Name: "ORS Sachet", SalePrice: decimal.RequireFromString("21.00"), PurchasePrice: decimal.RequireFromString("14.00"), Quantity: 120, Supplier: "FDC"},
		{ID: "prd-vitamin-c-500", Name: "Vitamin C 500mg", SalePrice: decimal.RequireFromString("60.00"), PurchasePrice: decimal.RequireFromString("42.00"), Quantity: 90, Supplier: "Abbott"},
		{ID: "prd-cough-syrup-100", Name: "Cough Syrup 100ml", SalePrice: decimal.RequireFromString("95.00"), PurchasePrice: decimal.RequireFromString("70.00"), Quantity: 40, Supplier: "Mankind"},
	} {
		p.ExpiryDate = &expiry
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	s.customers["cus-demo"] = domain.Customer{
		ID:        "cus-demo",
		Name:      "Demo Customer",
		Phone:     "+919876543210",
		Address:   "12 MG Road",
		CreatedAt: now,
	}
	return s
}

func (s *Store) Reserve(_ context.Context, productID string, qty int) (domain.StockReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 1 {
		return domain.StockReservation{}, fmt.Errorf("%w: reserve quantity must be positive", store.ErrValidation)
	}
	p, ok := s.products[productID]
	if !ok {
		return domain.StockReservation{}, fmt.Errorf("%w: %s", store.ErrProductNotFound, productID)
	}
	if p.Quantity < qty {
		return domain.StockReservation{}, &store.StockError{ProductID: p.ID, Name: p.Name, Available: p.Quantity, Requested: qty}
	}

	p.Quantity -= qty
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p

	return domain.StockReservation{ProductID: p.ID, Name: p.Name, Price: p.SalePrice, Remaining: p.Quantity}, nil
}

func (s *Store) Restore(_ context.Context, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 0 {
		return fmt.Errorf("%w: restore quantity must not be negative", store.ErrValidation)
	}
	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrProductNotFound, productID)
	}
	if qty == 0 {
		return nil
	}
	p.Quantity += qty
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.Quantity < 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
	}
	if s.productNameTakenLocked(product.Name, "") {
		return nil, fmt.Errorf("%w: product name %q already exists", store.ErrValidation, product.Name)
	}

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return products, nil
}

// UpdateProduct waits for any running unit of work, so a quantity set never
// lands between a journaled debit and its rollback.
func (s *Store) UpdateProduct(_ context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	updated, _, err := s.patchProduct(id, patch)
	return updated, err
}

// patchProduct applies patch under the store mutex and also returns the
// row as it was before.
func (s *Store) patchProduct(id string, patch domain.ProductPatch) (*domain.Product, domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.products[id]
	if !ok {
		return nil, domain.Product{}, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
	}
	p := previous
	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, domain.Product{}, store.ErrValidation
		}
		if s.productNameTakenLocked(*patch.Name, id) {
			return nil, domain.Product{}, fmt.Errorf("%w: product name %q already exists", store.ErrValidation, *patch.Name)
		}
		p.Name = *patch.Name
	}
	if patch.SalePrice != nil {
		p.SalePrice = *patch.SalePrice
	}
	if patch.PurchasePrice != nil {
		p.PurchasePrice = *patch.PurchasePrice
	}
	if patch.Quantity != nil {
		if *patch.Quantity < 0 {
			return nil, domain.Product{}, store.ErrValidation
		}
		p.Quantity = *patch.Quantity
	}
	if patch.ExpiryDate != nil {
		at := *patch.ExpiryDate
		p.ExpiryDate = &at
	}
	if patch.Supplier != nil {
		p.Supplier = *patch.Supplier
	}
	if !patch.UpdatedAt.IsZero() {
		p.UpdatedAt = patch.UpdatedAt
	}

	s.products[id] = p
	updated := p
	return &updated, previous, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
	}
	delete(s.products, id)
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}
	for _, existing := range s.customers {
		if existing.Phone == customer.Phone {
			return nil, fmt.Errorf("%w: phone %s already registered", store.ErrValidation, customer.Phone)
		}
	}

	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrCustomerNotFound, id)
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return customers, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.sales[sale.ID]; exists {
		return nil, fmt.Errorf("%w: sale %s already exists", store.ErrValidation, sale.ID)
	}
	if sale.IdempotencyKey != "" {
		if _, exists := s.salesByIdem[sale.IdempotencyKey]; exists {
			return nil, store.ErrIdempotencyConflict
		}
		s.salesByIdem[sale.IdempotencyKey] = sale.ID
	}

	s.sales[sale.ID] = cloneSale(&sale)
	return cloneSale(&sale), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSaleNotFound, id)
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, fmt.Errorf("%w: idempotency key %s", store.ErrSaleNotFound, key)
	}
	return cloneSale(s.sales[id]), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.ListSalesFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale, expectedVersion int) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sales[sale.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrSaleNotFound, sale.ID)
	}
	if existing.Version != expectedVersion {
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", store.ErrConcurrentModification, sale.ID, existing.Version, expectedVersion)
	}

	sale.IdempotencyKey = existing.IdempotencyKey
	sale.CreatedAt = existing.CreatedAt
	s.sales[sale.ID] = cloneSale(&sale)
	return cloneSale(&sale), nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrSaleNotFound, id)
	}
	if sale.IdempotencyKey != "" {
		delete(s.salesByIdem, sale.IdempotencyKey)
	}
	delete(s.sales, id)
	return nil
}

func (s *Store) productNameTakenLocked(name string, exceptID string) bool {
	for _, p := range s.products {
		if p.ID != exceptID && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = make([]domain.SaleItem, len(src.Items))
	copy(dup.Items, src.Items)
	return &dup
}
