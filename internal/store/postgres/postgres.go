package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  dbtx
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn inside one read-committed transaction. Stock debits are
// conditional updates, so row locks alone keep quantities non-negative.
func (s *Store) WithinTx(ctx context.Context, fn func(q store.Querier) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return storageErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *Store) Reserve(ctx context.Context, productID string, qty int) (domain.StockReservation, error) {
	if qty < 1 {
		return domain.StockReservation{}, fmt.Errorf("%w: reserve quantity must be positive", store.ErrValidation)
	}

	res := domain.StockReservation{ProductID: productID}
	err := s.q.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1 AND quantity >= $2
		RETURNING name, sale_price, quantity
	`, productID, qty).Scan(&res.Name, &res.Price, &res.Remaining)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.StockReservation{}, storageErr(err)
	}

	var name string
	var available int
	err = s.q.QueryRowContext(ctx, `SELECT name, quantity FROM products WHERE id = $1`, productID).Scan(&name, &available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockReservation{}, fmt.Errorf("%w: %s", store.ErrProductNotFound, productID)
		}
		return domain.StockReservation{}, storageErr(err)
	}
	return domain.StockReservation{}, &store.StockError{ProductID: productID, Name: name, Available: available, Requested: qty}
}

func (s *Store) Restore(ctx context.Context, productID string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: restore quantity must not be negative", store.ErrValidation)
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrProductNotFound, productID)
	}
	return nil
}

const productColumns = `id, name, sale_price, purchase_price, quantity, expiry_date, COALESCE(supplier, ''), created_at, updated_at`

func scanProduct(row interface{ Scan(dest ...any) error }) (*domain.Product, error) {
	var p domain.Product
	var expiry sql.NullTime
	if err := row.Scan(&p.ID, &p.Name, &p.SalePrice, &p.PurchasePrice, &p.Quantity, &expiry, &p.Supplier, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if expiry.Valid {
		at := expiry.Time.UTC()
		p.ExpiryDate = &at
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Quantity < 0 {
		return nil, store.ErrValidation
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO products (id, name, sale_price, purchase_price, quantity, expiry_date, supplier, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, product.ID, product.Name, product.SalePrice, product.PurchasePrice, product.Quantity,
		nullDate(product.ExpiryDate), nullIfEmpty(product.Supplier), product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product name %q already exists", store.ErrValidation, product.Name)
		}
		return nil, storageErr(err)
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
		}
		return nil, storageErr(err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY lower(name), id`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storageErr(err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return products, nil
}

// UpdateProduct is a single statement: each column falls back to its
// current value, so quantity is only written when the patch sets it.
func (s *Store) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	if (patch.Name != nil && *patch.Name == "") || (patch.Quantity != nil && *patch.Quantity < 0) {
		return nil, store.ErrValidation
	}

	p, err := scanProduct(s.q.QueryRowContext(ctx, `
		UPDATE products
		SET name = COALESCE($2, name),
			sale_price = COALESCE($3, sale_price),
			purchase_price = COALESCE($4, purchase_price),
			quantity = COALESCE($5, quantity),
			expiry_date = COALESCE($6, expiry_date),
			supplier = COALESCE($7, supplier),
			updated_at = $8
		WHERE id = $1
		RETURNING `+productColumns,
		id, optional(patch.Name), optional(patch.SalePrice), optional(patch.PurchasePrice), optional(patch.Quantity),
		nullDate(patch.ExpiryDate), optional(patch.Supplier), patch.UpdatedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
		}
		if isUniqueViolation(err) && patch.Name != nil {
			return nil, fmt.Errorf("%w: product name %q already exists", store.ErrValidation, *patch.Name)
		}
		return nil, storageErr(err)
	}
	return p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, customer.Phone, nullIfEmpty(customer.Address), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: phone %s already registered", store.ErrValidation, customer.Phone)
		}
		return nil, storageErr(err)
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, phone, COALESCE(address, ''), created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrCustomerNotFound, id)
		}
		return nil, storageErr(err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, phone, COALESCE(address, ''), created_at
		FROM customers
		ORDER BY lower(name), id
	`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return customers, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", store.ErrStorage, err)
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func optional[T any](val *T) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	t := val.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
