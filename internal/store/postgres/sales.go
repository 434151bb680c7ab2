package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
)

const saleColumns = `id, COALESCE(customer_id, ''), total_amount, payment_mode, COALESCE(idempotency_key, ''), version, created_at, updated_at`

func scanSale(row interface{ Scan(dest ...any) error }) (*domain.Sale, error) {
	var sale domain.Sale
	var mode string
	if err := row.Scan(&sale.ID, &sale.CustomerID, &sale.TotalAmount, &mode, &sale.IdempotencyKey, &sale.Version, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
		return nil, err
	}
	sale.PaymentMode = domain.PaymentMode(mode)
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return &sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sales (id, customer_id, total_amount, payment_mode, idempotency_key, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sale.ID, nullIfEmpty(sale.CustomerID), roundMoney(sale.TotalAmount), string(sale.PaymentMode),
		nullIfEmpty(sale.IdempotencyKey), sale.Version, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) && uniqueConstraint(err) == "sales_idempotency_key_key" {
			return nil, store.ErrIdempotencyConflict
		}
		return nil, storageErr(err)
	}

	if err := s.insertItems(ctx, sale.ID, sale.Items); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) insertItems(ctx context.Context, saleID string, items []domain.SaleItem) error {
	for i, item := range items {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, position, product_id, name, quantity, price)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, saleID, i, item.ProductID, item.Name, item.Quantity, roundMoney(item.Price))
		if err != nil {
			return storageErr(err)
		}
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", key)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	sale, err := scanSale(s.q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrSaleNotFound, value)
		}
		return nil, storageErr(err)
	}

	items, err := s.loadItems(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return sale, nil
}

func (s *Store) loadItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT product_id, name, quantity, price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY position ASC
	`, saleID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.Price); err != nil {
			return nil, storageErr(err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return items, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.ListSalesFilter) ([]domain.Sale, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1 = '' OR customer_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, filter.CustomerID, limit)
	if err != nil {
		return nil, storageErr(err)
	}

	sales := make([]domain.Sale, 0, limit)
	index := make(map[string]int, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, storageErr(err)
		}
		sale.Items = []domain.SaleItem{}
		index[sale.ID] = len(sales)
		ids = append(ids, sale.ID)
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, storageErr(err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return sales, nil
	}

	itemRows, err := s.q.QueryContext(ctx, `
		SELECT sale_id, product_id, name, quantity, price
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position ASC
	`, ids)
	if err != nil {
		return nil, storageErr(err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := itemRows.Scan(&saleID, &item.ProductID, &item.Name, &item.Quantity, &item.Price); err != nil {
			return nil, storageErr(err)
		}
		if i, ok := index[saleID]; ok {
			sales[i].Items = append(sales[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return sales, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale, expectedVersion int) (*domain.Sale, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE sales
		SET customer_id = $2, total_amount = $3, payment_mode = $4, version = $5, updated_at = $6
		WHERE id = $1 AND version = $7
	`, sale.ID, nullIfEmpty(sale.CustomerID), roundMoney(sale.TotalAmount), string(sale.PaymentMode),
		sale.Version, sale.UpdatedAt, expectedVersion)
	if err != nil {
		return nil, storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr(err)
	}
	if affected == 0 {
		var current int
		err := s.q.QueryRowContext(ctx, `SELECT version FROM sales WHERE id = $1`, sale.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrSaleNotFound, sale.ID)
		}
		if err != nil {
			return nil, storageErr(err)
		}
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", store.ErrConcurrentModification, sale.ID, current, expectedVersion)
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
		return nil, storageErr(err)
	}
	if err := s.insertItems(ctx, sale.ID, sale.Items); err != nil {
		return nil, err
	}

	updated := sale
	return &updated, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrSaleNotFound, id)
	}
	return nil
}
