package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/lock"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/xid"
)

// CreateSale snapshots, validates and debits every line, then records the
// sale. Any failure after the first debit restores what this call took.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (resp domain.SaleResponse, err error) {
	defer func() { s.metrics.ObserveSale("create", err) }()

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	normalizeInputs(req.Items)
	if err := s.check(req); err != nil {
		return domain.SaleResponse{}, err
	}
	if err := checkItemPrices(req.Items); err != nil {
		return domain.SaleResponse{}, err
	}
	mode, ok := domain.ParsePaymentMode(req.PaymentMode)
	if !ok {
		return domain.SaleResponse{}, fmt.Errorf("%w: unsupported payment mode %q", store.ErrValidation, req.PaymentMode)
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey)
		if err == nil {
			return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrSaleNotFound) {
			return domain.SaleResponse{}, err
		}
	}
	if req.CustomerID != "" {
		if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
			return domain.SaleResponse{}, err
		}
	}

	now := s.now()
	var created *domain.Sale
	err = s.repo.WithinTx(ctx, func(q store.Querier) error {
		items, err := s.snapshotItems(ctx, q, req.Items)
		if err != nil {
			return err
		}
		if err := s.reserveItems(ctx, q, "create", items); err != nil {
			return err
		}

		created, err = q.CreateSale(ctx, domain.Sale{
			ID:             xid.New("sale"),
			CustomerID:     req.CustomerID,
			Items:          items,
			TotalAmount:    domain.SumItems(items),
			PaymentMode:    mode,
			IdempotencyKey: req.IdempotencyKey,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			s.compensate(ctx, q, "create", items)
			return err
		}
		return nil
	})
	if errors.Is(err, store.ErrIdempotencyConflict) {
		// A concurrent request with the same key committed first.
		existing, findErr := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey)
		if findErr == nil {
			return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
		}
	}
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logger.Info("sale created",
		zap.String("sale_id", created.ID),
		zap.Int("items", len(created.Items)),
		zap.String("total", created.TotalAmount.StringFixed(2)),
		zap.String("payment_mode", string(created.PaymentMode)),
	)
	return domain.SaleResponse{Sale: *created}, nil
}

// GetSale returns the sale with its customer and the current name of each
// product resolved. Snapshots on the lines are left as recorded.
func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleView, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.SaleView{}, err
	}

	view := domain.SaleView{Sale: *sale, Items: make([]domain.SaleItemView, 0, len(sale.Items))}
	if sale.CustomerID != "" {
		customer, err := s.repo.GetCustomer(ctx, sale.CustomerID)
		switch {
		case err == nil:
			view.Customer = customer
		case errors.Is(err, store.ErrCustomerNotFound):
		default:
			return domain.SaleView{}, err
		}
	}

	names := make(map[string]string, len(sale.Items))
	for _, item := range sale.Items {
		name, seen := names[item.ProductID]
		if !seen {
			product, err := s.repo.GetProduct(ctx, item.ProductID)
			switch {
			case err == nil:
				name = product.Name
			case errors.Is(err, store.ErrProductNotFound):
			default:
				return domain.SaleView{}, err
			}
			names[item.ProductID] = name
		}
		view.Items = append(view.Items, domain.SaleItemView{SaleItem: item, ProductName: name})
	}
	return view, nil
}

// ListSales returns sales newest first.
func (s *Service) ListSales(ctx context.Context, filter domain.ListSalesFilter) ([]domain.Sale, error) {
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	filter.Limit = clampLimit(filter.Limit)
	return s.repo.ListSales(ctx, filter)
}

// EditSale either updates total and payment mode in place, or replaces the
// line items: the old lines are credited back before the new ones are
// validated and debited, so a quantity change on the same product is judged
// against stock that includes its own prior reservation.
func (s *Service) EditSale(ctx context.Context, id string, req domain.EditSaleRequest) (sale domain.Sale, err error) {
	defer func() { s.metrics.ObserveSale("edit", err) }()

	id = strings.TrimSpace(id)
	normalizeInputs(req.Items)
	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}
	if req.Items != nil && len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: items must not be empty", store.ErrValidation)
	}
	if req.Items == nil && req.TotalAmount == nil && req.PaymentMode == nil {
		return domain.Sale{}, fmt.Errorf("%w: nothing to update", store.ErrValidation)
	}
	if err := checkItemPrices(req.Items); err != nil {
		return domain.Sale{}, err
	}
	if req.TotalAmount != nil {
		if err := checkMoney("total_amount", *req.TotalAmount); err != nil {
			return domain.Sale{}, err
		}
	}
	var mode domain.PaymentMode
	if req.PaymentMode != nil {
		parsed, ok := domain.ParsePaymentMode(*req.PaymentMode)
		if !ok {
			return domain.Sale{}, fmt.Errorf("%w: unsupported payment mode %q", store.ErrValidation, *req.PaymentMode)
		}
		mode = parsed
	}

	release, err := s.locker.Acquire(ctx, lock.SaleKey(id))
	if err != nil {
		return domain.Sale{}, err
	}
	defer release()

	var updated *domain.Sale
	err = s.repo.WithinTx(ctx, func(q store.Querier) error {
		existing, err := q.GetSale(ctx, id)
		if err != nil {
			return err
		}
		if req.Version != nil && *req.Version != existing.Version {
			return fmt.Errorf("%w: sale %s is at version %d", store.ErrConcurrentModification, id, existing.Version)
		}

		next := *existing
		if req.PaymentMode != nil {
			next.PaymentMode = mode
		}

		var debited []domain.SaleItem
		if req.Items == nil {
			if req.TotalAmount != nil {
				next.TotalAmount = req.TotalAmount.Round(2)
			}
		} else {
			if _, _, err := s.restoreItems(ctx, q, "edit", existing.Items, false); err != nil {
				return err
			}
			items, err := s.snapshotItems(ctx, q, req.Items)
			if err != nil {
				return err
			}
			if err := s.reserveItems(ctx, q, "edit", items); err != nil {
				return err
			}
			debited = items
			next.Items = items
			next.TotalAmount = domain.SumItems(items)
		}
		next.Version = existing.Version + 1
		next.UpdatedAt = s.now()

		updated, err = q.UpdateSale(ctx, next, existing.Version)
		if err != nil {
			s.compensate(ctx, q, "edit", debited)
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logger.Info("sale edited",
		zap.String("sale_id", updated.ID),
		zap.Int("version", updated.Version),
		zap.Bool("items_replaced", req.Items != nil),
		zap.String("total", updated.TotalAmount.StringFixed(2)),
	)
	return *updated, nil
}

// DeleteSale credits every line back to stock and removes the record.
// Lines whose product has since been deleted are skipped and logged.
func (s *Service) DeleteSale(ctx context.Context, id string) (resp domain.DeleteSaleResponse, err error) {
	defer func() { s.metrics.ObserveSale("delete", err) }()

	id = strings.TrimSpace(id)
	release, err := s.locker.Acquire(ctx, lock.SaleKey(id))
	if err != nil {
		return domain.DeleteSaleResponse{}, err
	}
	defer release()

	err = s.repo.WithinTx(ctx, func(q store.Querier) error {
		existing, err := q.GetSale(ctx, id)
		if err != nil {
			return err
		}
		restored, skipped, err := s.restoreItems(ctx, q, "delete", existing.Items, false)
		if err != nil {
			return err
		}
		if err := q.DeleteSale(ctx, id); err != nil {
			return err
		}
		resp = domain.DeleteSaleResponse{SaleID: id, Deleted: true, RestoredItems: restored, SkippedItems: skipped}
		return nil
	})
	if err != nil {
		return domain.DeleteSaleResponse{}, err
	}

	s.logger.Info("sale deleted",
		zap.String("sale_id", id),
		zap.Int("restored_items", resp.RestoredItems),
		zap.Int("skipped_items", resp.SkippedItems),
	)
	return resp, nil
}

// snapshotItems resolves each line in input order, fixes its name and price,
// and checks the summed demand per product against current stock.
func (s *Service) snapshotItems(ctx context.Context, q store.ProductDirectory, inputs []domain.SaleItemInput) ([]domain.SaleItem, error) {
	items := make([]domain.SaleItem, 0, len(inputs))
	products := make(map[string]*domain.Product, len(inputs))
	demand := make(map[string]int, len(inputs))

	for _, in := range inputs {
		product, ok := products[in.ProductID]
		if !ok {
			p, err := q.GetProduct(ctx, in.ProductID)
			if err != nil {
				return nil, err
			}
			product = p
			products[in.ProductID] = p
		}

		price := product.SalePrice
		if in.Price != nil {
			price = *in.Price
		}
		items = append(items, domain.SaleItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  in.Quantity,
			Price:     price.Round(2),
		})
		demand[product.ID] += in.Quantity
	}

	for _, item := range items {
		product := products[item.ProductID]
		if need := demand[item.ProductID]; need > product.Quantity {
			return nil, &store.StockError{ProductID: product.ID, Name: product.Name, Available: product.Quantity, Requested: need}
		}
	}
	return items, nil
}

// reserveItems debits lines in order. On failure it restores the lines it
// already debited and returns the original error.
func (s *Service) reserveItems(ctx context.Context, q store.Ledger, op string, items []domain.SaleItem) error {
	reserved := make([]domain.SaleItem, 0, len(items))
	for _, item := range items {
		if _, err := q.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			s.compensate(ctx, q, op, reserved)
			return err
		}
		reserved = append(reserved, item)
	}
	return nil
}

// compensate is best effort and runs even if the caller has gone away.
func (s *Service) compensate(ctx context.Context, q store.Ledger, op string, items []domain.SaleItem) {
	if len(items) == 0 {
		return
	}
	s.metrics.ObserveCompensation(op)

	restored, skipped, err := s.restoreItems(context.WithoutCancel(ctx), q, op, items, true)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.Int("restored_items", restored),
		zap.Int("skipped_items", skipped),
	}
	if err != nil {
		// A transactional store rolls the debits back regardless.
		s.logger.Warn("compensation incomplete", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Warn("compensated partial stock debit", fields...)
}

func (s *Service) restoreItems(ctx context.Context, q store.Ledger, op string, items []domain.SaleItem, bestEffort bool) (restored int, skipped int, err error) {
	for _, item := range items {
		restoreErr := q.Restore(ctx, item.ProductID, item.Quantity)
		switch {
		case restoreErr == nil:
			restored++
		case errors.Is(restoreErr, store.ErrProductNotFound):
			skipped++
			s.metrics.ObserveSkippedRestore(op)
			s.logger.Warn("restore skipped, product no longer exists",
				zap.String("operation", op),
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
			)
		default:
			s.logger.Error("restore failed",
				zap.String("operation", op),
				zap.String("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(restoreErr),
			)
			if !bestEffort {
				return restored, skipped, restoreErr
			}
			if err == nil {
				err = restoreErr
			}
		}
	}
	return restored, skipped, err
}

func normalizeInputs(items []domain.SaleItemInput) {
	for i := range items {
		items[i].ProductID = strings.TrimSpace(items[i].ProductID)
	}
}

func checkItemPrices(items []domain.SaleItemInput) error {
	for i, item := range items {
		if item.Price != nil && item.Price.IsNegative() {
			return fmt.Errorf("%w: items[%d].price must not be negative", store.ErrValidation, i)
		}
	}
	return nil
}
