package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/xid"
)

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Supplier = strings.TrimSpace(req.Supplier)
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}
	if err := checkMoney("sale_price", req.SalePrice); err != nil {
		return domain.Product{}, err
	}
	if err := checkMoney("purchase_price", req.PurchasePrice); err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	product, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:            xid.New("prd"),
		Name:          req.Name,
		SalePrice:     req.SalePrice.Round(2),
		PurchasePrice: req.PurchasePrice.Round(2),
		Quantity:      req.Quantity,
		ExpiryDate:    req.ExpiryDate,
		Supplier:      req.Supplier,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.Info("product created", zap.String("product_id", product.ID), zap.Int("quantity", product.Quantity))
	return *product, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// UpdateProduct applies a partial update. Fields left out of req are not
// written, so sales debiting the product meanwhile are kept. Setting
// Quantity is a stock adjustment outside of any sale and is logged as such.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}

	patch := domain.ProductPatch{Quantity: req.Quantity, ExpiryDate: req.ExpiryDate, UpdatedAt: s.now()}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
		patch.Name = &name
	}
	if req.SalePrice != nil {
		if err := checkMoney("sale_price", *req.SalePrice); err != nil {
			return domain.Product{}, err
		}
		price := req.SalePrice.Round(2)
		patch.SalePrice = &price
	}
	if req.PurchasePrice != nil {
		if err := checkMoney("purchase_price", *req.PurchasePrice); err != nil {
			return domain.Product{}, err
		}
		price := req.PurchasePrice.Round(2)
		patch.PurchasePrice = &price
	}
	if req.Quantity != nil && *req.Quantity < 0 {
		return domain.Product{}, fmt.Errorf("%w: quantity must not be negative", store.ErrValidation)
	}
	if req.Supplier != nil {
		supplier := strings.TrimSpace(*req.Supplier)
		patch.Supplier = &supplier
	}

	updated, err := s.repo.UpdateProduct(ctx, strings.TrimSpace(id), patch)
	if err != nil {
		return domain.Product{}, err
	}
	if req.Quantity != nil {
		s.logger.Info("stock adjusted",
			zap.String("product_id", updated.ID),
			zap.Int("quantity", updated.Quantity),
		)
	}
	return *updated, nil
}

// DeleteProduct removes the product. Sales that reference it keep their
// snapshots; restoring their lines later is skipped.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logger.Info("product deleted", zap.String("product_id", id))
	return nil
}
