package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
	"go.uber.org/zap"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/xid"
)

// CreateCustomer stores the phone in E.164 so that the uniqueness check
// does not depend on how the number was typed.
func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Address = strings.TrimSpace(req.Address)
	if err := s.check(req); err != nil {
		return domain.Customer{}, err
	}

	phone, err := normalizePhone(req.Phone, s.phoneRegion)
	if err != nil {
		return domain.Customer{}, err
	}

	customer, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cus"),
		Name:      req.Name,
		Phone:     phone,
		Address:   req.Address,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logger.Info("customer created", zap.String("customer_id", customer.ID))
	return *customer, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func normalizePhone(raw, region string) (string, error) {
	num, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: phone %q: %v", store.ErrValidation, raw, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("%w: phone %q is not a valid number", store.ErrValidation, raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
