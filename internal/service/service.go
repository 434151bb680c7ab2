package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmacy/backend/internal/lock"
	"pharmacy/backend/internal/metrics"
	"pharmacy/backend/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type Service struct {
	repo        store.Repository
	locker      lock.Locker
	logger      *zap.Logger
	metrics     *metrics.Metrics
	validate    *validator.Validate
	phoneRegion string
	now         func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPhoneRegion sets the region used to read customer phone numbers that
// carry no country code.
func WithPhoneRegion(region string) Option {
	return func(s *Service) {
		if region != "" {
			s.phoneRegion = strings.ToUpper(region)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(repo store.Repository, locker lock.Locker, logger *zap.Logger, opts ...Option) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	s := &Service{
		repo:        repo,
		locker:      locker,
		logger:      logger.Named("service"),
		validate:    validate,
		phoneRegion: "IN",
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// check runs struct tag validation and folds failures into ErrValidation.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", store.ErrValidation, strings.Join(msgs, "; "))
}

func checkMoney(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", store.ErrValidation, field)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
