package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pharmacy/backend/internal/lock"
	"pharmacy/backend/internal/metrics"
	"pharmacy/backend/internal/service"
	"pharmacy/backend/internal/store"
)

const defaultMaxBodyBytes = 1 << 20

func init() {
	binding.EnableDecoderDisallowUnknownFields = true
}

type Options struct {
	AllowedOrigin string
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
	Metrics      *metrics.Metrics
}

type API struct {
	service       *service.Service
	logger        *zap.Logger
	metrics       *metrics.Metrics
	allowedOrigin string
	limiter       *clientLimiter
	maxBodyBytes  int64
}

func New(svc *service.Service, logger *zap.Logger, opts Options) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &API{
		service:       svc,
		logger:        logger.Named("http"),
		metrics:       opts.Metrics,
		allowedOrigin: strings.TrimSpace(opts.AllowedOrigin),
		limiter:       newClientLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		maxBodyBytes:  opts.MaxBodyBytes,
	}
}

func (a *API) Handler() http.Handler {
	engine := gin.New()
	engine.ContextWithFallback = true

	engine.Use(
		requestID(),
		a.recovery(),
		a.accessLog(),
		a.observe(),
		securityHeaders(),
		cors.New(a.corsConfig()),
	)

	engine.GET("/healthz", a.handleHealth)
	engine.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	v1 := engine.Group("/api/v1", a.rateLimit(), bodyLimit(a.maxBodyBytes))

	v1.POST("/sales", a.handleCreateSale)
	v1.GET("/sales", a.handleListSales)
	v1.GET("/sales/:id", a.handleGetSale)
	v1.PATCH("/sales/:id", a.handleEditSale)
	v1.DELETE("/sales/:id", a.handleDeleteSale)

	v1.GET("/products", a.handleListProducts)
	v1.POST("/products", a.handleCreateProduct)
	v1.GET("/products/:id", a.handleGetProduct)
	v1.PATCH("/products/:id", a.handleUpdateProduct)
	v1.DELETE("/products/:id", a.handleDeleteProduct)

	v1.GET("/customers", a.handleListCustomers)
	v1.POST("/customers", a.handleCreateCustomer)
	v1.GET("/customers/:id", a.handleGetCustomer)

	engine.NoRoute(func(c *gin.Context) {
		writeJSON(c, http.StatusNotFound, gin.H{"error": "route not found", "code": "not_found"})
	})
	return engine
}

func (a *API) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID", "Idempotency-Key"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if a.allowedOrigin == "" || a.allowedOrigin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = strings.Split(a.allowedOrigin, ",")
		for i := range cfg.AllowOrigins {
			cfg.AllowOrigins[i] = strings.TrimSpace(cfg.AllowOrigins[i])
		}
	}
	return cfg
}

func (a *API) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func bindJSON(c *gin.Context, dest any) error {
	if err := c.ShouldBindJSON(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return errBadRequest{err: err}
	}
	return nil
}

// errBadRequest marks a body that could not be decoded.
type errBadRequest struct{ err error }

func (e errBadRequest) Error() string { return "invalid request body: " + e.err.Error() }
func (e errBadRequest) Unwrap() error { return e.err }

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func statusForError(err error) (int, string) {
	var (
		badBody  errBadRequest
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.As(err, &badBody), errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case store.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, store.ErrConcurrentModification), errors.Is(err, store.ErrIdempotencyConflict):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, lock.ErrNotObtained):
		return http.StatusLocked, "sale_locked"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (a *API) writeError(c *gin.Context, err error) {
	status, code := statusForError(err)
	_ = c.Error(err)

	// 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		requestLogger(c, a.logger).Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}

	body := gin.H{"error": msg, "code": code}
	var stockErr *store.StockError
	if errors.As(err, &stockErr) {
		body["product_id"] = stockErr.ProductID
		body["available"] = stockErr.Available
		body["requested"] = stockErr.Requested
	}
	writeJSON(c, status, body)
}

func writeJSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}
