package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMode string

const (
	PaymentCash  PaymentMode = "Cash"
	PaymentUPI   PaymentMode = "UPI"
	PaymentCard  PaymentMode = "Card"
	PaymentOther PaymentMode = "Other"
)

// ParsePaymentMode matches case-insensitively. An empty value means Cash.
func ParsePaymentMode(raw string) (PaymentMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "cash":
		return PaymentCash, true
	case "upi":
		return PaymentUPI, true
	case "card":
		return PaymentCard, true
	case "other":
		return PaymentOther, true
	default:
		return "", false
	}
}

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Quantity      int             `json:"quantity"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	Supplier      string          `json:"supplier,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SaleItem carries the product name and unit price as they were when the
// line was recorded. Later product edits do not change them.
type SaleItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (i SaleItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Sale struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Items          []SaleItem      `json:"items"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentMode    PaymentMode     `json:"payment_mode"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SumItems returns Σ quantity × price rounded to two decimals.
func SumItems(items []SaleItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total.Round(2)
}

// StockReservation is what the ledger reports after a successful debit.
type StockReservation struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Remaining int             `json:"remaining"`
}

type SaleItemInput struct {
	ProductID string           `json:"product_id" validate:"required,max=128"`
	Quantity  int              `json:"quantity" validate:"min=1"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type CreateSaleRequest struct {
	CustomerID string          `json:"customer_id,omitempty" validate:"max=128"`
	Items      []SaleItemInput `json:"items" validate:"required,min=1,max=200,dive"`
	// TotalAmount is accepted for compatibility and ignored; the total is
	// always recomputed from the items.
	TotalAmount    *decimal.Decimal `json:"total_amount,omitempty"`
	PaymentMode    string           `json:"payment_mode,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty" validate:"max=128"`
}

// EditSaleRequest is a partial update. A nil Items leaves the line items and
// stock untouched; in that case TotalAmount is taken as given.
type EditSaleRequest struct {
	Items       []SaleItemInput  `json:"items,omitempty" validate:"omitempty,max=200,dive"`
	TotalAmount *decimal.Decimal `json:"total_amount,omitempty"`
	PaymentMode *string          `json:"payment_mode,omitempty"`
	Version     *int             `json:"version,omitempty" validate:"omitempty,min=1"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type SaleItemView struct {
	SaleItem
	// ProductName is the product's current name, empty if it no longer exists.
	ProductName string `json:"product_name,omitempty"`
}

type SaleView struct {
	Sale     Sale           `json:"sale"`
	Customer *Customer      `json:"customer,omitempty"`
	Items    []SaleItemView `json:"items"`
}

type ListSalesFilter struct {
	CustomerID string
	Limit      int
}

type DeleteSaleResponse struct {
	SaleID        string `json:"sale_id"`
	Deleted       bool   `json:"deleted"`
	RestoredItems int    `json:"restored_items"`
	SkippedItems  int    `json:"skipped_items"`
}

type ProductCreateRequest struct {
	Name          string          `json:"name" validate:"required,max=200"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Quantity      int             `json:"quantity" validate:"min=0"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	Supplier      string          `json:"supplier,omitempty" validate:"max=200"`
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	SalePrice     *decimal.Decimal `json:"sale_price,omitempty"`
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty"`
	Quantity      *int             `json:"quantity,omitempty" validate:"omitempty,min=0"`
	ExpiryDate    *time.Time       `json:"expiry_date,omitempty"`
	Supplier      *string          `json:"supplier,omitempty" validate:"omitempty,max=200"`
}

// ProductPatch names the product fields to change. Nil fields keep their
// stored value; in particular a nil Quantity never touches stock.
type ProductPatch struct {
	Name          *string
	SalePrice     *decimal.Decimal
	PurchasePrice *decimal.Decimal
	Quantity      *int
	ExpiryDate    *time.Time
	Supplier      *string
	UpdatedAt     time.Time
}

type CustomerCreateRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"required,max=32"`
	Address string `json:"address,omitempty" validate:"max=500"`
}
