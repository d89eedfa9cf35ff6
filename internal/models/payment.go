package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentProvider identifies who collects the money.
const (
	PaymentProviderStripe   = "stripe"
	PaymentProviderRazorpay = "razorpay"
)

// PaymentStatus for payments.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Payment is the payment collected for a paid booking.
type Payment struct {
	ID                uuid.UUID       `json:"id"`
	BookingID         uuid.UUID       `json:"booking_id"`
	Provider          string          `json:"provider"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
