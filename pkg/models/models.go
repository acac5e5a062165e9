// Package models defines the persisted records of the dataset marketplace.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Listing represents a registered dataset offered for sale.
// All fields except Active and PurchaseCount are immutable after creation.
type Listing struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement:false" validate:"required,gt=0"`
	Owner         string    `json:"owner" gorm:"index;size:42;not null" validate:"required,eth_addr"`
	ContentRef    string    `json:"content_ref" gorm:"size:128;not null" validate:"required"`
	Name          string    `json:"name" gorm:"size:200;not null" validate:"required,max=200"`
	Description   string    `json:"description" gorm:"type:text;not null" validate:"required,max=2000"`
	Category      string    `json:"category" gorm:"index;size:50" validate:"omitempty,max=50"`
	Price         int64     `json:"price" validate:"min=0"`
	SizeHint      int64     `json:"size_hint" validate:"min=0"`
	Active        bool      `json:"active"`
	PurchaseCount int64     `json:"purchase_count" validate:"min=0"`
	CreatedAt     time.Time `json:"created_at"`
}

// Purchase records one buyer's permanent access right to one listing.
// A buyer holds at most one Purchase per listing.
type Purchase struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	ListingID   int64     `json:"listing_id" gorm:"uniqueIndex:idx_listing_buyer;not null" validate:"required,gt=0"`
	Buyer       string    `json:"buyer" gorm:"uniqueIndex:idx_listing_buyer;index;size:42;not null" validate:"required,eth_addr"`
	AmountPaid  int64     `json:"amount_paid" validate:"min=0"`
	FeeAmount   int64     `json:"fee_amount" validate:"min=0"`
	AccessToken string    `json:"access_token" gorm:"size:66"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// Account is a treasury balance row, keyed by marketplace address.
// Balances are held in base currency units.
type Account struct {
	Address   string    `json:"address" gorm:"primaryKey;size:42" validate:"required,eth_addr"`
	Balance   int64     `json:"balance" validate:"min=0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerConfig is the singleton marketplace configuration row. The listing
// id counter lives here so ids stay monotonic and are never reused.
type LedgerConfig struct {
	ID              int64     `json:"-" gorm:"primaryKey"`
	NextListingID   int64     `json:"next_listing_id"`
	PlatformFeeRate int64     `json:"platform_fee_rate" validate:"min=0,max=20"`
	FeeRecipient    string    `json:"fee_recipient" gorm:"size:42"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DefaultPlatformFeeRate is applied when the config row is first seeded.
const DefaultPlatformFeeRate = 5

// User is an API credential record mapping an email login to a marketplace
// address.
type User struct {
	Address      string    `json:"address" gorm:"primaryKey;size:42" validate:"required,eth_addr"`
	Email        string    `json:"email" gorm:"uniqueIndex;size:254" validate:"required,email"`
	PasswordHash string    `json:"-" gorm:"column:password_hash;not null"`
	Role         string    `json:"role" gorm:"size:20;default:user" validate:"required,oneof=user admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Account roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Stats summarizes marketplace activity. Volume and fee totals are decimal
// so aggregate sums survive JSON round-trips without precision surprises.
type Stats struct {
	TotalListings       int64           `json:"total_listings"`
	TotalActiveListings int64           `json:"total_active_listings"`
	TotalPurchases      int64           `json:"total_purchases"`
	TotalVolume         decimal.Decimal `json:"total_volume"`
	TotalFees           decimal.Decimal `json:"total_fees"`
}

// RegisterListingRequest is the register operation input.
type RegisterListingRequest struct {
	ContentRef  string `json:"content_ref" binding:"required" validate:"required"`
	Name        string `json:"name" binding:"required" validate:"required,max=200"`
	Description string `json:"description" binding:"required" validate:"required,max=2000"`
	Category    string `json:"category" validate:"omitempty,max=50"`
	Price       int64  `json:"price" validate:"min=0"`
	SizeHint    int64  `json:"size_hint" validate:"min=0"`
}

// PurchaseRequest carries the paid amount; settlement requires it to equal
// the listing price exactly.
type PurchaseRequest struct {
	PaymentAmount int64 `json:"payment_amount" validate:"min=0"`
}
