// Package events defines the typed domain events the ledger emits after
// each successful mutation, and the publishers that deliver them.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vantagedata/datamarket/pkg/models"
)

// Event type names carried in envelopes.
const (
	TypeListingRegistered  = "listing_registered"
	TypePurchased          = "purchased"
	TypePaymentSplit       = "payment_split"
	TypeListingDeactivated = "listing_deactivated"
	TypePlatformFeeUpdated = "platform_fee_updated"
)

// Event is a typed domain event.
type Event interface {
	EventType() string
	// Key is the partitioning key for brokered delivery.
	Key() string
}

// Envelope wraps an event for wire delivery.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Event     `json:"data"`
}

// Publisher delivers domain events to external observers. Publishing happens
// after the originating mutation has committed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// ListingRegistered carries every field of the new listing.
type ListingRegistered struct {
	Listing models.Listing `json:"listing"`
}

func (ListingRegistered) EventType() string { return TypeListingRegistered }
func (e ListingRegistered) Key() string     { return itoa(e.Listing.ID) }

// Purchased is emitted first on settlement, before PaymentSplit.
type Purchased struct {
	ListingID  int64     `json:"listing_id"`
	PurchaseID uuid.UUID `json:"purchase_id"`
	Buyer      string    `json:"buyer"`
	Amount     int64     `json:"amount"`
}

func (Purchased) EventType() string { return TypePurchased }
func (e Purchased) Key() string     { return itoa(e.ListingID) }

// PaymentSplit reports how a settled payment was divided.
type PaymentSplit struct {
	ListingID    int64  `json:"listing_id"`
	Owner        string `json:"owner"`
	OwnerAmount  int64  `json:"owner_amount"`
	FeeRecipient string `json:"fee_recipient"`
	PlatformFee  int64  `json:"platform_fee"`
}

func (PaymentSplit) EventType() string { return TypePaymentSplit }
func (e PaymentSplit) Key() string     { return itoa(e.ListingID) }

// ListingDeactivated is emitted when an owner takes a listing off the market.
type ListingDeactivated struct {
	ListingID int64  `json:"listing_id"`
	Owner     string `json:"owner"`
}

func (ListingDeactivated) EventType() string { return TypeListingDeactivated }
func (e ListingDeactivated) Key() string     { return itoa(e.ListingID) }

// PlatformFeeUpdated is emitted on an administrator fee change.
type PlatformFeeUpdated struct {
	OldRate int64 `json:"old_rate"`
	NewRate int64 `json:"new_rate"`
}

func (PlatformFeeUpdated) EventType() string { return TypePlatformFeeUpdated }
func (PlatformFeeUpdated) Key() string       { return "fee" }

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func now() time.Time { return time.Now().UTC() }
