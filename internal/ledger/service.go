// Package ledger implements the marketplace ledger: dataset listing
// registration, purchase settlement with platform-fee splitting, access
// derivation, and the query surface.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vantagedata/datamarket/internal/events"
	"github.com/vantagedata/datamarket/internal/treasury"
	derrors "github.com/vantagedata/datamarket/pkg/errors"
	"github.com/vantagedata/datamarket/pkg/metrics"
	"github.com/vantagedata/datamarket/pkg/models"
)

// MaxPlatformFeeRate bounds the administrator's fee percentage.
const MaxPlatformFeeRate = 20

// ListingFilter narrows ListActive results.
type ListingFilter struct {
	Query    string
	Category string
}

// LedgerService defines the marketplace ledger operations.
type LedgerService interface {
	Start(ctx context.Context) error
	Register(ctx context.Context, caller string, req *models.RegisterListingRequest) (*models.Listing, error)
	Purchase(ctx context.Context, caller string, listingID, paymentAmount int64) (*models.Purchase, error)
	Deactivate(ctx context.Context, caller string, listingID int64) error
	CheckAccess(ctx context.Context, account string, listingID int64) (bool, error)
	UpdatePlatformFee(ctx context.Context, caller string, newRate int64) error

	ListActive(ctx context.Context, filter ListingFilter) ([]models.Listing, error)
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	GetPurchase(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
	ListingsOf(ctx context.Context, account string) ([]models.Listing, error)
	PurchasesOf(ctx context.Context, account string) ([]models.Purchase, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// ListingCache caches listing reads; all methods must tolerate misses.
type ListingCache interface {
	GetListing(ctx context.Context, id int64) (*models.Listing, bool)
	SetListing(ctx context.Context, l *models.Listing)
	Invalidate(ctx context.Context, id int64)
}

// Service implements LedgerService over GORM. Mutations run in a single
// database transaction; the in-memory active index and the cache are updated
// strictly after commit, and events publish after commit in emission order.
type Service struct {
	logger    *zap.Logger
	db        *gorm.DB
	treasury  treasury.TreasuryService
	publisher events.Publisher
	cache     ListingCache // optional
	admin     string

	index     *activeIndex
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
}

var _ LedgerService = (*Service)(nil)

// NewService creates the marketplace ledger. admin is the administrator
// address; it is also the default fee recipient when the config row is first
// seeded. cache may be nil.
func NewService(logger *zap.Logger, db *gorm.DB, ts treasury.TreasuryService, pub events.Publisher, cache ListingCache, admin string) (*Service, error) {
	svc := &Service{
		logger:    logger,
		db:        db,
		treasury:  ts,
		publisher: pub,
		cache:     cache,
		admin:     admin,
		index:     newActiveIndex(),
		validate:  validator.New(),
		sanitizer: bluemonday.StrictPolicy(),
	}
	return svc, nil
}

// Start seeds the config row and rebuilds the active-listing index.
func (s *Service) Start(ctx context.Context) error {
	if err := s.ensureConfig(ctx); err != nil {
		return err
	}

	var listings []models.Listing
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&listings).Error; err != nil {
		return derrors.Wrap(derrors.KindInternal, "failed to load active listings", err)
	}
	s.index.Reset(listings)
	s.logger.Info("ledger started", zap.Int("active_listings", len(listings)))
	return nil
}

func (s *Service) ensureConfig(ctx context.Context) error {
	var cfg models.LedgerConfig
	err := s.db.WithContext(ctx).First(&cfg, 1).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return derrors.Wrap(derrors.KindInternal, "failed to load ledger config", err)
	}
	cfg = models.LedgerConfig{
		ID:              1,
		NextListingID:   1,
		PlatformFeeRate: models.DefaultPlatformFeeRate,
		FeeRecipient:    s.admin,
		UpdatedAt:       time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&cfg).Error; err != nil {
		return derrors.Wrap(derrors.KindInternal, "failed to seed ledger config", err)
	}
	return nil
}

// Register validates and records a new listing, allocating the next id.
func (s *Service) Register(ctx context.Context, caller string, req *models.RegisterListingRequest) (*models.Listing, error) {
	if caller == "" {
		return nil, derrors.New(derrors.KindUnauthorized, "missing caller identity")
	}

	name := strings.TrimSpace(s.sanitizer.Sanitize(req.Name))
	description := strings.TrimSpace(s.sanitizer.Sanitize(req.Description))
	category := strings.TrimSpace(s.sanitizer.Sanitize(req.Category))

	switch {
	case strings.TrimSpace(req.ContentRef) == "":
		return nil, derrors.New(derrors.KindValidation, "content_ref must not be empty")
	case name == "":
		return nil, derrors.New(derrors.KindValidation, "name must not be empty")
	case description == "":
		return nil, derrors.New(derrors.KindValidation, "description must not be empty")
	case req.Price < 0:
		return nil, derrors.New(derrors.KindValidation, "price must not be negative")
	case req.SizeHint < 0:
		return nil, derrors.New(derrors.KindValidation, "size_hint must not be negative")
	}

	sanitized := *req
	sanitized.Name = name
	sanitized.Description = description
	sanitized.Category = category
	if err := s.validate.Struct(&sanitized); err != nil {
		return nil, derrors.Wrap(derrors.KindValidation, "invalid listing", err)
	}

	var listing models.Listing
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Incrementing the counter in place takes the config row lock, so
		// concurrent registrations serialize here and each sees a distinct id.
		res := tx.Model(&models.LedgerConfig{}).Where("id = ?", 1).
			Updates(map[string]interface{}{
				"next_listing_id": gorm.Expr("next_listing_id + 1"),
				"updated_at":      time.Now(),
			})
		if res.Error != nil {
			return derrors.Wrap(derrors.KindInternal, "failed to allocate listing id", res.Error)
		}
		if res.RowsAffected == 0 {
			return derrors.New(derrors.KindInternal, "ledger config row missing")
		}
		var cfg models.LedgerConfig
		if err := tx.First(&cfg, 1).Error; err != nil {
			return derrors.Wrap(derrors.KindInternal, "failed to load ledger config", err)
		}

		listing = models.Listing{
			ID:          cfg.NextListingID - 1,
			Owner:       caller,
			ContentRef:  strings.TrimSpace(req.ContentRef),
			Name:        name,
			Description: description,
			Category:    category,
			Price:       req.Price,
			SizeHint:    req.SizeHint,
			Active:      true,
			CreatedAt:   time.Now(),
		}
		if err := tx.Create(&listing).Error; err != nil {
			return derrors.Wrap(derrors.KindInternal, "failed to create listing", err)
		}
		return nil
	})
	if err != nil {
		if derrors.KindOf(err) != derrors.KindInternal {
			return nil, err
		}
		return nil, derrors.Wrap(derrors.KindInternal, "register failed", err)
	}

	s.index.Upsert(listing)
	metrics.ListingsRegistered.WithLabelValues(listing.Category).Inc()
	s.publish(ctx, events.ListingRegistered{Listing: listing})

	s.logger.Info("listing registered",
		zap.Int64("listing_id", listing.ID),
		zap.String("owner", listing.Owner),
		zap.Int64("price", listing.Price))
	return &listing, nil
}

// Purchase settles a purchase atomically. Preconditions are checked in
// order; the Purchase row, counter bump, and both value transfers commit
// together or not at all. The unique (listing_id, buyer) index makes the
// double-purchase check durable before any funds move.
func (s *Service) Purchase(ctx context.Context, caller string, listingID, paymentAmount int64) (*models.Purchase, error) {
	if caller == "" {
		return nil, derrors.New(derrors.KindUnauthorized, "missing caller identity")
	}
	start := time.Now()

	var (
		purchase models.Purchase
		listing  models.Listing
		split    events.PaymentSplit
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&listing, "id = ?", listingID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return derrors.Newf(derrors.KindNotFound, "listing %d not found", listingID)
			}
			return derrors.Wrap(derrors.KindInternal, "failed to load listing", err)
		}
		if !listing.Active {
			return derrors.Newf(derrors.KindInactive, "listing %d is not active", listingID)
		}
		if caller == listing.Owner {
			return derrors.New(derrors.KindSelfPurchase, "cannot purchase your own listing")
		}
		var existing int64
		if err := tx.Model(&models.Purchase{}).
			Where("listing_id = ? AND buyer = ?", listingID, caller).
			Count(&existing).Error; err != nil {
			return derrors.Wrap(derrors.KindInternal, "failed to check prior purchase", err)
		}
		if existing > 0 {
			return derrors.New(derrors.KindAlreadyPurchased, "already purchased this listing")
		}
		if paymentAmount != listing.Price {
			return derrors.Newf(derrors.KindPaymentMismatch,
				"payment %d does not match price %d", paymentAmount, listing.Price)
		}

		var cfg models.LedgerConfig
		if err := tx.First(&cfg, 1).Error; err != nil {
			return derrors.Wrap(derrors.KindInternal, "failed to load ledger config", err)
		}
		platformFee := paymentAmount * cfg.PlatformFeeRate / 100
		ownerAmount := paymentAmount - platformFee

		now := time.Now()
		purchase = models.Purchase{
			ID:          uuid.New(),
			ListingID:   listingID,
			Buyer:       caller,
			AmountPaid:  paymentAmount,
			FeeAmount:   platformFee,
			AccessToken: deriveAccessToken(listingID, caller, now),
			PurchasedAt: now,
		}
		if err := tx.Create(&purchase).Error; err != nil {
			if derrors.Is(err, gorm.ErrDuplicatedKey) {
				return derrors.New(derrors.KindAlreadyPurchased, "already purchased this listing")
			}
			return derrors.Wrap(derrors.KindInternal, "failed to record purchase", err)
		}

		// In-place increment so concurrent settlements of the same listing
		// never lose a count. The local copy only feeds the post-commit index.
		listing.PurchaseCount++
		if err := tx.Model(&models.Listing{}).Where("id = ?", listingID).
			UpdateColumn("purchase_count", gorm.Expr("purchase_count + 1")).Error; err != nil {
			return derrors.Wrap(derrors.KindInternal, "failed to update purchase count", err)
		}

		// Interactions last: both transfers abort the whole settlement on
		// failure, rolling back the rows above.
		if err := s.treasury.TransferTx(tx, caller, listing.Owner, ownerAmount); err != nil {
			return err
		}
		if err := s.treasury.TransferTx(tx, caller, cfg.FeeRecipient, platformFee); err != nil {
			return err
		}

		split = events.PaymentSplit{
			ListingID:    listingID,
			Owner:        listing.Owner,
			OwnerAmount:  ownerAmount,
			FeeRecipient: cfg.FeeRecipient,
			PlatformFee:  platformFee,
		}
		return nil
	})
	if err != nil {
		kind := derrors.KindOf(err)
		metrics.PurchasesRejected.WithLabelValues(kind).Inc()
		if kind != derrors.KindInternal {
			return nil, err
		}
		return nil, derrors.Wrap(derrors.KindInternal, "purchase failed", err)
	}

	s.index.Upsert(listing)
	if s.cache != nil {
		s.cache.Invalidate(ctx, listingID)
	}
	metrics.PurchasesSettled.Inc()
	metrics.FeesCollected.Add(float64(split.PlatformFee))
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())

	s.publish(ctx, events.Purchased{
		ListingID:  listingID,
		PurchaseID: purchase.ID,
		Buyer:      caller,
		Amount:     paymentAmount,
	})
	s.publish(ctx, split)

	s.logger.Info("purchase settled",
		zap.Int64("listing_id", listingID),
		zap.String("buyer", caller),
		zap.Int64("amount", paymentAmount),
		zap.Int64("platform_fee", split.PlatformFee))
	return &purchase, nil
}

// Deactivate takes a listing off the market. The transition is one-way;
// calling it again on an inactive listing succeeds without effect and emits
// no duplicate event.
func (s *Service) Deactivate(ctx context.Context, caller string, listingID int64) error {
	if caller == "" {
		return derrors.New(derrors.KindUnauthorized, "missing caller identity")
	}

	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var listing models.Listing
		if err := tx.First(&listing, "id = ?", listingID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return derrors.Newf(derrors.KindNotFound, "listing %d not found", listingID)
			}
			return derrors.Wrap(derrors.KindInternal, "failed to load listing", err)
		}
		if listing.Owner != caller {
			return derrors.New(derrors.KindNotOwner, "not the listing owner")
		}
		if !listing.Active {
			return nil
		}
		changed = true
		return tx.Model(&models.Listing{}).Where("id = ?", listingID).
			Update("active", false).Error
	})
	if err != nil {
		if derrors.KindOf(err) != derrors.KindInternal {
			return err
		}
		return derrors.Wrap(derrors.KindInternal, "deactivate failed", err)
	}
	if !changed {
		return nil
	}

	s.index.Remove(listingID)
	if s.cache != nil {
		s.cache.Invalidate(ctx, listingID)
	}
	s.publish(ctx, events.ListingDeactivated{ListingID: listingID, Owner: caller})

	s.logger.Info("listing deactivated", zap.Int64("listing_id", listingID))
	return nil
}

// CheckAccess reports whether account may read the listing's content:
// the owner always may, and so does any holder of a purchase.
func (s *Service) CheckAccess(ctx context.Context, account string, listingID int64) (bool, error) {
	listing, err := s.GetListing(ctx, listingID)
	if err != nil {
		return false, err
	}
	if listing.Owner == account {
		return true, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("listing_id = ? AND buyer = ?", listingID, account).
		Count(&count).Error; err != nil {
		return false, derrors.Wrap(derrors.KindInternal, "failed to check access", err)
	}
	return count > 0, nil
}

// UpdatePlatformFee changes the fee rate for future purchases only.
func (s *Service) UpdatePlatformFee(ctx context.Context, caller string, newRate int64) error {
	if caller != s.admin {
		return derrors.New(derrors.KindNotAdmin, "only the administrator can update the platform fee")
	}
	if newRate < 0 || newRate > MaxPlatformFeeRate {
		return derrors.Newf(derrors.KindFeeOutOfRange,
			"platform fee must be between 0 and %d percent", MaxPlatformFeeRate)
	}

	var oldRate int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg models.LedgerConfig
		if err := tx.First(&cfg, 1).Error; err != nil {
			return derrors.Wrap(derrors.KindInternal, "failed to load ledger config", err)
		}
		oldRate = cfg.PlatformFeeRate
		// Column-scoped update: a full-row save here could clobber a
		// concurrent registration's id counter bump.
		return tx.Model(&models.LedgerConfig{}).Where("id = ?", 1).
			Updates(map[string]interface{}{
				"platform_fee_rate": newRate,
				"updated_at":        time.Now(),
			}).Error
	})
	if err != nil {
		if derrors.KindOf(err) != derrors.KindInternal {
			return err
		}
		return derrors.Wrap(derrors.KindInternal, "fee update failed", err)
	}

	s.publish(ctx, events.PlatformFeeUpdated{OldRate: oldRate, NewRate: newRate})
	s.logger.Info("platform fee updated",
		zap.Int64("old_rate", oldRate), zap.Int64("new_rate", newRate))
	return nil
}

// PlatformFeeRate returns the current fee percentage.
func (s *Service) PlatformFeeRate(ctx context.Context) (int64, error) {
	var cfg models.LedgerConfig
	if err := s.db.WithContext(ctx).First(&cfg, 1).Error; err != nil {
		return 0, derrors.Wrap(derrors.KindInternal, "failed to load ledger config", err)
	}
	return cfg.PlatformFeeRate, nil
}

// ListActive returns all active listings in ascending id order, optionally
// narrowed by category and a fuzzy name/category query. Served from the
// in-memory index, which reflects committed state only.
func (s *Service) ListActive(ctx context.Context, filter ListingFilter) ([]models.Listing, error) {
	listings := s.index.Snapshot()
	if filter.Category == "" && filter.Query == "" {
		return listings, nil
	}

	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if filter.Category != "" && !strings.EqualFold(l.Category, filter.Category) {
			continue
		}
		if filter.Query != "" && !matchesQuery(&l, filter.Query) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// GetListing fetches one listing by id.
func (s *Service) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	if s.cache != nil {
		if l, ok := s.cache.GetListing(ctx, id); ok {
			return l, nil
		}
	}

	var listing models.Listing
	if err := s.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, derrors.Newf(derrors.KindNotFound, "listing %d not found", id)
		}
		return nil, derrors.Wrap(derrors.KindInternal, "failed to load listing", err)
	}

	if s.cache != nil {
		s.cache.SetListing(ctx, &listing)
	}
	return &listing, nil
}

// GetPurchase fetches one purchase record by id.
func (s *Service) GetPurchase(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := s.db.WithContext(ctx).First(&purchase, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, derrors.Newf(derrors.KindNotFound, "purchase %s not found", id)
		}
		return nil, derrors.Wrap(derrors.KindInternal, "failed to load purchase", err)
	}
	return &purchase, nil
}

// ListingsOf returns the account's listings in registration order.
func (s *Service) ListingsOf(ctx context.Context, account string) ([]models.Listing, error) {
	var listings []models.Listing
	if err := s.db.WithContext(ctx).Where("owner = ?", account).Order("id ASC").Find(&listings).Error; err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to list listings", err)
	}
	return listings, nil
}

// PurchasesOf returns the account's purchases in settlement order.
func (s *Service) PurchasesOf(ctx context.Context, account string) ([]models.Purchase, error) {
	var purchases []models.Purchase
	if err := s.db.WithContext(ctx).Where("buyer = ?", account).Order("purchased_at ASC").Find(&purchases).Error; err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to list purchases", err)
	}
	return purchases, nil
}

// Stats summarizes marketplace totals.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	db := s.db.WithContext(ctx)
	stats := &models.Stats{}

	if err := db.Model(&models.Listing{}).Count(&stats.TotalListings).Error; err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to count listings", err)
	}
	if err := db.Model(&models.Listing{}).Where("active = ?", true).Count(&stats.TotalActiveListings).Error; err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to count active listings", err)
	}
	if err := db.Model(&models.Purchase{}).Count(&stats.TotalPurchases).Error; err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to count purchases", err)
	}

	var sums struct {
		Volume int64
		Fees   int64
	}
	if err := db.Model(&models.Purchase{}).
		Select("COALESCE(SUM(amount_paid), 0) AS volume, COALESCE(SUM(fee_amount), 0) AS fees").
		Scan(&sums).Error; err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to sum volume", err)
	}
	stats.TotalVolume = decimal.NewFromInt(sums.Volume)
	stats.TotalFees = decimal.NewFromInt(sums.Fees)
	return stats, nil
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("type", ev.EventType()), zap.Error(err))
	}
}
