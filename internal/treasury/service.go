// Package treasury manages account balances and executes the value
// transfers that settle purchases.
package treasury

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	derrors "github.com/vantagedata/datamarket/pkg/errors"
	"github.com/vantagedata/datamarket/pkg/models"
)

// TreasuryService defines balance and transfer operations. TransferTx runs
// inside a caller-supplied transaction so settlement stays atomic with the
// ledger mutation it pays for.
type TreasuryService interface {
	Deposit(ctx context.Context, address string, amount int64) (*models.Account, error)
	Withdraw(ctx context.Context, address string, amount int64) (*models.Account, error)
	GetAccount(ctx context.Context, address string) (*models.Account, error)
	TransferTx(tx *gorm.DB, from, to string, amount int64) error
}

// Service implements TreasuryService over GORM.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a treasury service.
func NewService(logger *zap.Logger, db *gorm.DB) *Service {
	return &Service{logger: logger, db: db}
}

var _ TreasuryService = (*Service)(nil)

// Deposit credits the account, creating it if needed.
func (s *Service) Deposit(ctx context.Context, address string, amount int64) (*models.Account, error) {
	if amount <= 0 {
		return nil, derrors.New(derrors.KindValidation, "deposit amount must be positive")
	}

	now := time.Now()
	account := models.Account{Address: address, Balance: amount, CreatedAt: now, UpdatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": now,
		}),
	}).Create(&account).Error
	if err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "deposit failed", err)
	}
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&account).Error; err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "deposit failed", err)
	}

	s.logger.Info("deposit credited",
		zap.String("address", address), zap.Int64("amount", amount))
	return &account, nil
}

// Withdraw debits the account.
func (s *Service) Withdraw(ctx context.Context, address string, amount int64) (*models.Account, error) {
	if amount <= 0 {
		return nil, derrors.New(derrors.KindValidation, "withdrawal amount must be positive")
	}

	var account models.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The debit is guarded and applied in one statement so concurrent
		// withdrawals cannot both pass a balance check and overdraw.
		res := tx.Model(&models.Account{}).
			Where("address = ? AND balance >= ?", address, amount).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance - ?", amount),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var exists int64
			if err := tx.Model(&models.Account{}).Where("address = ?", address).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return derrors.New(derrors.KindNotFound, "account not found")
			}
			return derrors.New(derrors.KindTransferFailed, "insufficient funds")
		}
		return tx.Where("address = ?", address).First(&account).Error
	})
	if err != nil {
		if derrors.KindOf(err) != derrors.KindInternal {
			return nil, err
		}
		return nil, derrors.Wrap(derrors.KindInternal, "withdrawal failed", err)
	}

	s.logger.Info("withdrawal debited",
		zap.String("address", address), zap.Int64("amount", amount))
	return &account, nil
}

// GetAccount fetches a balance row.
func (s *Service) GetAccount(ctx context.Context, address string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, derrors.New(derrors.KindNotFound, "account not found")
		}
		return nil, derrors.Wrap(derrors.KindInternal, "failed to find account", err)
	}
	return &account, nil
}

// TransferTx moves amount from one account to another inside tx. A zero
// amount is a legal no-op so free listings can settle. The receiving account
// is created on first credit; the paying account must exist and cover the
// amount, otherwise the transfer fails and the surrounding transaction is
// expected to roll back.
func (s *Service) TransferTx(tx *gorm.DB, from, to string, amount int64) error {
	if amount < 0 {
		return derrors.New(derrors.KindTransferFailed, "negative transfer amount")
	}
	if amount == 0 || from == to {
		return nil
	}

	now := time.Now()

	// Guarded atomic debit. Zero rows affected means the payer is either
	// missing or underfunded, and no money has moved.
	res := tx.Model(&models.Account{}).
		Where("address = ? AND balance >= ?", from, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": now,
		})
	if res.Error != nil {
		return derrors.Wrap(derrors.KindTransferFailed, "failed to debit paying account", res.Error)
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := tx.Model(&models.Account{}).Where("address = ?", from).Count(&exists).Error; err != nil {
			return derrors.Wrap(derrors.KindTransferFailed, "failed to load paying account", err)
		}
		if exists == 0 {
			return derrors.New(derrors.KindTransferFailed, "paying account not found")
		}
		return derrors.New(derrors.KindTransferFailed, "insufficient funds")
	}

	// Upsert credit so concurrent first credits to the same address cannot
	// collide on the primary key or lose an increment.
	toAccount := models.Account{Address: to, Balance: amount, CreatedAt: now, UpdatedAt: now}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": now,
		}),
	}).Create(&toAccount).Error
	if err != nil {
		return derrors.Wrap(derrors.KindTransferFailed, "failed to credit receiving account", err)
	}

	return nil
}
