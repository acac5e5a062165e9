// Package identity supplies the authenticated caller identity for every
// marketplace operation: account signup/login and JWT issuance binding an
// email credential to a marketplace address.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	derrors "github.com/vantagedata/datamarket/pkg/errors"
	"github.com/vantagedata/datamarket/pkg/models"
)

// Claims carried in issued tokens.
type Claims struct {
	Address string `json:"sub"`
	Role    string `json:"role"`
	Exp     int64  `json:"exp"`
}

// IdentityService defines signup, login, and token validation.
type IdentityService interface {
	Signup(ctx context.Context, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (token string, user *models.User, err error)
	ValidateToken(token string) (*Claims, error)
	EnsureAdmin(ctx context.Context, email, password string) (*models.User, error)
}

// Service implements IdentityService.
type Service struct {
	logger    *zap.Logger
	db        *gorm.DB
	jwtSecret []byte
	tokenTTL  time.Duration
}

var _ IdentityService = (*Service)(nil)

// NewService creates an identity service.
func NewService(logger *zap.Logger, db *gorm.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		logger:    logger,
		db:        db,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// NormalizeAddress validates a hex marketplace address and returns its
// checksummed form.
func NormalizeAddress(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", derrors.Newf(derrors.KindValidation, "invalid address %q", s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// Signup creates an account with a freshly generated marketplace address.
func (s *Service) Signup(ctx context.Context, email, password string) (*models.User, error) {
	return s.createUser(ctx, email, password, models.RoleUser)
}

// EnsureAdmin creates the administrator account if it does not exist yet and
// returns it. The admin's address is the platform's default fee recipient.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&user).Error
	if err == nil {
		if user.Role != models.RoleAdmin {
			return nil, derrors.New(derrors.KindConflict, "admin email already taken by a non-admin account")
		}
		return &user, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to look up admin", err)
	}
	return s.createUser(ctx, email, password, models.RoleAdmin)
}

func (s *Service) createUser(ctx context.Context, email, password, role string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, derrors.New(derrors.KindValidation, "invalid email")
	}
	if len(password) < 8 {
		return nil, derrors.New(derrors.KindValidation, "password must be at least 8 characters")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to check email", err)
	}
	if count > 0 {
		return nil, derrors.New(derrors.KindConflict, "email already registered")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to hash password", err)
	}

	address, err := generateAddress()
	if err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to generate address", err)
	}

	now := time.Now()
	user := models.User{
		Address:      address,
		Email:        email,
		PasswordHash: string(hashed),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, derrors.Wrap(derrors.KindInternal, "failed to create user", err)
	}

	s.logger.Info("account created",
		zap.String("address", user.Address), zap.String("role", user.Role))
	return &user, nil
}

// Login verifies credentials and issues a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil, derrors.New(derrors.KindUnauthorized, "invalid credentials")
		}
		return "", nil, derrors.Wrap(derrors.KindInternal, "failed to look up user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, derrors.New(derrors.KindUnauthorized, "invalid credentials")
	}

	token, err := s.generateToken(&user)
	if err != nil {
		return "", nil, derrors.Wrap(derrors.KindInternal, "failed to sign token", err)
	}
	return token, &user, nil
}

// ValidateToken parses and verifies a token, returning its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, derrors.New(derrors.KindUnauthorized, "invalid token")
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, derrors.New(derrors.KindUnauthorized, "invalid token claims")
	}
	address, _ := mapClaims["sub"].(string)
	role, _ := mapClaims["role"].(string)
	if address == "" {
		return nil, derrors.New(derrors.KindUnauthorized, "invalid token subject")
	}
	exp, _ := mapClaims["exp"].(float64)
	return &Claims{Address: address, Role: role, Exp: int64(exp)}, nil
}

func (s *Service) generateToken(user *models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.Address,
		"role": user.Role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(s.tokenTTL).Unix(),
	})
	return token.SignedString(s.jwtSecret)
}

// generateAddress derives a new marketplace address from a throwaway
// secp256k1 key. The key is discarded: the address is an account label, not
// signing material.
func generateAddress() (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}
