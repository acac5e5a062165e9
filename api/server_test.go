package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vantagedata/datamarket/api"
	"github.com/vantagedata/datamarket/internal/contentstore"
	"github.com/vantagedata/datamarket/internal/events"
	"github.com/vantagedata/datamarket/internal/identity"
	"github.com/vantagedata/datamarket/internal/ledger"
	"github.com/vantagedata/datamarket/internal/treasury"
	"github.com/vantagedata/datamarket/pkg/models"
)

type testEnv struct {
	router *gin.Engine
}

func setupEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.LedgerConfig{},
		&models.Listing{},
		&models.Purchase{},
		&models.Account{},
		&models.User{},
	))

	identitySvc := identity.NewService(logger, db, "test-secret", time.Hour)
	admin, err := identitySvc.EnsureAdmin(context.Background(), "admin@example.com", "adminpass123")
	require.NoError(t, err)

	treasurySvc := treasury.NewService(logger, db)
	bus := events.NewBus(logger)
	t.Cleanup(func() { bus.Close() })

	ledgerSvc, err := ledger.NewService(logger, db, treasurySvc, bus, nil, admin.Address)
	require.NoError(t, err)
	require.NoError(t, ledgerSvc.Start(context.Background()))

	store, err := contentstore.NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := api.NewServer(logger, ledgerSvc, treasurySvc, identitySvc, store, nil, api.Options{})
	return &testEnv{router: srv.Router()}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return resp
}

func (e *testEnv) signupAndLogin(t *testing.T, email string) (token, address string) {
	w := e.do(t, http.MethodPost, "/api/v1/auth/signup", "", gin.H{"email": email, "password": "password123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	return resp["token"].(string), resp["address"].(string)
}

func TestHealthCheck(t *testing.T) {
	env := setupEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestAuthRequired(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/listings", "", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	w = env.do(t, http.MethodPost, "/api/v1/listings", "garbage-token", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMarketplaceFlow(t *testing.T) {
	env := setupEnv(t)

	ownerToken, ownerAddr := env.signupAndLogin(t, "owner@example.com")
	buyerToken, _ := env.signupAndLogin(t, "buyer@example.com")

	// Owner uploads the dataset bytes first.
	payload := []byte("timestamp,heart_rate\n2025-01-01T00:00:00Z,72\n")
	w := env.do(t, http.MethodPost, "/api/v1/content", ownerToken, payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	contentRef := decode(t, w)["content_ref"].(string)
	require.NotEmpty(t, contentRef)

	// Then registers the listing pointing at it.
	w = env.do(t, http.MethodPost, "/api/v1/listings", ownerToken, gin.H{
		"content_ref": contentRef,
		"name":        "Patient Vitals 2025",
		"description": "hourly vitals from 40k anonymized patients",
		"category":    "medical",
		"price":       1000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	listing := decode(t, w)["listing"].(map[string]any)
	assert.Equal(t, float64(1), listing["id"])
	assert.Equal(t, ownerAddr, listing["owner"])

	// The listing shows up in the public browse surface.
	w = env.do(t, http.MethodGet, "/api/v1/listings?category=medical", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listings := decode(t, w)["listings"].([]any)
	require.Len(t, listings, 1)

	// Buyer funds the wallet and settles the purchase.
	w = env.do(t, http.MethodPost, "/api/v1/wallet/deposit", buyerToken, gin.H{"amount": 1000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/listings/1/purchase", buyerToken, gin.H{"payment_amount": 1000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	purchase := decode(t, w)["purchase"].(map[string]any)
	assert.Equal(t, float64(50), purchase["fee_amount"])
	purchaseID := purchase["id"].(string)

	// Buyer wallet was debited in full.
	w = env.do(t, http.MethodGet, "/api/v1/wallet/balance", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	account := decode(t, w)["account"].(map[string]any)
	assert.Equal(t, float64(0), account["balance"])

	// Owner was credited their 95% share.
	w = env.do(t, http.MethodGet, "/api/v1/wallet/balance", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	account = decode(t, w)["account"].(map[string]any)
	assert.Equal(t, float64(950), account["balance"])

	// Access is now granted and the content downloads.
	w = env.do(t, http.MethodGet, "/api/v1/listings/1/access", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["has_access"])

	w = env.do(t, http.MethodGet, "/api/v1/content/"+contentRef+"?listing_id=1", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payload, w.Body.Bytes())

	w = env.do(t, http.MethodGet, "/api/v1/purchases/"+purchaseID, buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/me/purchases", buyerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["purchases"].([]any), 1)

	w = env.do(t, http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_purchases"])
}

func TestPurchaseRejections(t *testing.T) {
	env := setupEnv(t)

	ownerToken, _ := env.signupAndLogin(t, "owner@example.com")
	buyerToken, _ := env.signupAndLogin(t, "buyer@example.com")
	strangerToken, _ := env.signupAndLogin(t, "stranger@example.com")

	w := env.do(t, http.MethodPost, "/api/v1/listings", ownerToken, gin.H{
		"content_ref": "abc123",
		"name":        "Patient Vitals 2025",
		"description": "hourly vitals from 40k anonymized patients",
		"price":       1000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Unknown listing.
	w = env.do(t, http.MethodPost, "/api/v1/listings/404/purchase", buyerToken, gin.H{"payment_amount": 1000})
	assert.Equal(t, http.StatusNotFound, w.Code)
	problem := decode(t, w)
	assert.Equal(t, "https://api.datamarket.dev/problems/not-found", problem["type"])

	// Self purchase.
	w = env.do(t, http.MethodPost, "/api/v1/listings/1/purchase", ownerToken, gin.H{"payment_amount": 1000})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Wrong payment amount.
	w = env.do(t, http.MethodPost, "/api/v1/wallet/deposit", buyerToken, gin.H{"amount": 5000})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/listings/1/purchase", buyerToken, gin.H{"payment_amount": 999})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	problem = decode(t, w)
	assert.Equal(t, "Payment Mismatch", problem["title"])

	// Unfunded buyer.
	w = env.do(t, http.MethodPost, "/api/v1/listings/1/purchase", strangerToken, gin.H{"payment_amount": 1000})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	// Double purchase.
	w = env.do(t, http.MethodPost, "/api/v1/listings/1/purchase", buyerToken, gin.H{"payment_amount": 1000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/v1/listings/1/purchase", buyerToken, gin.H{"payment_amount": 1000})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Deactivated listing rejects purchase with 410.
	w = env.do(t, http.MethodDelete, "/api/v1/listings/1", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/listings/1/purchase", strangerToken, gin.H{"payment_amount": 1000})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestContentAccessControl(t *testing.T) {
	env := setupEnv(t)

	ownerToken, _ := env.signupAndLogin(t, "owner@example.com")
	strangerToken, _ := env.signupAndLogin(t, "stranger@example.com")

	payload := []byte("confidential bytes")
	w := env.do(t, http.MethodPost, "/api/v1/content", ownerToken, payload)
	require.Equal(t, http.StatusCreated, w.Code)
	contentRef := decode(t, w)["content_ref"].(string)

	w = env.do(t, http.MethodPost, "/api/v1/listings", ownerToken, gin.H{
		"content_ref": contentRef,
		"name":        "Private Set",
		"description": "not for strangers",
		"price":       10,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// The owner can always download their own content.
	w = env.do(t, http.MethodGet, "/api/v1/content/"+contentRef+"?listing_id=1", ownerToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A non-buyer cannot.
	w = env.do(t, http.MethodGet, "/api/v1/content/"+contentRef+"?listing_id=1", strangerToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A ref the listing does not point at is invisible.
	w = env.do(t, http.MethodGet, "/api/v1/content/other-ref?listing_id=1", ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Empty uploads are rejected.
	w = env.do(t, http.MethodPost, "/api/v1/content", ownerToken, []byte{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminFeeEndpoint(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "admin@example.com", "password": "adminpass123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	adminToken := decode(t, w)["token"].(string)

	userToken, _ := env.signupAndLogin(t, "user@example.com")

	w = env.do(t, http.MethodPut, "/api/v1/admin/fee", userToken, gin.H{"rate": 10})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPut, "/api/v1/admin/fee", adminToken, gin.H{"rate": 10})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/v1/admin/fee", adminToken, gin.H{"rate": 21})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Fee Out of Range", decode(t, w)["title"])
}

func TestBadListingID(t *testing.T) {
	env := setupEnv(t)
	token, _ := env.signupAndLogin(t, "user@example.com")

	for _, path := range []string{"/api/v1/listings/abc/purchase", "/api/v1/listings/0/purchase", "/api/v1/listings/-1/purchase"} {
		w := env.do(t, http.MethodPost, path, token, gin.H{"payment_amount": 1})
		assert.Equal(t, http.StatusBadRequest, w.Code, fmt.Sprintf("path %s", path))
	}
}
