package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vantagedata/datamarket/internal/ledger"
	derrors "github.com/vantagedata/datamarket/pkg/errors"
	"github.com/vantagedata/datamarket/pkg/models"
)

// --- AUTH ---

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) signup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, derrors.Wrap(derrors.KindValidation, "invalid request body", err))
		return
	}
	user, err := s.identities.Signup(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": user.Address, "email": user.Email})
}

func (s *Server) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, derrors.Wrap(derrors.KindValidation, "invalid request body", err))
		return
	}
	token, user, err := s.identities.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "address": user.Address, "role": user.Role})
}

// --- LISTINGS ---

func (s *Server) registerListing(c *gin.Context) {
	var req models.RegisterListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, derrors.Wrap(derrors.KindValidation, "invalid request body", err))
		return
	}
	listing, err := s.ledger.Register(c.Request.Context(), s.caller(c), &req)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"listing": listing})
}

func (s *Server) listActive(c *gin.Context) {
	filter := ledger.ListingFilter{
		Query:    c.Query("q"),
		Category: c.Query("category"),
	}
	listings, err := s.ledger.ListActive(c.Request.Context(), filter)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (s *Server) getListing(c *gin.Context) {
	id, err := parseListingID(c)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	listing, err := s.ledger.GetListing(c.Request.Context(), id)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

func (s *Server) purchaseListing(c *gin.Context) {
	id, err := parseListingID(c)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	var req models.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, derrors.Wrap(derrors.KindValidation, "invalid request body", err))
		return
	}
	purchase, err := s.ledger.Purchase(c.Request.Context(), s.caller(c), id, req.PaymentAmount)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"purchase": purchase})
}

func (s *Server) deactivateListing(c *gin.Context) {
	id, err := parseListingID(c)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	if err := s.ledger.Deactivate(c.Request.Context(), s.caller(c), id); err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing_id": id, "active": false})
}

func (s *Server) checkAccess(c *gin.Context) {
	id, err := parseListingID(c)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	account := c.Query("account")
	if account == "" {
		account = s.caller(c)
	}
	hasAccess, err := s.ledger.CheckAccess(c.Request.Context(), account, id)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing_id": id, "account": account, "has_access": hasAccess})
}

func (s *Server) getPurchase(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.writeProblem(c, derrors.New(derrors.KindValidation, "invalid purchase id"))
		return
	}
	purchase, err := s.ledger.GetPurchase(c.Request.Context(), id)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchase": purchase})
}

func (s *Server) myListings(c *gin.Context) {
	listings, err := s.ledger.ListingsOf(c.Request.Context(), s.caller(c))
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (s *Server) myPurchases(c *gin.Context) {
	purchases, err := s.ledger.PurchasesOf(c.Request.Context(), s.caller(c))
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.ledger.Stats(c.Request.Context())
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// --- WALLET ---

type depositRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (s *Server) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, derrors.Wrap(derrors.KindValidation, "invalid request body", err))
		return
	}
	account, err := s.treasury.Deposit(c.Request.Context(), s.caller(c), req.Amount)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

func (s *Server) getBalance(c *gin.Context) {
	account, err := s.treasury.GetAccount(c.Request.Context(), s.caller(c))
	if err != nil {
		if derrors.Is(err, derrors.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"account": models.Account{Address: s.caller(c)}})
			return
		}
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// --- CONTENT ---

func (s *Server) uploadContent(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, s.maxUploadBytes+1))
	if err != nil {
		s.writeProblem(c, derrors.Wrap(derrors.KindValidation, "failed to read upload", err))
		return
	}
	if int64(len(data)) > s.maxUploadBytes {
		s.writeProblem(c, derrors.New(derrors.KindValidation, "upload exceeds size limit"))
		return
	}
	if len(data) == 0 {
		s.writeProblem(c, derrors.New(derrors.KindValidation, "empty upload"))
		return
	}
	ref, err := s.content.Put(c.Request.Context(), data)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"content_ref": ref, "size": len(data)})
}

// downloadContent serves stored content to accounts holding access to a
// listing that references it.
func (s *Server) downloadContent(c *gin.Context) {
	ref := c.Param("ref")
	listingID, err := strconv.ParseInt(c.Query("listing_id"), 10, 64)
	if err != nil {
		s.writeProblem(c, derrors.New(derrors.KindValidation, "listing_id query parameter required"))
		return
	}

	listing, err := s.ledger.GetListing(c.Request.Context(), listingID)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	if listing.ContentRef != ref {
		s.writeProblem(c, derrors.New(derrors.KindNotFound, "content not referenced by listing"))
		return
	}
	hasAccess, err := s.ledger.CheckAccess(c.Request.Context(), s.caller(c), listingID)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	if !hasAccess {
		s.writeProblem(c, derrors.New(derrors.KindUnauthorized, "no access to this listing"))
		return
	}

	data, err := s.content.Get(c.Request.Context(), ref)
	if err != nil {
		s.writeProblem(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// --- ADMIN ---

type feeUpdateRequest struct {
	Rate int64 `json:"rate"`
}

func (s *Server) updatePlatformFee(c *gin.Context) {
	var req feeUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, derrors.Wrap(derrors.KindValidation, "invalid request body", err))
		return
	}
	if err := s.ledger.UpdatePlatformFee(c.Request.Context(), s.caller(c), req.Rate); err != nil {
		s.writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platform_fee_rate": req.Rate})
}

func parseListingID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, derrors.New(derrors.KindValidation, "invalid listing id")
	}
	return id, nil
}
