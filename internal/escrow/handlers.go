package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	registry *Registry
	service  *Service
}

func NewHandler(registry *Registry, service *Service) *Handler {
	return &Handler{registry: registry, service: service}
}

// RegisterRoutes sets up public (read-only) escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/escrows/:id/status", h.GetStatus)
	r.GET("/escrows/:id/resolution", h.GetResolution)
	r.GET("/contracts/:ref/escrow", h.GetEscrowByContractRef)
	r.GET("/parties/:address/escrows", h.ListEscrows)
}

// RegisterProtectedRoutes sets up auth-required escrow routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.POST("/escrows/:id/deposit", h.Deposit)
	r.POST("/escrows/:id/accept", h.Accept)
	r.POST("/escrows/:id/reject", h.Reject)
	r.POST("/escrows/:id/release", h.Release)
	r.POST("/escrows/:id/dispute", h.Dispute)
	r.POST("/escrows/:id/resolve", h.Resolve)
	r.PATCH("/escrows/:id/parties", h.CorrectParties)
}

// DepositRequest is the body for POST /v1/escrows/:id/deposit.
type DepositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// DisputeRequest is the body for POST /v1/escrows/:id/dispute.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveRequest is the body for POST /v1/escrows/:id/resolve.
type ResolveRequest struct {
	FavorBuyer    *bool  `json:"favor_buyer" binding:"required"`
	Justification string `json:"justification"`
}

// CorrectPartiesRequest is the body for PATCH /v1/escrows/:id/parties.
type CorrectPartiesRequest struct {
	BuyerAddr  string `json:"buyer_addr"`
	SellerAddr string `json:"seller_addr"`
}

// respondError maps service errors to HTTP statuses and stable codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrInvalidState):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrDuplicateContract):
		status = http.StatusConflict
		code = "duplicate_contract"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrLedgerFailure):
		status = http.StatusBadGateway
		code = "ledger_failure"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// CreateEscrow handles POST /v1/escrows
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// only a named party may open the account
	callerAddr := c.GetString("authPartyAddr")
	if callerAddr != req.BuyerAddr && callerAddr != req.SellerAddr && callerAddr != req.AdminAddr {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Authenticated party must be named on the escrow",
		})
		return
	}

	acc, err := h.registry.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": acc})
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	acc, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": acc})
}

// GetStatus handles GET /v1/escrows/:id/status
func (h *Handler) GetStatus(c *gin.Context) {
	view, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": view})
}

// GetResolution handles GET /v1/escrows/:id/resolution
func (h *Handler) GetResolution(c *gin.Context) {
	res, err := h.service.GetResolution(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolution": res})
}

// GetEscrowByContractRef handles GET /v1/contracts/:ref/escrow
func (h *Handler) GetEscrowByContractRef(c *gin.Context) {
	acc, err := h.registry.GetByContractRef(c.Request.Context(), c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": acc})
}

// ListEscrows handles GET /v1/parties/:address/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	accounts, err := h.registry.ListByParty(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"escrows": accounts,
		"count":   len(accounts),
	})
}

// Deposit handles POST /v1/escrows/:id/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Amount is required",
		})
		return
	}

	acc, err := h.service.Deposit(c.Request.Context(), c.Param("id"), c.GetString("authPartyAddr"), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": acc})
}

// Accept handles POST /v1/escrows/:id/accept
func (h *Handler) Accept(c *gin.Context) {
	acc, err := h.service.Accept(c.Request.Context(), c.Param("id"), c.GetString("authPartyAddr"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": acc})
}

// Reject handles POST /v1/escrows/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	acc, err := h.service.Reject(c.Request.Context(), c.Param("id"), c.GetString("authPartyAddr"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": acc})
}

// Release handles POST /v1/escrows/:id/release
func (h *Handler) Release(c *gin.Context) {
	acc, err := h.service.Release(c.Request.Context(), c.Param("id"), c.GetString("authPartyAddr"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": acc})
}

// Dispute handles POST /v1/escrows/:id/dispute
func (h *Handler) Dispute(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Reason is required",
		})
		return
	}

	acc, err := h.service.Dispute(c.Request.Context(), c.Param("id"), c.GetString("authPartyAddr"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": acc})
}

// Resolve handles POST /v1/escrows/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "favor_buyer is required",
		})
		return
	}

	acc, err := h.service.Resolve(c.Request.Context(), c.Param("id"), c.GetString("authPartyAddr"), *req.FavorBuyer, req.Justification)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": acc})
}

// CorrectParties handles PATCH /v1/escrows/:id/parties
func (h *Handler) CorrectParties(c *gin.Context) {
	var req CorrectPartiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	acc, err := h.registry.CorrectParties(c.Request.Context(), c.Param("id"), c.GetString("authPartyAddr"), req.BuyerAddr, req.SellerAddr)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": acc})
}
