package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/richardliu001/token-ledger/internal/service"
	"github.com/shopspring/decimal"
)

// TransferService is the part of service.TransactionProcessor the API uses.
type TransferService interface {
	CreateTransfer(ctx context.Context, credential string, req service.TransferRequest) (*model.Transaction, error)
	History(ctx context.Context, credential, address string, limit int, since time.Time) ([]model.Transaction, error)
	Balance(ctx context.Context, credential, address, symbol string) (decimal.Decimal, error)
}

type SwapService interface {
	CreateSwap(ctx context.Context, credential string, req service.SwapRequest) (*model.Swap, error)
}

// Handler serves the ledger API.
type Handler struct {
	transfers    TransferService
	swaps        SwapService
	historyLimit int
}

func NewHandler(transfers TransferService, swaps SwapService, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Handler{transfers: transfers, swaps: swaps, historyLimit: historyLimit}
}

func (h *Handler) Register(v1 *gin.RouterGroup) {
	v1.POST("/transactions", h.createTransfer)
	v1.POST("/swaps", h.createSwap)
	v1.GET("/wallets/:address/balances/:symbol", h.balance)
	v1.GET("/wallets/:address/transactions", h.history)
}

type transferReq struct {
	FromAddress string          `json:"fromAddress" binding:"required"`
	ToAddress   string          `json:"toAddress" binding:"required"`
	TokenSymbol string          `json:"tokenSymbol" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Signature   string          `json:"signature" binding:"required"`
	PublicKey   string          `json:"publicKey"`
}

func (h *Handler) createTransfer(c *gin.Context) {
	var req transferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := h.transfers.CreateTransfer(c.Request.Context(), c.GetHeader("Authorization"), service.TransferRequest{
		FromAddress:    req.FromAddress,
		ToAddress:      req.ToAddress,
		TokenSymbol:    req.TokenSymbol,
		Amount:         req.Amount,
		Signature:      req.Signature,
		PublicKey:      req.PublicKey,
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"transaction": tx,
		"message":     "Transaction created successfully",
	})
}

type swapReq struct {
	FromWallet      string          `json:"fromWallet" binding:"required"`
	ToWallet        string          `json:"toWallet" binding:"required"`
	FromTokenSymbol string          `json:"fromTokenSymbol" binding:"required"`
	ToTokenSymbol   string          `json:"toTokenSymbol" binding:"required"`
	FromAmount      decimal.Decimal `json:"fromAmount"`
	ExchangeRate    decimal.Decimal `json:"exchangeRate"`
}

func (h *Handler) createSwap(c *gin.Context) {
	var req swapReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.swaps.CreateSwap(c.Request.Context(), c.GetHeader("Authorization"), service.SwapRequest{
		FromWallet:      req.FromWallet,
		ToWallet:        req.ToWallet,
		FromTokenSymbol: req.FromTokenSymbol,
		ToTokenSymbol:   req.ToTokenSymbol,
		FromAmount:      req.FromAmount,
		ExchangeRate:    req.ExchangeRate,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"swap":    s,
		"message": "Swap completed successfully",
	})
}

func (h *Handler) balance(c *gin.Context) {
	bal, err := h.transfers.Balance(c.Request.Context(), c.GetHeader("Authorization"), c.Param("address"), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "symbol": c.Param("symbol"), "balance": bal})
}

func (h *Handler) history(c *gin.Context) {
	limit := h.historyLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	var since time.Time
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		since = t
	}
	txs, err := h.transfers.History(c.Request.Context(), c.GetHeader("Authorization"), c.Param("address"), limit, since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func writeError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
}
