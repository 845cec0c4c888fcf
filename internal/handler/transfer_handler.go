package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/eaglebank/transfer-service/internal/ledger"
	"github.com/eaglebank/transfer-service/internal/repository"
	"github.com/eaglebank/transfer-service/shared/cqrs"
	"github.com/eaglebank/transfer-service/shared/middleware"
	"github.com/eaglebank/transfer-service/shared/models"
	"github.com/eaglebank/transfer-service/shared/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TransferCommander defines the write-side operations used by TransferHandler.
type TransferCommander interface {
	Transfer(context.Context, cqrs.TransferCommand) (*models.TransferRecord, error)
}

// TransferQuerier defines the read-side operations used by TransferHandler.
type TransferQuerier interface {
	GetAccount(context.Context, cqrs.GetAccountQuery) (*models.AccountView, error)
	ListTransfers(context.Context, cqrs.ListTransfersQuery) ([]models.TransferRecord, error)
	GetTransfer(context.Context, string) (*models.TransferRecord, error)
}

type TransferHandler struct {
	commands TransferCommander
	queries  TransferQuerier
}

type CreateTransferRequest struct {
	FromAccountID int64           `json:"fromAccountId" validate:"required,gt=0"`
	ToAccountID   int64           `json:"toAccountId" validate:"required,gt=0,nefield=FromAccountID"`
	Amount        decimal.Decimal `json:"amount"`
}

type ListTransfersResponse struct {
	Transfers []models.TransferRecord `json:"transfers"`
}

func NewTransferHandler(commands TransferCommander, queries TransferQuerier) *TransferHandler {
	return &TransferHandler{commands: commands, queries: queries}
}

// Register mounts the transfer and account routes on r.
func (h *TransferHandler) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/transfers", h.CreateTransfer)
	v1.GET("/transfers/:reference", h.GetTransfer)
	v1.GET("/accounts/:accountId", h.GetAccount)
	v1.GET("/accounts/:accountId/transfers", h.ListTransfers)
}

func (h *TransferHandler) CreateTransfer(c *gin.Context) {
	var req CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	transfer, err := h.commands.Transfer(c.Request.Context(), cqrs.TransferCommand{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
	})
	if err != nil {
		_ = c.Error(err)
		respondWithTransferError(c, err)
		return
	}

	c.JSON(http.StatusCreated, transfer)
}

func (h *TransferHandler) GetTransfer(c *gin.Context) {
	reference := c.Param("reference")
	if !utils.ValidateTransferReference(reference) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid transfer reference")
		return
	}

	transfer, err := h.queries.GetTransfer(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, repository.ErrTransferNotFound) {
			middleware.RespondWithError(c, http.StatusNotFound, "Transfer not found")
			return
		}
		_ = c.Error(err)
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to get transfer")
		return
	}

	c.JSON(http.StatusOK, transfer)
}

func (h *TransferHandler) GetAccount(c *gin.Context) {
	accountID, ok := utils.ParseAccountID(c.Param("accountId"))
	if !ok {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid account id")
		return
	}

	view, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{AccountID: accountID})
	if err != nil {
		respondWithAccountError(c, err, "Failed to get account")
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *TransferHandler) ListTransfers(c *gin.Context) {
	accountID, ok := utils.ParseAccountID(c.Param("accountId"))
	if !ok {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid account id")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			middleware.RespondWithError(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	transfers, err := h.queries.ListTransfers(c.Request.Context(), cqrs.ListTransfersQuery{
		AccountID: accountID,
		Limit:     limit,
	})
	if err != nil {
		respondWithAccountError(c, err, "Failed to list transfers")
		return
	}

	c.JSON(http.StatusOK, ListTransfersResponse{Transfers: transfers})
}

func respondWithTransferError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrSameAccount),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAccount):
		middleware.RespondWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrSourceAccountNotFound):
		middleware.RespondWithError(c, http.StatusNotFound, "Source account not found")
	case errors.Is(err, ledger.ErrDestinationAccountNotFound):
		middleware.RespondWithError(c, http.StatusNotFound, "Destination account not found")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		middleware.RespondWithError(c, http.StatusUnprocessableEntity, "Insufficient funds")
	case errors.Is(err, ledger.ErrInsufficientFundsOrAccountNotFound):
		middleware.RespondWithError(c, http.StatusUnprocessableEntity, "Insufficient funds or source account not found")
	case errors.Is(err, ledger.ErrTransactionConflict):
		middleware.RespondWithError(c, http.StatusConflict, "Transfer conflicted with a concurrent transfer, retry")
	default:
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to transfer funds")
	}
}

func respondWithAccountError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, ledger.ErrAccountNotFound) {
		middleware.RespondWithError(c, http.StatusNotFound, "Account not found")
		return
	}
	_ = c.Error(err)
	middleware.RespondWithError(c, http.StatusInternalServerError, fallback)
}
