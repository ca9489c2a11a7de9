// Package httpapi serves read-only JSON views of accounts, inventory and trades.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cardledger/cards/internal/protocol"
	"github.com/cardledger/cards/pkg/cards"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorCodeAccountNotFound = "account_not_found"
	errorCodeInvalidAccount  = "invalid_account_id"
	errorCodeInvalidLimit    = "invalid_limit"
	errorCodeInternal        = "internal"
	errorCodeUnavailable     = "store_unavailable"

	shutdownTimeout = 5 * time.Second
)

// ReadEngine is the read side of cards.Service.
type ReadEngine interface {
	Balance(ctx context.Context, owner cards.AccountID) (cards.Account, error)
	ListInventory(ctx context.Context, owner cards.AccountID) ([]cards.Variant, error)
	ListTrades(ctx context.Context, owner cards.AccountID, limit int) ([]cards.Trade, error)
}

// Pinger reports store reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the HTTP surface settings.
type Config struct {
	AllowedOrigins []string
}

type httpHandler struct {
	logger *zap.Logger
	engine ReadEngine
	pinger Pinger
}

// NewRouter builds the gin engine with recovery, CORS and the read-only routes.
func NewRouter(cfg Config, engine ReadEngine, pinger Pinger, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{logger: logger, engine: engine, pinger: pinger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{"GET", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Origin", "Accept"},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/healthz", handler.handleHealth)

	accounts := router.Group("/api/accounts/:id")
	accounts.GET("", handler.handleAccount)
	accounts.GET("/inventory", handler.handleInventory)
	accounts.GET("/trades", handler.handleTrades)

	return router
}

// Serve runs router on listener until ctx is cancelled.
func Serve(ctx context.Context, listener net.Listener, router http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http views listening", zap.String("addr", listener.Addr().String()))
		errCh <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("http shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (handler *httpHandler) handleHealth(ctx *gin.Context) {
	if handler.pinger != nil {
		if err := handler.pinger.Ping(ctx.Request.Context()); err != nil {
			handler.logger.Warn("health check failed", zap.Error(err))
			ctx.JSON(http.StatusServiceUnavailable, errorResponse(errorCodeUnavailable, "store is unreachable"))
			return
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleAccount(ctx *gin.Context) {
	owner, ok := accountIDParam(ctx)
	if !ok {
		return
	}
	account, err := handler.engine.Balance(ctx.Request.Context(), owner)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newAccountPayload(account))
}

func (handler *httpHandler) handleInventory(ctx *gin.Context) {
	owner, ok := accountIDParam(ctx)
	if !ok {
		return
	}
	requestCtx := ctx.Request.Context()
	if _, err := handler.engine.Balance(requestCtx, owner); err != nil {
		handler.writeError(ctx, err)
		return
	}
	variants, err := handler.engine.ListInventory(requestCtx, owner)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	payload := inventoryResponse{AccountID: owner.Int64(), Variants: make([]variantPayload, 0, len(variants))}
	for _, variant := range variants {
		payload.Variants = append(payload.Variants, variantPayload{
			ID:       variant.ID.Int64(),
			CardName: variant.Card.Name,
			CardType: variant.Card.Type,
			Rarity:   variant.Card.Rarity,
			Count:    variant.Count,
		})
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleTrades(ctx *gin.Context) {
	owner, ok := accountIDParam(ctx)
	if !ok {
		return
	}
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidLimit, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	trades, err := handler.engine.ListTrades(ctx.Request.Context(), owner, limit)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	payload := tradesResponse{AccountID: owner.Int64(), Trades: make([]tradePayload, 0, len(trades))}
	for _, trade := range trades {
		payload.Trades = append(payload.Trades, tradePayload{
			TradeID:        trade.TradeID,
			Kind:           trade.Kind.String(),
			CardName:       trade.Card.Name,
			CardType:       trade.Card.Type,
			Rarity:         trade.Card.Rarity,
			Quantity:       trade.Quantity,
			UnitPrice:      trade.UnitPrice.StringFixed(2),
			Total:          trade.Total.StringFixed(2),
			BalanceAfter:   trade.BalanceAfter.StringFixed(2),
			Metadata:       metadataPayload(trade.MetadataJSON),
			CreatedUnixUTC: trade.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, payload)
}

func metadataPayload(raw string) json.RawMessage {
	if raw == "" || !json.Valid([]byte(raw)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}

func accountIDParam(ctx *gin.Context) (cards.AccountID, bool) {
	value, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || value <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidAccount, "account id must be a positive integer"))
		return 0, false
	}
	return cards.AccountID(value), true
}

func (handler *httpHandler) writeError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, cards.ErrAccountNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse(errorCodeAccountNotFound, "account not found"))
	case errors.Is(err, cards.ErrInvalidArgument):
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidLimit, err.Error()))
	default:
		handler.logger.Error("read view failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(errorCodeInternal, "internal error"))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func newAccountPayload(account cards.Account) accountPayload {
	return accountPayload{
		ID:          account.ID.Int64(),
		FirstName:   account.FirstName,
		LastName:    account.LastName,
		UserName:    account.UserName,
		DisplayName: protocol.DisplayName(account),
		Balance:     account.Balance.StringFixed(2),
		IsRoot:      account.IsRoot,
	}
}

type accountPayload struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	UserName    string `json:"user_name"`
	DisplayName string `json:"display_name"`
	Balance     string `json:"balance"`
	IsRoot      bool   `json:"is_root"`
}

type inventoryResponse struct {
	AccountID int64            `json:"account_id"`
	Variants  []variantPayload `json:"variants"`
}

type variantPayload struct {
	ID       int64  `json:"id"`
	CardName string `json:"card_name"`
	CardType string `json:"card_type"`
	Rarity   string `json:"rarity"`
	Count    int64  `json:"count"`
}

type tradesResponse struct {
	AccountID int64          `json:"account_id"`
	Trades    []tradePayload `json:"trades"`
}

type tradePayload struct {
	TradeID        string          `json:"trade_id"`
	Kind           string          `json:"kind"`
	CardName       string          `json:"card_name"`
	CardType       string          `json:"card_type,omitempty"`
	Rarity         string          `json:"rarity,omitempty"`
	Quantity       int64           `json:"quantity"`
	UnitPrice      string          `json:"unit_price"`
	Total          string          `json:"total"`
	BalanceAfter   string          `json:"balance_after"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}
