package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// Wallet is the read side of the virtual wallet.
type Wallet interface {
	Summary() domain.WalletSummary
	Positions() []domain.VirtualPosition
	Position(tokenID string) (domain.VirtualPosition, bool)
	Transactions() []domain.TransactionRecord
	Orders() []domain.VirtualOrder
}

// Trader simulates orders against the tracked market.
type Trader interface {
	Buy(ctx context.Context, tokenID string, size decimal.Decimal, limit *decimal.Decimal) (domain.VirtualOrder, error)
	Sell(ctx context.Context, tokenID string, size decimal.Decimal, limit *decimal.Decimal) (domain.VirtualOrder, error)
}

// WalletHandler serves balances, positions, orders and the ledger.
type WalletHandler struct {
	wallet Wallet
	trader Trader
	ledger domain.TransactionStore // optional
	logger *slog.Logger
}

// NewWalletHandler creates a WalletHandler. ledger may be nil, in which case
// only the in-memory ledger is served.
func NewWalletHandler(w Wallet, t Trader, ledger domain.TransactionStore, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallet: w, trader: t, ledger: ledger, logger: logger}
}

// GetSummary returns balance and PnL.
// GET /api/v1/wallet
func (h *WalletHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.wallet.Summary())
}

// ListPositions returns open positions.
// GET /api/v1/positions
func (h *WalletHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.wallet.Positions())
}

// GetPosition returns one position, open or closed.
// GET /api/v1/positions/{tokenID}
func (h *WalletHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenID")
	pos, ok := h.wallet.Position(tokenID)
	if !ok {
		writeError(w, http.StatusNotFound, "no position for token "+tokenID)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListOrders returns simulated orders, newest first.
// GET /api/v1/orders
func (h *WalletHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, page(h.wallet.Orders(), parseListOpts(r)))
}

// ListTransactions returns ledger rows, newest first. With source=store the
// rows come from postgres and survive restarts; token_id filters by token.
// GET /api/v1/transactions
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	tokenID := r.URL.Query().Get("token_id")

	if r.URL.Query().Get("source") == "store" {
		if h.ledger == nil {
			writeError(w, http.StatusNotImplemented, "stored ledger requires postgres")
			return
		}
		var (
			txs []domain.TransactionRecord
			err error
		)
		if tokenID != "" {
			txs, err = h.ledger.ListByToken(r.Context(), tokenID, opts)
		} else {
			txs, err = h.ledger.List(r.Context(), opts)
		}
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list stored transactions", slog.String("error", err.Error()))
			writeDomainError(w, err)
			return
		}
		if txs == nil {
			txs = []domain.TransactionRecord{}
		}
		writeJSON(w, http.StatusOK, txs)
		return
	}

	all := h.wallet.Transactions()
	if tokenID != "" {
		filtered := all[:0:0]
		for _, tx := range all {
			if tx.TokenID == tokenID {
				filtered = append(filtered, tx)
			}
		}
		all = filtered
	}
	writeJSON(w, http.StatusOK, page(all, opts))
}

// orderRequest is the body of a simulated order.
type orderRequest struct {
	TokenID    string           `json:"token_id"`
	Side       string           `json:"side"`
	Size       decimal.Decimal  `json:"size"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

func (req orderRequest) validate() error {
	if strings.TrimSpace(req.TokenID) == "" {
		return fmt.Errorf("%w: token_id is required", domain.ErrInvalidInput)
	}
	switch domain.OrderSide(strings.ToLower(req.Side)) {
	case domain.OrderSideBuy, domain.OrderSideSell:
	default:
		return fmt.Errorf("%w: side must be buy or sell", domain.ErrInvalidInput)
	}
	if req.LimitPrice != nil && (!req.LimitPrice.IsPositive() || req.LimitPrice.GreaterThanOrEqual(decimal.NewFromInt(1))) {
		return fmt.Errorf("%w: limit_price must be between 0 and 1", domain.ErrInvalidInput)
	}
	return nil
}

// PlaceOrder simulates a fill against the latest book. Rejections are
// returned with 200 and status REJECTED; only malformed requests fail.
// POST /api/v1/orders
func (h *WalletHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	fn := h.trader.Buy
	if domain.OrderSide(strings.ToLower(req.Side)) == domain.OrderSideSell {
		fn = h.trader.Sell
	}
	order, err := fn(r.Context(), req.TokenID, req.Size, req.LimitPrice)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if !order.Filled() {
		status = http.StatusOK
	}
	writeJSON(w, status, order)
}
