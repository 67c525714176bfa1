package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/alanyoungcy/marketwatch/internal/service"
)

// MarketView is the read side of the tracker.
type MarketView interface {
	Status() service.Status
	CurrentMarket() (domain.MarketMetadata, bool)
	Book(tokenID string) (domain.OrderbookSnapshot, bool)
}

// MarketHandler serves the tracked market, its books and the market history.
type MarketHandler struct {
	view    MarketView
	history domain.MarketStore // optional
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. history may be nil.
func NewMarketHandler(view MarketView, history domain.MarketStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{view: view, history: history, logger: logger}
}

// GetStatus returns what is being tracked.
// GET /api/v1/status
func (h *MarketHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view.Status())
}

// GetCurrent returns the current market metadata.
// GET /api/v1/market
func (h *MarketHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	m, ok := h.view.CurrentMarket()
	if !ok {
		writeError(w, http.StatusNotFound, "no market detected yet")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// bookView adds derived prices to a snapshot.
type bookView struct {
	domain.OrderbookSnapshot
	BestBid *domain.PriceLevel `json:"best_bid,omitempty"`
	BestAsk *domain.PriceLevel `json:"best_ask,omitempty"`
	Mid     string             `json:"mid,omitempty"`
}

// GetBook returns the latest snapshot for one outcome token.
// GET /api/v1/market/books/{tokenID}
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenID")
	snap, ok := h.view.Book(tokenID)
	if !ok {
		writeError(w, http.StatusNotFound, "no orderbook for token "+tokenID)
		return
	}
	v := bookView{OrderbookSnapshot: snap}
	if b, ok := snap.BestBid(); ok {
		v.BestBid = &b
	}
	if a, ok := snap.BestAsk(); ok {
		v.BestAsk = &a
	}
	if mid, ok := snap.MidPrice(); ok {
		v.Mid = mid.String()
	}
	writeJSON(w, http.StatusOK, v)
}

// ListHistory returns previously tracked market instances, newest first.
// GET /api/v1/markets
func (h *MarketHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "market history requires postgres")
		return
	}
	markets, err := h.history.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list market history", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	if markets == nil {
		markets = []domain.MarketMetadata{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetHistorical returns one stored market instance.
// GET /api/v1/markets/{conditionID}
func (h *MarketHandler) GetHistorical(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "market history requires postgres")
		return
	}
	m, err := h.history.GetByConditionID(r.Context(), chi.URLParam(r, "conditionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
