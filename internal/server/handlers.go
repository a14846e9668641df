package server

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"PerpClear/internal/engine"
	"PerpClear/internal/market"
)

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decode(r, &req); err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	size, err := parseAmount(req.SizeDelta)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	limit, err := parseAmount(req.PriceLimit)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ev, err := s.engine.OpenPosition(engine.TradeRequest{
		Account:       req.Account,
		MarketID:      req.MarketID,
		SizeDeltaX18:  size,
		PriceLimitX18: limit,
		RequestID:     req.RequestID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, ev)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decode(r, &req); err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	size, err := parseAmount(req.Size)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	limit, err := parseAmount(req.PriceLimit)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ev, err := s.engine.ClosePosition(req.Account, req.MarketID, size, limit, req.RequestID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, ev)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decode(r, &req); err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	size, err := parseAmount(req.Size)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	limit, err := parseAmount(req.PriceLimit)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ev, err := s.engine.Liquidate(engine.LiquidateRequest{
		Liquidator:    req.Liquidator,
		Account:       req.Account,
		MarketID:      req.MarketID,
		SizeX18:       size,
		PriceLimitX18: limit,
		RequestID:     req.RequestID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, ev)
}

func (s *Server) handleSettleFunding(w http.ResponseWriter, r *http.Request) {
	var req settleFundingRequest
	if err := decode(r, &req); err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ev, err := s.engine.SettleFunding(req.Account, req.MarketID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, ev)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	// Deposits arrive in the token's native base units, not X18.
	units, ok := newBigInt(req.Amount)
	if !ok {
		respond(w, http.StatusBadRequest, errorResponse{Error: "malformed amount"})
		return
	}
	ev, err := s.engine.Deposit(req.Account, req.Token, units, req.RequestID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, ev)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ev, err := s.engine.Withdraw(req.Account, req.Token, amount, req.RequestID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, ev)
}

func (s *Server) handleAddMargin(w http.ResponseWriter, r *http.Request) {
	var req marginRequest
	if err := decode(r, &req); err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ev, err := s.engine.AddMargin(req.Account, req.MarketID, amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, ev)
}

func (s *Server) handleRemoveMargin(w http.ResponseWriter, r *http.Request) {
	var req marginRequest
	if err := decode(r, &req); err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ev, err := s.engine.RemoveMargin(req.Account, req.MarketID, amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, ev)
}

// --- Reads ---

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	ids := s.markets.IDs()
	sort.Strings(ids)
	out := make([]marketResponse, 0, len(ids))
	for _, id := range ids {
		m, err := s.markets.Get(id)
		if err != nil {
			continue
		}
		out = append(out, s.marketView(m))
	}
	respond(w, http.StatusOK, out)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.markets.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, s.marketView(m))
}

func (s *Server) marketView(m *market.Market) marketResponse {
	base, quote := m.Pricing.Reserves()
	out := marketResponse{
		MarketID:     m.ID,
		FundingIndex: formatAmount(m.Pricing.FundingIndex()),
		ReserveBase:  formatAmount(base),
		ReserveQuote: formatAmount(quote),
		FeeBps:       m.FeeBps,
		Paused:       m.Paused || m.Pricing.Paused(),
	}
	if mark, err := m.Pricing.MarkPrice(); err == nil {
		out.MarkPrice = formatAmount(mark)
	}
	if idx, err := m.Oracle.IndexPrice(); err == nil {
		out.IndexPrice = formatAmount(idx)
	}
	if twap, err := m.Pricing.TWAP(s.clock().Unix(), 900); err == nil {
		out.TWAP = formatAmount(twap)
	}
	return out
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	account, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: "malformed account id"})
		return
	}
	view, err := s.engine.GetPosition(account, chi.URLParam(r, "marketID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, positionResponse{
		Account:        view.Account,
		MarketID:       view.MarketID,
		Size:           formatAmount(view.SizeX18),
		EntryPrice:     formatAmount(view.EntryPriceX18),
		Margin:         formatAmount(view.MarginX18),
		RealizedPnL:    formatAmount(view.RealizedPnLX18),
		RiskPrice:      formatAmount(view.RiskPriceX18),
		Notional:       formatAmount(view.NotionalX18),
		UnrealizedPnL:  formatAmount(view.UnrealizedX18),
		PendingFunding: formatAmount(view.PendingFundingX18),
		MarginRatio:    formatAmount(view.MarginRatioX18),
		Liquidatable:   view.Liquidatable,
	})
}

func (s *Server) handleAccountValue(w http.ResponseWriter, r *http.Request) {
	account, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: "malformed account id"})
		return
	}
	respond(w, http.StatusOK, map[string]string{
		"account": account.String(),
		"value":   formatAmount(s.engine.GetAccountValue(account)),
	})
}

func (s *Server) handleFreeCollateral(w http.ResponseWriter, r *http.Request) {
	account, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: "malformed account id"})
		return
	}
	token := chi.URLParam(r, "token")
	respond(w, http.StatusOK, map[string]string{
		"account":   account.String(),
		"token":     token,
		"available": formatAmount(s.engine.FreeCollateral(account, token)),
	})
}

func (s *Server) handleInsurance(w http.ResponseWriter, r *http.Request) {
	contributed, paidOut := s.fund.Stats()
	respond(w, http.StatusOK, map[string]string{
		"balance":     formatAmount(s.fund.Balance()),
		"contributed": formatAmount(contributed),
		"paid_out":    formatAmount(paidOut),
	})
}

// --- History ---

func (s *Server) handleAccountHistory(w http.ResponseWriter, r *http.Request) {
	account, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: "malformed account id"})
		return
	}
	before, limit := pageParams(r)
	page, err := s.query.AccountHistory(r.Context(), account,
		r.URL.Query().Get("market"), r.URL.Query().Get("type"), before, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleMarketHistory(w http.ResponseWriter, r *http.Request) {
	before, limit := pageParams(r)
	page, err := s.query.MarketHistory(r.Context(), chi.URLParam(r, "marketID"),
		r.URL.Query().Get("type"), before, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleFundingHistory(w http.ResponseWriter, r *http.Request) {
	account, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: "malformed account id"})
		return
	}
	before, limit := pageParams(r)
	page, err := s.query.FundingHistory(r.Context(), account, r.URL.Query().Get("market"), before, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleLiquidationHistory(w http.ResponseWriter, r *http.Request) {
	account, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: "malformed account id"})
		return
	}
	before, limit := pageParams(r)
	page, err := s.query.Liquidations(r.Context(), account, before, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleBadDebt(w http.ResponseWriter, r *http.Request) {
	before, limit := pageParams(r)
	page, err := s.query.BadDebt(r.Context(), before, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func pageParams(r *http.Request) (before int64, limit int) {
	q := r.URL.Query()
	before, _ = strconv.ParseInt(q.Get("before"), 10, 64)
	limit, _ = strconv.Atoi(q.Get("limit"))
	return before, limit
}
