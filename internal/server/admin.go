package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"PerpClear/internal/risk"
)

func (s *Server) handleSetRiskParams(w http.ResponseWriter, r *http.Request) {
	var req riskParamsRequest
	if err := decode(r, &req); err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	penaltyCap, err := parseAmount(req.PenaltyCap)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	minSize, err := parseAmount(req.MinPositionSize)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	maxSize, err := parseAmount(req.MaxPositionSize)
	if err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	err = s.engine.SetRiskParams(bearerToken(r), &risk.Params{
		MarketID:              req.MarketID,
		IMRBps:                req.IMRBps,
		MMRBps:                req.MMRBps,
		LiquidationPenaltyBps: req.LiquidationPenaltyBps,
		PenaltyCapX18:         penaltyCap,
		LiquidatorShareBps:    req.LiquidatorShareBps,
		MinPositionSizeX18:    minSize,
		MaxPositionSizeX18:    maxSize,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"market_id": req.MarketID, "status": "updated"})
}

func (s *Server) handlePauseMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	var req pauseRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}
	if err := s.engine.PauseMarket(bearerToken(r), marketID, req.Reason); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"market_id": marketID, "status": "paused"})
}

func (s *Server) handleResumeMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if err := s.engine.ResumeMarket(bearerToken(r), marketID); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"market_id": marketID, "status": "resumed"})
}

func (s *Server) handleResetReserves(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	var req resetReservesRequest
	if err := decode(r, &req); err != nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	newPrice, err := parseAmount(req.NewPrice)
	if err != nil || newPrice == nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: "malformed new_price"})
		return
	}
	newBase, err := parseAmount(req.NewBase)
	if err != nil || newBase == nil {
		respond(w, http.StatusBadRequest, errorResponse{Error: "malformed new_base"})
		return
	}

	ev, err := s.engine.ResetReserves(bearerToken(r), marketID, newPrice, newBase)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, ev)
}
