package httpapi

import (
	"net/http"

	"energy-ledger-go/internal/models"

	"github.com/go-chi/chi/v5"
)

func (s *Server) listActive(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.ListActive(r.Context()))
}

func (s *Server) createListing(w http.ResponseWriter, r *http.Request) {
	var req models.CreateListingRequest
	if !decode(w, r, &req) {
		return
	}
	res := s.engine.CreateListing(r.Context(), req)
	if res.Success {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(w, res)
}

func (s *Server) getListing(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.GetListing(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) cancelListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallerId string `json:"caller_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeResult(w, s.engine.CancelListing(r.Context(), chi.URLParam(r, "id"), req.CallerId))
}

func (s *Server) executeTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuyerId string `json:"buyer_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeResult(w, s.engine.ExecuteTrade(r.Context(), chi.URLParam(r, "id"), req.BuyerId))
}

func (s *Server) userTrades(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.GetUserTrades(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) userListings(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.GetUserListings(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) mintRecords(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.GetAccountMintRecords(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) burnRecords(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.GetAccountBurnRecords(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) accountEnergy(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.GetEnergyStats(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.GetProfile(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) registerProfile(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterProfileRequest
	if !decode(w, r, &req) {
		return
	}
	req.AccountId = chi.URLParam(r, "id")
	writeResult(w, s.engine.RegisterProfile(r.Context(), req))
}

func (s *Server) tradingStats(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.GetTradingStats(r.Context()))
}

func (s *Server) energyStats(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.GetEnergyStats(r.Context(), ""))
}

func (s *Server) processReading(w http.ResponseWriter, r *http.Request) {
	var reading models.MeterReading
	if !decode(w, r, &reading) {
		return
	}
	writeResult(w, s.engine.ProcessReading(r.Context(), reading))
}

// processReadings answers 207 when some items failed; per-item outcomes are in data.
func (s *Server) processReadings(w http.ResponseWriter, r *http.Request) {
	var readings []models.MeterReading
	if !decode(w, r, &readings) {
		return
	}
	res := s.engine.ProcessReadings(r.Context(), readings)
	if !res.Success && res.Data != nil {
		writeJSON(w, http.StatusMultiStatus, res)
		return
	}
	writeResult(w, res)
}

func (s *Server) checkWallet(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.CheckWalletMapping(r.Context(), chi.URLParam(r, "address")))
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.CreateAccountForWallet(r.Context(), chi.URLParam(r, "address")))
}

func (s *Server) associateToken(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.engine.AssociateTokenForWallet(r.Context(), chi.URLParam(r, "address")))
}
