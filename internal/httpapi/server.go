// Package httpapi exposes the engine facade over HTTP with JSON envelopes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"energy-ledger-go/internal/api"
	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/models"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Server struct {
	engine *api.EngineService
	router http.Handler
}

func New(engine *api.EngineService) *Server {
	s := &Server{engine: engine}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestContext)
	r.Use(accessLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Route("/listings", func(lr chi.Router) {
			lr.Get("/", s.listActive)
			lr.Post("/", s.createListing)
			lr.Get("/{id}", s.getListing)
			lr.Post("/{id}/cancel", s.cancelListing)
			lr.Post("/{id}/trades", s.executeTrade)
		})
		v1.Route("/accounts/{id}", func(ar chi.Router) {
			ar.Get("/trades", s.userTrades)
			ar.Get("/listings", s.userListings)
			ar.Get("/mints", s.mintRecords)
			ar.Get("/burns", s.burnRecords)
			ar.Get("/energy", s.accountEnergy)
			ar.Get("/profile", s.getProfile)
			ar.Put("/profile", s.registerProfile)
		})
		v1.Get("/stats/trading", s.tradingStats)
		v1.Get("/stats/energy", s.energyStats)
		v1.Post("/readings", s.processReading)
		v1.Post("/readings/batch", s.processReadings)
		v1.Route("/wallets/{address}", func(wr chi.Router) {
			wr.Get("/", s.checkWallet)
			wr.Post("/account", s.createAccount)
			wr.Post("/association", s.associateToken)
		})
	})
	return r
}

// requestContext copies the chi request id into the engine context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := models.WithRequestId(r.Context(), chimw.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("HTTP request",
			zap.String("request_id", models.GetRequestId(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.engine.HealthCheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, models.Result{
			ErrorKind: string(errs.KindPersistenceUnavailable),
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Success: true, Data: map[string]string{"status": "ok"}})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind string) int {
	switch errs.Kind(kind) {
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidState, errs.KindNotAssociated:
		return http.StatusConflict
	case errs.KindInsufficientBalance, errs.KindLedgerRejected:
		return http.StatusUnprocessableEntity
	case errs.KindLedgerUnavailable, errs.KindPersistenceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, res models.Result) {
	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.ErrorKind)
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

// decode reads a JSON body into v. On failure it writes the error response and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "invalid request body: " + err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "request body too large"
		}
		writeResult(w, models.Result{ErrorKind: string(errs.KindInvalidInput), Error: msg})
		return false
	}
	return true
}
