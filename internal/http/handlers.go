package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/job-dispatch/internal/dispatch"
	"github.com/example/job-dispatch/internal/ingest"
	"github.com/example/job-dispatch/internal/lifecycle"
	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/observability"
	"github.com/example/job-dispatch/internal/presence"
	"github.com/example/job-dispatch/internal/storage"
)

const callerHeader = "X-Caller-ID"

type Server struct {
	Presence   presence.Store
	Registry   *dispatch.Registry
	Controller *lifecycle.Controller
	Kafka      *ingest.KafkaProducer // optional

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, ps presence.Store, reg *dispatch.Registry, ctrl *lifecycle.Controller, kp *ingest.KafkaProducer) *Server {
	s := &Server{
		Presence:   ps,
		Registry:   reg,
		Controller: ctrl,
		Kafka:      kp,
		logger:     logger,
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/providers/locations", s.handleLocationReport).Methods("POST")
	s.mux.HandleFunc("/api/v1/providers/{provider_id}/offline", s.handleProviderOffline).Methods("POST")
	s.mux.HandleFunc("/api/v1/providers/{provider_id}/jobs", s.handleProviderJobs).Methods("GET")
	s.mux.HandleFunc("/api/v1/customers/{customer_id}/jobs", s.handleCustomerJobs).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings", s.handleBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}", s.handleGetJob).Methods("GET")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/providers/{provider_id}", s.handleProviderWS)
	s.mux.HandleFunc("/ws/customers/{customer_id}", s.handleCustomerWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// handleLocationReport ingests a periodic coordinate update. It is applied
// to the local presence store and, when kafka is configured, published for
// other consumers.
func (s *Server) handleLocationReport(w http.ResponseWriter, r *http.Request) {
	var rep models.LocationReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rep.ProviderID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(rep); err != nil {
			s.logger.Warn("location publish failed", "provider_id", rep.ProviderID, "error", err)
		}
	}
	s.Presence.ReportLocation(rep)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProviderOffline(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider_id"]
	if r.Header.Get(callerHeader) == "" {
		s.writeError(w, lifecycle.ErrNotAuthenticated)
		return
	}
	s.Presence.SetOnline(providerID, false)
	s.Registry.RemoveProvider(providerID)
	observability.ProvidersOnline.Dec()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBooking(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := s.Controller.DispatchBooking(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Unfulfilled {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Controller.GetJob(r.Context(), r.Header.Get(callerHeader), mux.Vars(r)["job_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	job, err := s.Controller.Start(r.Context(), r.Header.Get(callerHeader), mux.Vars(r)["job_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job, err := s.Controller.Complete(r.Context(), r.Header.Get(callerHeader), mux.Vars(r)["job_id"], body.PIN)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job, err := s.Controller.Cancel(r.Context(), r.Header.Get(callerHeader), mux.Vars(r)["job_id"], body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleProviderJobs(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(callerHeader) == "" {
		s.writeError(w, lifecycle.ErrNotAuthenticated)
		return
	}
	jobs, err := s.Controller.Store.ListByProvider(r.Context(), mux.Vars(r)["provider_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCustomerJobs(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(callerHeader) == "" {
		s.writeError(w, lifecycle.ErrNotAuthenticated)
		return
	}
	jobs, err := s.Controller.Store.ListByCustomer(r.Context(), mux.Vars(r)["customer_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

var upgrader = websocket.Upgrader{}

// handleProviderWS opens the provider's dispatch channel. Connecting marks
// the provider online; the registry tears presence back down on disconnect.
func (s *Server) handleProviderWS(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.Registry.AddProvider(providerID, conn)
	s.Presence.SetOnline(providerID, true)
	observability.ProvidersOnline.Inc()
}

func (s *Server) handleCustomerWS(w http.ResponseWriter, r *http.Request) {
	customerID := mux.Vars(r)["customer_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.Registry.AddCustomer(customerID, conn)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	type errBody struct {
		Error        string `json:"error"`
		CurrentState string `json:"current_state,omitempty"`
	}
	var invalid *lifecycle.InvalidTransitionError
	var validation *lifecycle.ValidationError
	switch {
	case errors.Is(err, lifecycle.ErrNotAuthenticated):
		s.writeJSON(w, http.StatusUnauthorized, errBody{Error: err.Error()})
	case errors.Is(err, lifecycle.ErrVerificationFailed):
		s.writeJSON(w, http.StatusForbidden, errBody{Error: err.Error()})
	case errors.As(err, &invalid):
		s.writeJSON(w, http.StatusConflict, errBody{Error: err.Error(), CurrentState: string(invalid.From)})
	case errors.As(err, &validation):
		s.writeJSON(w, http.StatusBadRequest, errBody{Error: err.Error()})
	case isNotFound(err):
		s.writeJSON(w, http.StatusNotFound, errBody{Error: err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errBody{Error: "internal error"})
	}
}

func isNotFound(err error) bool { return errors.Is(err, storage.ErrJobNotFound) }
