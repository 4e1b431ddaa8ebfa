package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"matrixfund/application"
	"matrixfund/domain/entities"
	"matrixfund/domain/services"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// CallerHeader carries the address of the account making the request.
// Authenticating it is the job of the gateway in front of this server.
const CallerHeader = "X-Caller-Address"

// Ledger is the engine surface exposed over HTTP
type Ledger interface {
	Register(ctx context.Context, sponsor, user entities.UserID, tier entities.PackageTier) (*services.RegistrationResult, error)
	UpgradePackage(ctx context.Context, user entities.UserID, tier entities.PackageTier) (*services.RegistrationResult, error)
	Withdraw(ctx context.Context, user entities.UserID) (*services.WithdrawalResult, error)
	GetWithdrawalQuote(ctx context.Context, user entities.UserID) (*services.WithdrawalQuote, error)
	GetUser(ctx context.Context, id entities.UserID) (*application.UserSummary, error)
	GetCredits(ctx context.Context, id entities.UserID, limit int) ([]*entities.Credit, error)
	GetWithdrawals(ctx context.Context, id entities.UserID, limit int) ([]*entities.Withdrawal, error)
	GetPools(ctx context.Context) ([]*entities.Pool, error)
	GetMatrixNode(ctx context.Context, id entities.UserID) (*entities.MatrixNode, error)

	CheckUpkeep(ctx context.Context) (*services.UpkeepStatus, error)
	PerformDistribution(ctx context.Context) (*services.DistributionResult, error)
	ResetCircuitBreaker(ctx context.Context, actor entities.UserID, job entities.PoolType) error
	GetAutomationStates(ctx context.Context) ([]*entities.AutomationState, error)

	ProposeTreasuryAction(ctx context.Context, params services.ProposeParams) (*entities.TreasuryProposal, error)
	ApproveTreasuryAction(ctx context.Context, id int64, signer entities.UserID) (*entities.TreasuryProposal, error)
	CancelTreasuryAction(ctx context.Context, id int64, proposer entities.UserID) (*entities.TreasuryProposal, error)
	CleanupExpiredProposals(ctx context.Context) (int, error)
	EmergencyPause(ctx context.Context, actor entities.UserID, reason string) error
	SetBlacklisted(ctx context.Context, actor, target entities.UserID, blacklisted bool) error
	GrantRole(ctx context.Context, actor, target entities.UserID, role entities.Role) error
	RevokeRole(ctx context.Context, actor, target entities.UserID, role entities.Role) error
	ListActiveProposals(ctx context.Context) ([]*entities.TreasuryProposal, error)
	HasApproved(ctx context.Context, id int64, signer entities.UserID) (bool, error)
	GetGovernanceState(ctx context.Context) (*entities.GovernanceState, error)
}

// ServerConfig holds the listener and throttling settings
type ServerConfig struct {
	Addr           string
	RateLimit      float64
	RateLimitBurst int
}

// Server serves the ledger HTTP API
type Server struct {
	ledger     Ledger
	router     *mux.Router
	limiter    *RateLimiter
	httpServer *http.Server
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a server with all routes registered
func NewServer(ledger Ledger, cfg ServerConfig) *Server {
	s := &Server{
		ledger:  ledger,
		router:  mux.NewRouter(),
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst),
		stop:    make(chan struct{}),
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.limiter.Middleware)

	v1.HandleFunc("/users", s.handleRegister).Methods(http.MethodPost)
	v1.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/upgrade", s.handleUpgrade).Methods(http.MethodPost)
	v1.HandleFunc("/users/{id}/withdrawal-quote", s.handleWithdrawalQuote).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	v1.HandleFunc("/users/{id}/credits", s.handleGetCredits).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/withdrawals", s.handleGetWithdrawals).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/matrix", s.handleGetMatrixNode).Methods(http.MethodGet)
	v1.HandleFunc("/pools", s.handleGetPools).Methods(http.MethodGet)

	v1.HandleFunc("/distribution/upkeep", s.handleCheckUpkeep).Methods(http.MethodGet)
	v1.HandleFunc("/distribution/perform", s.handlePerformDistribution).Methods(http.MethodPost)
	v1.HandleFunc("/distribution/automation", s.handleGetAutomation).Methods(http.MethodGet)
	v1.HandleFunc("/distribution/{job}/reset", s.handleResetBreaker).Methods(http.MethodPost)

	v1.HandleFunc("/governance", s.handleGetGovernance).Methods(http.MethodGet)
	v1.HandleFunc("/governance/pause", s.handlePause).Methods(http.MethodPost)
	v1.HandleFunc("/governance/blacklist/{id}", s.handleSetBlacklisted).Methods(http.MethodPut)
	v1.HandleFunc("/governance/roles/{role}/{id}", s.handleGrantRole).Methods(http.MethodPut)
	v1.HandleFunc("/governance/roles/{role}/{id}", s.handleRevokeRole).Methods(http.MethodDelete)

	v1.HandleFunc("/proposals", s.handleListProposals).Methods(http.MethodGet)
	v1.HandleFunc("/proposals", s.handlePropose).Methods(http.MethodPost)
	v1.HandleFunc("/proposals/cleanup", s.handleCleanupProposals).Methods(http.MethodPost)
	v1.HandleFunc("/proposals/{id:[0-9]+}/approve", s.handleApprove).Methods(http.MethodPost)
	v1.HandleFunc("/proposals/{id:[0-9]+}/cancel", s.handleCancel).Methods(http.MethodPost)
	v1.HandleFunc("/proposals/{id:[0-9]+}/approvals/{signer}", s.handleHasApproved).Methods(http.MethodGet)
}

// Handler returns the root handler with request logging
func (s *Server) Handler() http.Handler {
	return requestLogger(s.router)
}

// Start listens in the background until Shutdown is called
func (s *Server) Start() {
	go func() {
		log.WithField("addr", s.httpServer.Addr).Info("HTTP API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP API stopped unexpectedly")
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.limiter.Sweep()
			}
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
