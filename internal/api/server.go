package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartmed/interaction-engine/internal/alerting"
	"github.com/smartmed/interaction-engine/internal/checking"
	"github.com/smartmed/interaction-engine/internal/config"
	"github.com/smartmed/interaction-engine/internal/models"
	"github.com/smartmed/interaction-engine/internal/storage"
)

// Materializer persists alerts for findings (satisfied by alerting.Service).
type Materializer interface {
	Materialize(ctx context.Context, userID string, findings []models.InteractionFinding) (*alerting.Outcome, error)
}

// SweepRunner triggers a full-population sweep (satisfied by sweep.Coordinator).
type SweepRunner interface {
	RunSweep(ctx context.Context) (*models.SweepReport, error)
}

// Server exposes the engine's trigger surface over HTTP: the on-demand
// check callable, the interaction-details callable, the
// substance-created event hook, and the manual sweep trigger.
type Server struct {
	config   *config.Config
	checker  *checking.Service
	resolver checking.Resolver
	alerts   Materializer
	store    storage.ProfileStore
	sweeper  SweepRunner
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, checker *checking.Service, resolver checking.Resolver,
	alerts Materializer, store storage.ProfileStore, sweeper SweepRunner) *Server {
	return &Server{
		config:   cfg,
		checker:  checker,
		resolver: resolver,
		alerts:   alerts,
		store:    store,
		sweeper:  sweeper,
	}
}

// Router builds the HTTP route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	// Unauthenticated operational endpoints
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")

	// Authenticated API
	api := router.PathPrefix("/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/interactions/check", s.handleCheckInteractions).Methods("POST")
	api.HandleFunc("/interactions/{pairId}", s.handleInteractionDetails).Methods("GET")
	api.HandleFunc("/events/substance-created", s.handleSubstanceCreated).Methods("POST")
	api.HandleFunc("/alerts", s.handleListAlerts).Methods("GET")

	trigger := router.PathPrefix("/trigger").Subrouter()
	trigger.Use(s.authMiddleware)
	trigger.HandleFunc("/sweep", s.handleTriggerSweep).Methods("POST")

	return router
}

type contextKey string

const userIDKey contextKey = "userID"

// authMiddleware verifies the HS256 bearer token and stores the subject
// claim as the caller's user id.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeFault(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		claims := &jwt.RegisteredClaims{}

		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(s.config.JWTSecret), nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			writeFault(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) string {
	if userID, ok := r.Context().Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}

// fault is the wire shape of every error response. Codes follow the
// mobile client's callable-error vocabulary.
type fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeFault(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, fault{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.checker.GetMetrics()))
}

func (s *Server) handleTriggerSweep(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := s.sweeper.RunSweep(context.Background()); err != nil {
			logrus.Errorf("Manual sweep trigger failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Sweep triggered"})
}
