package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/airmesh/airmesh-go/pkg/log"
	"github.com/airmesh/airmesh-go/pkg/model"
	"github.com/airmesh/airmesh-go/pkg/session"
	"github.com/airmesh/airmesh-go/pkg/version"
)

// apiKeyHeader carries the write-path credential.
const apiKeyHeader = "X-API-Key"

// ReadingStore is the persistence surface the API needs. *store.Store
// satisfies this.
type ReadingStore interface {
	Insert(ctx context.Context, r model.Reading) error
	Recent(ctx context.Context, deviceID string, limit int) ([]model.Reading, error)
	RecentAll(ctx context.Context, limit int) ([]model.Reading, error)
}

// Config holds server configuration. Zero fields use the defaults.
type Config struct {
	// APIKeyHash is the bcrypt hash the write path checks X-API-Key
	// against. Empty disables write authentication.
	APIKeyHash string

	// HistoryLimit bounds GET /data responses.
	HistoryLimit int

	Logger log.Logger
}

// Server serves the ingest, history and live endpoints.
type Server struct {
	store    ReadingStore
	sessions *session.Manager

	apiKeyHash   string
	historyLimit int
	upgrader     websocket.Upgrader
	logger       log.Logger
}

// NewServer creates the HTTP surface over the given store and session
// manager.
func NewServer(store ReadingStore, sessions *session.Manager, cfg Config) *Server {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &Server{
		store:        store,
		sessions:     sessions,
		apiKeyHash:   cfg.APIKeyHash,
		historyLimit: cfg.HistoryLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: log.OrNoop(cfg.Logger),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /data", s.handleInsert)
	mux.HandleFunc("GET /data", s.handleHistory)
	mux.HandleFunc("GET /live/{device_id}", s.handleLive)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid or missing API key")
		return
	}

	var reading model.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeError(w, http.StatusBadRequest, "malformed reading: "+err.Error())
		return
	}
	if err := reading.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.Insert(r.Context(), reading); err != nil {
		s.logger.Log(log.NewEvent(log.SubsystemAPI, log.CategoryError, "insert failed").
			WithDevice(reading.DeviceID).WithError(err))
		writeError(w, http.StatusInternalServerError, "error inserting data into the database")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Data inserted into the database",
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		readings []model.Reading
		err      error
	)
	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		readings, err = s.store.Recent(r.Context(), deviceID, limit)
	} else {
		readings, err = s.store.RecentAll(r.Context(), limit)
	}
	if err != nil {
		s.logger.Log(log.NewEvent(log.SubsystemAPI, log.CategoryError, "history query failed").
			WithError(err))
		writeError(w, http.StatusInternalServerError, "error querying the database")
		return
	}
	if readings == nil {
		readings = []model.Reading{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": readings})
}

// handleLive upgrades the connection and hands it to the session
// manager. The manager registers the observer before fetching the
// snapshot, so no update published after the upgrade can be missed.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "missing device_id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Log(log.NewEvent(log.SubsystemAPI, log.CategoryError, "websocket upgrade failed").
			WithDevice(deviceID).WithError(err))
		return
	}

	if _, err := s.sessions.Attach(r.Context(), deviceID, session.NewWebSocketTransport(conn)); err != nil {
		s.logger.Log(log.NewEvent(log.SubsystemAPI, log.CategoryError, "session attach failed").
			WithDevice(deviceID).WithError(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

// authorized checks the write-path API key. An empty configured hash
// disables the check.
func (s *Server) authorized(r *http.Request) bool {
	if s.apiKeyHash == "" {
		return true
	}
	key := r.Header.Get(apiKeyHeader)
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.apiKeyHash), []byte(key)) == nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "failed", "error": msg})
}
