// Package httpapi exposes the realtime endpoint plus the small REST surface
// around it: snapshot reads, health, stats and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
	"github.com/Rojas22bt/diagamaIA-sub001/protocol"
	"github.com/Rojas22bt/diagamaIA-sub001/session"
	ws "github.com/Rojas22bt/diagamaIA-sub001/websocket"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Manager        *session.Manager
	Handler        *protocol.Handler
	Verifier       session.Verifier
	Access         session.Authorizer
	Diagrams       domain.DiagramStore
	Rooms          domain.Registry
	Gatherer       prometheus.Gatherer
	DB             Pinger
	AllowedOrigins []string
}

type Server struct {
	deps     Deps
	upgrader websocket.Upgrader
	baseCtx  context.Context
}

// New builds the API server. Cancelling baseCtx closes every realtime
// connection it accepted.
func New(baseCtx context.Context, deps Deps) *Server {
	s := &Server{deps: deps, baseCtx: baseCtx}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.deps.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.deps.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(accessLog)

	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveWS)
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.healthHandler)
	r.Methods(http.MethodGet).Path("/stats").HandlerFunc(s.statsHandler)
	if s.deps.Gatherer != nil {
		r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireIdentity)
	api.Methods(http.MethodGet).Path("/projects/{projectId:[0-9]+}/diagram").HandlerFunc(s.getDiagram)
	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			slog.Debug("upgrade", "url", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}
		m := httpsnoop.CaptureMetrics(next, w, r)
		slog.Info("handled", "method", r.Method, "url", r.URL.Path, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "error", err)
		return
	}

	wsConn := ws.NewConn(uuid.New().String(), conn)
	sess, err := s.deps.Manager.Open(r.Context(), wsConn, r.URL.Query().Get("token"))
	if err != nil {
		reason := "Authentication error: invalid token"
		if errors.Is(err, domain.ErrMissingCredential) {
			reason = "Authentication error: no token provided"
		}
		wsConn.Reject(reason)
		return
	}

	wsConn.Start(s.baseCtx, s.deps.Handler.Bind(sess))
}

const healthTimeout = 2 * time.Second

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			slog.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, clients := s.deps.Rooms.Stats()
	writeJSON(w, http.StatusOK, map[string]int{"rooms": rooms, "clients": clients})
}

type identityKey struct{}

func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, err := s.deps.Verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

type diagramResponse struct {
	ProjectID   int64           `json:"projectId"`
	DiagramData json.RawMessage `json:"diagramData"`
}

func (s *Server) getDiagram(w http.ResponseWriter, r *http.Request) {
	id := r.Context().Value(identityKey{}).(domain.Identity)
	projectID, err := strconv.ParseInt(mux.Vars(r)["projectId"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	if _, err := s.deps.Access.Authorize(r.Context(), id.UserID, projectID); err != nil {
		if errors.Is(err, domain.ErrNoAccess) {
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		slog.Error("access check failed", "projectId", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not verify access")
		return
	}

	data, err := s.deps.Diagrams.LoadDiagram(r.Context(), projectID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		slog.Error("load diagram failed", "projectId", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load diagram")
		return
	}

	resp := diagramResponse{ProjectID: projectID, DiagramData: json.RawMessage("null")}
	switch {
	case data == "":
	case json.Valid([]byte(data)):
		resp.DiagramData = json.RawMessage(data)
	default:
		resp.DiagramData, _ = json.Marshal(data)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
