package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"regchat/rag"
	"regchat/security"
	"regchat/store"
)

// Server is the HTTP front of the chatbot: the chat endpoint, the username
// registry, and the websocket relay. Every request-time path runs through
// the supervisor chain: validation, per-identifier rate limiting, audit
// logging, and outbound sanitization.
type Server struct {
	pipeline   *rag.Pipeline
	users      *store.Store
	limiter    *security.Limiter
	audit      *security.Auditor
	production bool

	upgrader websocket.Upgrader
}

// API request/response types.
type ChatRequest struct {
	Query string `json:"query"`
}

type ChatResponse struct {
	TextResponse string      `json:"text_response"`
	Images       []rag.Image `json:"images"`
}

type RegisterRequest struct {
	Username string `json:"username"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// New creates a server around the answer pipeline and user store.
func New(pipeline *rag.Pipeline, users *store.Store, limiter *security.Limiter, audit *security.Auditor, production bool) *Server {
	return &Server{
		pipeline:   pipeline,
		users:      users,
		limiter:    limiter,
		audit:      audit,
		production: production,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", s.handleChat).Methods("POST")
	api.HandleFunc("/users", s.handleRegister).Methods("POST")
	api.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	return requestLogger(c.Handler(r))
}

// Start runs the HTTP server until it fails.
func Start(s *Server, addr string) error {
	log.Info().Str("addr", addr).Msg("chat server starting")
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"retrievable": s.pipeline.Retrievable(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	identifier := clientIdentifier(r)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, identifier, "MALFORMED_REQUEST",
			fmt.Errorf("%w: malformed request body", security.ErrInvalidInput))
		return
	}

	query, err := security.ValidateQuery(req.Query)
	if err != nil {
		s.reject(w, identifier, "VALIDATION_FAILURE", err)
		return
	}

	if ok, retryAfter := s.limiter.Allow(identifier); !ok {
		s.audit.Warn("RATE_LIMIT_EXCEEDED", identifier, "chat request rejected")
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
		s.respondJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      security.SafeMessage(security.ErrRateLimited, s.production),
			RetryAfter: retrySeconds(retryAfter),
		})
		return
	}

	answer, err := s.pipeline.Answer(r.Context(), query)
	if err != nil {
		s.audit.Error("ANSWER_FAILURE", identifier, err.Error())
		log.Error().Err(err).Str("identifier", identifier).Msg("answer pipeline failed")
		s.respondJSON(w, http.StatusBadGateway, errorResponse{
			Error: security.SafeMessage(err, s.production),
		})
		return
	}

	s.audit.Info("CHAT_SERVED", identifier, "chat request served")
	s.respondJSON(w, http.StatusOK, ChatResponse{
		TextResponse: security.SanitizeOutput(answer.Text),
		Images:       answer.Images,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	identifier := clientIdentifier(r)

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, identifier, "MALFORMED_REQUEST",
			fmt.Errorf("%w: malformed request body", security.ErrInvalidInput))
		return
	}

	if err := security.ValidateUsername(req.Username); err != nil {
		s.audit.Warn("VALIDATION_FAILURE", identifier, "username rejected")
		s.respondJSON(w, http.StatusBadRequest, RegisterResponse{
			Success: false,
			Message: security.SafeMessage(err, s.production),
		})
		return
	}

	if ok, retryAfter := s.limiter.Allow(identifier); !ok {
		s.audit.Warn("RATE_LIMIT_EXCEEDED", identifier, "registration rejected")
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
		s.respondJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      security.SafeMessage(security.ErrRateLimited, s.production),
			RetryAfter: retrySeconds(retryAfter),
		})
		return
	}

	err := s.users.Register(r.Context(), req.Username)
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		s.audit.Info("USERNAME_CONFLICT", identifier, req.Username)
		s.respondJSON(w, http.StatusConflict, RegisterResponse{
			Success: false,
			Message: "Username already taken",
		})
	case err != nil:
		log.Error().Err(err).Msg("user registration failed")
		s.respondJSON(w, http.StatusInternalServerError, RegisterResponse{
			Success: false,
			Message: security.SafeMessage(err, s.production),
		})
	default:
		s.audit.Info("USER_REGISTERED", identifier, req.Username)
		s.respondJSON(w, http.StatusOK, RegisterResponse{Success: true})
	}
}

// handleWebSocket relays free-text chat messages. Each connection gets its
// own rate-limit identifier; failures are sent back as error-prefixed text
// so the client keeps a single message shape.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	identifier := "ws:" + conn.RemoteAddr().String()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		reply := s.chatReply(r.Context(), identifier, string(message))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			return
		}
	}
}

// chatReply runs the supervised chat path for one websocket message.
func (s *Server) chatReply(ctx context.Context, identifier, message string) string {
	query, err := security.ValidateQuery(message)
	if err != nil {
		s.audit.Warn("VALIDATION_FAILURE", identifier, "websocket message rejected")
		return "error: " + security.SafeMessage(err, s.production)
	}

	if err := s.limiter.Check(identifier); err != nil {
		s.audit.Warn("RATE_LIMIT_EXCEEDED", identifier, "websocket message rejected")
		return "error: " + security.SafeMessage(err, s.production)
	}

	answer, err := s.pipeline.Answer(ctx, query)
	if err != nil {
		s.audit.Error("ANSWER_FAILURE", identifier, err.Error())
		return "error: " + security.SafeMessage(err, s.production)
	}

	s.audit.Info("CHAT_SERVED", identifier, "websocket message served")
	return security.SanitizeOutput(answer.Text)
}

func (s *Server) reject(w http.ResponseWriter, identifier, event string, err error) {
	s.audit.Warn(event, identifier, err.Error())
	s.respondJSON(w, http.StatusBadRequest, errorResponse{
		Error: security.SafeMessage(err, s.production),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

// clientIdentifier picks the rate-limit key for an HTTP request: the first
// forwarded address when present, otherwise the peer address.
func clientIdentifier(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retrySeconds rounds a retry-after duration up to a positive whole second.
func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// requestLogger logs each request with method, path, status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
