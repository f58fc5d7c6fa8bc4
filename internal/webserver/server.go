// Package webserver is the HTTP gateway of the training desk: a JSON API for
// the chat bridge and staff tools, plus a server-sent event stream of
// notifications.
package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tejzpr/training-desk/internal/auth"
	"github.com/tejzpr/training-desk/internal/cooldown"
	"github.com/tejzpr/training-desk/internal/db"
	"github.com/tejzpr/training-desk/internal/errcodes"
	"github.com/tejzpr/training-desk/internal/notify"
	"github.com/tejzpr/training-desk/internal/workflow"
)

const healthMagic = "training-desk-ok"

type Server struct {
	desk     workflow.Desk
	tokens   *auth.Tokens
	broker   *notify.Broker
	limiter  *Limiter
	reviewer string
	logger   *slog.Logger
}

type Option func(*Server)

func WithBroker(b *notify.Broker) Option { return func(s *Server) { s.broker = b } }

func WithLimiter(l *Limiter) Option { return func(s *Server) { s.limiter = l } }

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithReviewerClaim lets holders of claim observe every notification on the
// event stream instead of only their own.
func WithReviewerClaim(claim string) Option { return func(s *Server) { s.reviewer = claim } }

func New(desk workflow.Desk, tokens *auth.Tokens, opts ...Option) *Server {
	s := &Server{
		desk:   desk,
		tokens: tokens,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/errors", handleListErrors)
	mux.HandleFunc("GET /api/errors/{code}", handleErrorInfo)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("OPTIONS /api/", handleCORS)

	mux.Handle("POST /api/trainings/standard", s.authenticated(s.handleSubmitStandard))
	mux.Handle("POST /api/trainings/elevated", s.authenticated(s.handleSubmitElevated))
	mux.Handle("POST /api/trainings/{id}/accept", s.authenticated(s.handleAccept))
	mux.Handle("GET /api/trainings", s.authenticated(s.handleList))
	mux.Handle("GET /api/trainings/{id}", s.authenticated(s.handleGet))
	mux.Handle("POST /api/results", s.authenticated(s.handleLogResult))

	return corsMiddleware(mux)
}

// Start binds addr and serves until ctx is done. When addr is already held by
// another training desk it returns primary=false and nil so the caller can
// forward commands to that instance with a Client.
func (s *Server) Start(ctx context.Context, addr string) (primary bool, err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if IsRunning("http://" + addr) {
			return false, nil
		}
		return false, fmt.Errorf("address %s in use by unknown process: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http gateway stopped", "error", err)
		}
	}()
	s.logger.Info("http gateway listening", "addr", ln.Addr().String())
	return true, nil
}

// IsRunning checks whether baseURL is served by a training desk.
func IsRunning(baseURL string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Status == healthMagic
}

type actorKey struct{}

func actorFrom(r *http.Request) auth.Actor {
	a, _ := r.Context().Value(actorKey{}).(auth.Actor)
	return a
}

// authenticated verifies the bearer token, applies the per-actor rate limit
// and passes the actor on in the request context.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.tokens.ParseBearer(r.Header.Get("Authorization"))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Message: "missing/invalid Authorization header"})
			return
		}
		if s.limiter != nil {
			if ok, retry := s.limiter.Allow(actor.ID); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
				writeJSON(w, http.StatusTooManyRequests, errorBody{Message: http.StatusText(http.StatusTooManyRequests)})
				return
			}
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

type errorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type submitResponse struct {
	*workflow.SubmitResult
	Message string `json:"message"`
}

func (s *Server) handleSubmitStandard(w http.ResponseWriter, r *http.Request) {
	var cmd workflow.SubmitStandard
	if !decode(w, r, &cmd) {
		return
	}
	res, err := s.desk.SubmitStandard(r.Context(), actorFrom(r), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{SubmitResult: res, Message: res.Reply()})
}

func (s *Server) handleSubmitElevated(w http.ResponseWriter, r *http.Request) {
	var cmd workflow.SubmitElevated
	if !decode(w, r, &cmd) {
		return
	}
	res, err := s.desk.SubmitElevated(r.Context(), actorFrom(r), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{SubmitResult: res, Message: res.Reply()})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	res, err := s.desk.Accept(r.Context(), actorFrom(r), workflow.Accept{ID: r.PathValue("id")})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogResult(w http.ResponseWriter, r *http.Request) {
	var cmd workflow.LogResult
	if !decode(w, r, &cmd) {
		return
	}
	res, err := s.desk.LogResult(r.Context(), actorFrom(r), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.desk.Get(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := workflow.ListQuery{
		Status:      db.Status(r.URL.Query().Get("status")),
		Category:    db.Category(strings.ToUpper(r.URL.Query().Get("category"))),
		SubmitterID: r.URL.Query().Get("submitter_id"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: errcodes.InvalidInput, Message: "invalid limit"})
			return
		}
		q.Limit = n
	}

	requests, err := s.desk.List(r.Context(), actorFrom(r), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if requests == nil {
		requests = []db.Request{}
	}
	writeJSON(w, http.StatusOK, requests)
}

func handleListErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, errcodes.All())
}

func handleErrorInfo(w http.ResponseWriter, r *http.Request) {
	entry, ok := errcodes.Lookup(r.PathValue("code"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Message: fmt.Sprintf("The error code %s does not exist or is invalid.", strings.ToUpper(r.PathValue("code")))})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": healthMagic})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

func handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams notifications. Reviewers see every notification; other
// members see only those addressed to them. EventSource cannot set headers,
// so the token may also come as ?token=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		http.Error(w, "event stream not available", http.StatusNotFound)
		return
	}
	actor, err := s.tokens.ParseBearer(r.Header.Get("Authorization"))
	if err != nil {
		actor, err = s.tokens.Parse(r.URL.Query().Get("token"))
	}
	if err != nil {
		http.Error(w, "missing/invalid token", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subscriber := actor.ID
	if actor.Has(s.reviewer) {
		subscriber = ""
	}
	ch := s.broker.Subscribe(subscriber)
	defer s.broker.Unsubscribe(ch)

	fmt.Fprintf(w, ": keepalive\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: workflow.Code(err), Message: workflow.Message(err)}

	var remaining *cooldown.RemainingError
	switch {
	case errors.As(err, &remaining):
		w.Header().Set("Retry-After", strconv.Itoa(remaining.Seconds()))
		writeJSON(w, http.StatusTooManyRequests, body)
	case errors.Is(err, workflow.ErrNotAuthorized):
		writeJSON(w, http.StatusForbidden, body)
	case errors.Is(err, workflow.ErrNotEligible), errors.Is(err, workflow.ErrInvalidCommand):
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.Is(err, workflow.ErrNotFound):
		writeJSON(w, http.StatusNotFound, body)
	case errors.Is(err, workflow.ErrAlreadyAccepted):
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, workflow.ErrDeliveryFailed):
		writeJSON(w, http.StatusBadGateway, body)
	default:
		s.logger.Error("internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: errcodes.InvalidInput, Message: "invalid body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
