// Package api serves the ledger over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VeltarosLabs/powledger/internal/blockchain"
	"github.com/VeltarosLabs/powledger/internal/consensus"
	"github.com/VeltarosLabs/powledger/internal/ledger"
	papi "github.com/VeltarosLabs/powledger/pkg/api"
	"github.com/VeltarosLabs/powledger/pkg/version"
)

type Options struct {
	MineTimeout    time.Duration // 0 = bounded only by the request
	MaxBodyBytes   int64
	APIKey         string
	AllowedOrigins []string
	MineRate       float64
	MineBurst      float64
}

type Server struct {
	svc       *ledger.Service
	log       *zap.Logger
	opts      Options
	limiter   *Limiter
	startedAt time.Time
}

func NewServer(svc *ledger.Service, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.MineRate <= 0 {
		opts.MineRate = 1
	}
	if opts.MineBurst < 1 {
		opts.MineBurst = 5
	}
	return &Server{
		svc:       svc,
		log:       log,
		opts:      opts,
		limiter:   NewLimiter(opts.MineRate, opts.MineBurst),
		startedAt: time.Now().UTC(),
	}
}

// Handler returns the full middleware-wrapped API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/blocks", s.handleBlocks)
	mux.HandleFunc("/blocks/", s.handleBlock)
	mux.HandleFunc("/mineBlock", s.handleMine)
	mux.HandleFunc("/chain/verify", s.handleVerify)
	mux.HandleFunc("/ws", s.handleFeed)

	secured := SecurityMiddleware(SecurityConfig{
		AllowedOrigins: s.opts.AllowedOrigins,
		APIKey:         s.opts.APIKey,
		RequireKeyFor: map[string]bool{
			http.MethodPost + " /mineBlock": true,
			http.MethodPost + " /blocks":    true,
		},
	}, mux)

	return RequestIDMiddleware(AccessLog(s.log, secured))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, papi.Health{
		OK:   true,
		Time: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	chain := s.svc.Chain()
	tip := chain.Tip()
	v := chain.Validator()
	writeJSON(w, http.StatusOK, papi.NodeStatus{
		StartedAt:     s.startedAt.Format(time.RFC3339Nano),
		UptimeSec:     int64(time.Since(s.startedAt).Seconds()),
		Height:        tip.Index,
		Length:        chain.Len(),
		TipHash:       tip.Hash,
		Difficulty:    v.Difficulty(),
		HashAlgorithm: v.Hasher().Algorithm().String(),
		Subscribers:   s.svc.Subscribers(),
	})
}

// handleBlocks lists the chain on GET and accepts an externally mined
// block on POST.
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.svc.Chain().Blocks())
	case http.MethodPost:
		if !s.rateLimit(w, r) {
			return
		}
		body, err := readBodyLimited(r.Body, s.opts.MaxBodyBytes)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), ""))
			return
		}
		b, err := s.svc.Submit(body)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed", ""))
	}
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	chain := s.svc.Chain()
	key := strings.TrimPrefix(r.URL.Path, "/blocks/")
	if key == "latest" {
		writeJSON(w, http.StatusOK, chain.Tip())
		return
	}
	index, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("block index must be a non-negative integer", ""))
		return
	}
	b, ok := chain.Block(index)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("block not found", ""))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if !s.rateLimit(w, r) {
		return
	}

	data, err := s.readPayload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), ""))
		return
	}

	ctx := r.Context()
	if s.opts.MineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.MineTimeout)
		defer cancel()
	}

	b, err := s.svc.CreateBlock(ctx, data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	blocks := s.svc.Chain().Blocks()
	out := papi.VerifyResponse{Valid: true, Length: len(blocks)}
	if err := s.svc.Chain().Validator().ValidateChain(blocks); err != nil {
		out.Valid = false
		out.Error = err.Error()
		if check, ok := blockchain.CheckOf(err); ok {
			out.Reason = check.String()
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// readPayload extracts "data" from a JSON body, or from a form field for
// urlencoded posts. A form value is treated as a JSON string.
func (s *Server) readPayload(r *http.Request) (json.RawMessage, error) {
	body, err := readBodyLimited(r.Body, s.opts.MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("invalid form body")
		}
		if !r.PostForm.Has("data") {
			return nil, errors.New("data is required")
		}
		return json.Marshal(r.PostForm.Get("data"))
	}

	var req papi.MineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	trimmed := bytes.TrimSpace(req.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("data is required")
	}
	return req.Data, nil
}

func (s *Server) rateLimit(w http.ResponseWriter, r *http.Request) bool {
	ok, wait := s.limiter.Allow(r)
	if ok {
		return true
	}
	secs := int(wait/time.Second) + 1
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, errorBody("rate limited", ""))
	return false
}

// writeError maps ledger errors to status codes: malformed blocks 400,
// blocks that do not extend the tip 409, bad hash or work 422, cancelled
// or timed-out mining 503.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if check, ok := blockchain.CheckOf(err); ok {
		status := http.StatusUnprocessableEntity
		switch {
		case errors.Is(err, blockchain.ErrStructure):
			status = http.StatusBadRequest
		case errors.Is(err, blockchain.ErrLinkage):
			status = http.StatusConflict
		}
		writeJSON(w, status, errorBody(err.Error(), check.String()))
		return
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, consensus.ErrSealAborted) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("mining did not finish: "+err.Error(), ""))
		return
	}

	s.log.Error("unexpected ledger error", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error", ""))
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed", ""))
	return false
}

func errorBody(msg, reason string) papi.ErrorResponse {
	return papi.ErrorResponse{OK: false, Error: msg, Reason: reason}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBodyLimited(r io.Reader, limit int64) ([]byte, error) {
	lr := io.LimitReader(r, limit+1)
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errors.New("request too large")
	}
	return b, nil
}
