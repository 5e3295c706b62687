// Package api exposes the progress engine over HTTP/JSON.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hoambaek/lifeos/internal/gamification"
	"github.com/hoambaek/lifeos/internal/observability"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type Server struct {
	engine         *gamification.Engine
	validate       *validator.Validate
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(engine *gamification.Engine, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		engine:         engine,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetupRoutes registers every /api route on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	s.handle(mux, "GET /api/activities", s.handleListActivities)
	s.handle(mux, "GET /api/activities/{date}", s.handleGetActivity)
	s.handle(mux, "PUT /api/activities/{date}", s.handleRecordActivity)

	s.handle(mux, "GET /api/profile", s.handleProfile)
	s.handle(mux, "GET /api/stats", s.handleStats)
	s.handle(mux, "GET /api/xp", s.handleXPHistory)
	s.handle(mux, "POST /api/xp", s.handleGrantXP)

	s.handle(mux, "GET /api/achievements", s.handleAchievements)
	s.handle(mux, "GET /api/achievements/progress", s.handleAchievementProgress)
	s.handle(mux, "GET /api/achievements/{key}", s.handleAchievement)
	s.handle(mux, "POST /api/achievements/evaluate", s.handleEvaluate)

	s.handle(mux, "POST /api/streak/freeze", s.handleUseFreeze)
	s.handle(mux, "GET /api/streak/freezes", s.handleFreezeHistory)

	s.handle(mux, "GET /api/challenges", s.handleListChallenges)
	s.handle(mux, "POST /api/challenges/generate", s.handleGenerateChallenges)
	s.handle(mux, "POST /api/challenges/{id}/progress", s.handleChallengeProgress)
	s.handle(mux, "POST /api/challenges/{id}/claim", s.handleClaimChallenge)
}

// handle wraps h with auth, CORS and request metrics.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	route := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		route = pattern[i+1:]
	}
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveRequest(route, sw.code, time.Since(start))
		}()

		if origin := r.Header.Get("Origin"); origin != "" {
			if !s.checkOrigin(r) {
				http.Error(sw, "origin not allowed", http.StatusForbidden)
				return
			}
			sw.Header().Set("Access-Control-Allow-Origin", origin)
			sw.Header().Set("Vary", "Origin")
		}
		if !s.authorize(r) {
			http.Error(sw, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(sw, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-LifeOS-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// SecurityHeaders sets the static response headers for every route.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gamification.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, gamification.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gamification.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		msg = "internal error"
	}
	writeJSON(w, code, errorResponse{Error: msg})
}
