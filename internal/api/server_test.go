package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoambaek/lifeos/internal/gamification"
	"github.com/hoambaek/lifeos/internal/storage/memory"
)

var testNow = time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, token string) http.Handler {
	t.Helper()
	engine, err := gamification.NewEngine(memory.New(),
		gamification.WithClock(func() time.Time { return testNow }),
		gamification.WithRand(rand.New(rand.NewPCG(1, 2))),
	)
	require.NoError(t, err)
	mux := http.NewServeMux()
	NewServer(engine, nil, token).SetupRoutes(mux)
	return SecurityHeaders(mux)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	SecurityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestAuthorize(t *testing.T) {
	s := NewServer(nil, nil, "tok")
	tests := []struct {
		name  string
		setup func(*http.Request)
		want  bool
	}{
		{"none", func(*http.Request) {}, false},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=tok" }, true},
		{"header", func(r *http.Request) { r.Header.Set("X-LifeOS-Token", "tok") }, true},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok") }, true},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			tt.setup(req)
			if got := s.authorize(req); got != tt.want {
				t.Errorf("authorize() = %v, want %v", got, tt.want)
			}
		})
	}

	if !NewServer(nil, nil, "").authorize(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Error("empty token should allow every request")
	}
}

func TestCheckOrigin(t *testing.T) {
	open := NewServer(nil, nil, "")
	restricted := NewServer(nil, []string{"https://app.example.com"}, "")
	tests := []struct {
		name   string
		server *Server
		origin string
		want   bool
	}{
		{"no origin", open, "", true},
		{"localhost", open, "http://localhost:5173", true},
		{"loopback v6", open, "http://[::1]:3000", true},
		{"foreign", open, "https://evil.example", false},
		{"allowed", restricted, "https://app.example.com", true},
		{"allowed host other scheme", restricted, "http://app.example.com", true},
		{"localhost when restricted", restricted, "http://localhost:5173", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := tt.server.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestUnauthorized(t *testing.T) {
	h := newTestHandler(t, "secret")
	rec := do(t, h, http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/profile?token=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestForeignOriginRejected(t *testing.T) {
	h := newTestHandler(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecordAndReadActivity(t *testing.T) {
	h := newTestHandler(t, "")

	rec := do(t, h, http.MethodPut, "/api/activities/2024-03-06", map[string]any{"water": true, "proteinGrams": 160})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[gamification.ActivityResult](t, rec)
	require.True(t, res.Record.Water)
	require.Len(t, res.Rewards, 2)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(t, h, http.MethodGet, "/api/activities/2024-03-06", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[gamification.ActivityRecord](t, rec)
	require.Equal(t, 160, got.ProteinGrams)

	rec = do(t, h, http.MethodGet, "/api/activities?from=2024-03-01&to=2024-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]gamification.ActivityRecord](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeBody[profileResponse](t, rec)
	require.Equal(t, 30, profile.TotalXP)
	require.Equal(t, 1, profile.Progress.Level)
}

func TestActivityErrors(t *testing.T) {
	h := newTestHandler(t, "")
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"future", http.MethodPut, "/api/activities/2024-03-07", map[string]any{"water": true}, http.StatusBadRequest},
		{"bad date", http.MethodPut, "/api/activities/yesterday", map[string]any{"water": true}, http.StatusBadRequest},
		{"negative protein", http.MethodPut, "/api/activities/2024-03-06", map[string]any{"proteinGrams": -5}, http.StatusBadRequest},
		{"unknown field", http.MethodPut, "/api/activities/2024-03-06", map[string]any{"sleep": 8}, http.StatusBadRequest},
		{"missing", http.MethodGet, "/api/activities/2024-01-01", nil, http.StatusNotFound},
		{"half range", http.MethodGet, "/api/activities?from=2024-01-01", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			require.NotEmpty(t, decodeBody[errorResponse](t, rec).Error)
		})
	}
}

func TestGrantXP(t *testing.T) {
	h := newTestHandler(t, "")

	rec := do(t, h, http.MethodPost, "/api/xp", map[string]any{"amount": 200, "description": "bonus"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[gamification.GrantResult](t, rec)
	require.True(t, res.LeveledUp)
	require.Equal(t, 2, res.Level)

	rec = do(t, h, http.MethodPost, "/api/xp", map[string]any{"amount": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/xp?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]gamification.XPTransaction](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/xp?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAchievementsFlow(t *testing.T) {
	h := newTestHandler(t, "")
	do(t, h, http.MethodPut, "/api/activities/2024-03-06", map[string]any{"workout": true, "workoutCategory": "legs"})

	rec := do(t, h, http.MethodPost, "/api/achievements/evaluate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeBody[gamification.EvaluationResult](t, rec)
	require.NotEmpty(t, first.Unlocked)

	rec = do(t, h, http.MethodPost, "/api/achievements/evaluate", nil)
	second := decodeBody[gamification.EvaluationResult](t, rec)
	require.Empty(t, second.Unlocked)
	require.Equal(t, len(first.Unlocked), second.PreviouslyUnlocked)

	rec = do(t, h, http.MethodGet, "/api/achievements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeBody[[]gamification.AchievementStatus](t, rec))

	rec = do(t, h, http.MethodGet, "/api/achievements/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeBody[map[string]gamification.AchievementProgress](t, rec))

	rec = do(t, h, http.MethodGet, "/api/achievements/first_workout", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decodeBody[gamification.AchievementStatus](t, rec).Unlocked)

	rec = do(t, h, http.MethodGet, "/api/achievements/no_such_key", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFreezeWithoutTokens(t *testing.T) {
	h := newTestHandler(t, "")
	rec := do(t, h, http.MethodPost, "/api/streak/freeze", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/streak/freezes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeBody[[]gamification.FreezeUse](t, rec))
}

func TestChallengeFlow(t *testing.T) {
	h := newTestHandler(t, "")

	rec := do(t, h, http.MethodPost, "/api/challenges/generate", map[string]any{"type": "weekly"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decodeBody[[]gamification.Challenge](t, rec)
	require.Len(t, list, gamification.DefaultWeeklyChallenges)

	rec = do(t, h, http.MethodPost, "/api/challenges/generate", map[string]any{"type": "daily"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	c := list[0]
	claimPath := fmt.Sprintf("/api/challenges/%s/claim", c.ID)
	rec = do(t, h, http.MethodPost, claimPath, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "claim before completion")

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/api/challenges/%s/progress", c.ID), map[string]any{"amount": c.Target})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	upd := decodeBody[gamification.ProgressUpdate](t, rec)
	require.True(t, upd.JustCompleted)

	rec = do(t, h, http.MethodPost, claimPath, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	claim := decodeBody[gamification.ClaimResult](t, rec)
	require.Equal(t, c.XPReward, claim.XPAwarded)

	rec = do(t, h, http.MethodPost, claimPath, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "second claim")

	rec = do(t, h, http.MethodPost, "/api/challenges/nope/claim", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/api/challenges/%s/progress", c.ID), map[string]any{"amount": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/challenges?type=weekly&active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]gamification.Challenge](t, rec), gamification.DefaultWeeklyChallenges)

	rec = do(t, h, http.MethodGet, "/api/challenges?active=maybe", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	h := newTestHandler(t, "")
	do(t, h, http.MethodPut, "/api/activities/2024-03-05", map[string]any{
		"water": true, "cleanDiet": true, "workout": true, "proteinGrams": 150,
	})
	rec := do(t, h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[gamification.Snapshot](t, rec)
	require.Equal(t, 1, snap.PerfectDays)
	require.Equal(t, 1, snap.Current)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusFor(gamification.ErrFutureDate))
	require.Equal(t, http.StatusNotFound, statusFor(gamification.ErrChallengeNotFound))
	require.Equal(t, http.StatusConflict, statusFor(gamification.ErrAlreadyClaimed))
	require.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("disk full")))
}
