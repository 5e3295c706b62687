package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hoambaek/lifeos/internal/gamification"
)

type activityRequest struct {
	Water           *bool      `json:"water"`
	CleanDiet       *bool      `json:"cleanDiet"`
	Workout         *bool      `json:"workout"`
	WorkoutCategory *string    `json:"workoutCategory" validate:"omitempty,max=32"`
	ProteinGrams    *int       `json:"proteinGrams"    validate:"omitempty,min=0,max=1000"`
	WorkoutAt       *time.Time `json:"workoutAt"`
}

func (r activityRequest) patch() gamification.ActivityPatch {
	return gamification.ActivityPatch{
		Water:           r.Water,
		CleanDiet:       r.CleanDiet,
		Workout:         r.Workout,
		WorkoutCategory: r.WorkoutCategory,
		ProteinGrams:    r.ProteinGrams,
		WorkoutAt:       r.WorkoutAt,
	}
}

type grantXPRequest struct {
	Amount      int    `json:"amount"      validate:"required"`
	Source      string `json:"source"      validate:"omitempty,max=32"`
	Description string `json:"description" validate:"max=200"`
}

type freezeRequest struct {
	// CurrentStreak defaults to the computed current streak.
	CurrentStreak *int `json:"currentStreak" validate:"omitempty,min=0"`
}

type generateRequest struct {
	Type  string `json:"type"  validate:"required,oneof=weekly monthly"`
	Force bool   `json:"force"`
}

type progressRequest struct {
	Amount *int `json:"amount" validate:"omitempty,min=1"`
}

// decode reads a JSON body into dst and validates it. An empty body leaves
// dst at its zero value.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed body: %v", gamification.ErrInvalidInput, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %s", gamification.ErrInvalidInput, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", gamification.ErrInvalidInput, err)
	}
	return nil
}

func pathDay(r *http.Request) (gamification.Day, error) {
	return gamification.ParseDay(r.PathValue("date"))
}

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	day, err := pathDay(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req activityRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.engine.RecordActivity(r.Context(), day, req.patch())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	day, err := pathDay(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.engine.Activity(r.Context(), day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	var from, to gamification.Day
	var err error
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = gamification.ParseDay(v); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = gamification.ParseDay(v); err != nil {
			writeError(w, r, err)
			return
		}
	}
	recs, err := s.engine.ActivityRange(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type profileResponse struct {
	gamification.Profile
	Progress gamification.LevelProgress `json:"progress"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Profile(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	lp, err := s.engine.LevelProgress(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p, Progress: lp})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleXPHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", gamification.ErrInvalidInput))
			return
		}
		limit = n
	}
	entries, err := s.engine.XPHistory(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGrantXP(w http.ResponseWriter, r *http.Request) {
	var req grantXPRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.engine.GrantXP(r.Context(), req.Amount, req.Source, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Achievements(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAchievementProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.engine.AchievementProgress(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleAchievement(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Achievement(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.EvaluateAchievements(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUseFreeze(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	streak := 0
	if req.CurrentStreak != nil {
		streak = *req.CurrentStreak
	} else {
		snap, err := s.engine.Stats(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		streak = snap.Current
	}
	res, err := s.engine.UseStreakFreeze(r.Context(), streak)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFreezeHistory(w http.ResponseWriter, r *http.Request) {
	uses, err := s.engine.FreezeHistory(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uses)
}

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	var f gamification.ChallengeFilter
	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		typ, err := gamification.ParsePeriodType(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		f.Type = typ
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: active must be a boolean", gamification.ErrInvalidInput))
			return
		}
		f.ActiveOnly = active
	}
	list, err := s.engine.Challenges(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGenerateChallenges(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	typ, err := gamification.ParsePeriodType(req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.engine.GenerateChallenges(r.Context(), typ, req.Force)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleChallengeProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount := 1
	if req.Amount != nil {
		amount = *req.Amount
	}
	res, err := s.engine.IncrementChallengeProgress(r.Context(), r.PathValue("id"), amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClaimChallenge(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ClaimChallenge(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
