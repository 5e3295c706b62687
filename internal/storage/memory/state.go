package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hoambaek/lifeos/internal/gamification"
)

// stateVersion is bumped when the file layout changes.
const stateVersion = 1

// state is everything the store holds. It is also the on-disk format.
type state struct {
	Version     int                                           `json:"version"`
	Profiles    map[string]*profileData                       `json:"profiles"`
	Definitions map[string]gamification.AchievementDefinition `json:"definitions"`
	LastUpdated time.Time                                     `json:"lastUpdated"`
}

type profileData struct {
	Profile        *gamification.Profile                     `json:"profile,omitempty"`
	Activity       map[string]gamification.ActivityRecord    `json:"activity"`
	XP             []gamification.XPTransaction              `json:"xp"`
	Freezes        []gamification.FreezeUse                  `json:"freezes"`
	Unlocks        map[string]gamification.AchievementUnlock `json:"unlocks"`
	Challenges     map[string]gamification.Challenge         `json:"challenges"`
	ChallengeOrder []string                                  `json:"challengeOrder"`
}

func newState() *state {
	return &state{
		Version:     stateVersion,
		Profiles:    make(map[string]*profileData),
		Definitions: make(map[string]gamification.AchievementDefinition),
	}
}

func newProfileData() *profileData {
	return &profileData{
		Activity:   make(map[string]gamification.ActivityRecord),
		Unlocks:    make(map[string]gamification.AchievementUnlock),
		Challenges: make(map[string]gamification.Challenge),
	}
}

// initMaps ensures all map fields are non-nil after deserialization.
func (st *state) initMaps() {
	if st.Profiles == nil {
		st.Profiles = make(map[string]*profileData)
	}
	if st.Definitions == nil {
		st.Definitions = make(map[string]gamification.AchievementDefinition)
	}
	for id, pd := range st.Profiles {
		if pd == nil {
			st.Profiles[id] = newProfileData()
			continue
		}
		if pd.Activity == nil {
			pd.Activity = make(map[string]gamification.ActivityRecord)
		}
		if pd.Unlocks == nil {
			pd.Unlocks = make(map[string]gamification.AchievementUnlock)
		}
		if pd.Challenges == nil {
			pd.Challenges = make(map[string]gamification.Challenge)
		}
	}
}

// clone returns a deep copy with all maps and slices duplicated. Pointer
// fields inside records are never mutated in place, so they are shared.
func (st *state) clone() *state {
	cp := &state{
		Version:     st.Version,
		Profiles:    make(map[string]*profileData, len(st.Profiles)),
		Definitions: make(map[string]gamification.AchievementDefinition, len(st.Definitions)),
		LastUpdated: st.LastUpdated,
	}
	for k, v := range st.Definitions {
		cp.Definitions[k] = v
	}
	for id, pd := range st.Profiles {
		cp.Profiles[id] = pd.clone()
	}
	return cp
}

func (pd *profileData) clone() *profileData {
	cp := &profileData{
		Activity:       make(map[string]gamification.ActivityRecord, len(pd.Activity)),
		XP:             append([]gamification.XPTransaction(nil), pd.XP...),
		Freezes:        append([]gamification.FreezeUse(nil), pd.Freezes...),
		Unlocks:        make(map[string]gamification.AchievementUnlock, len(pd.Unlocks)),
		Challenges:     make(map[string]gamification.Challenge, len(pd.Challenges)),
		ChallengeOrder: append([]string(nil), pd.ChallengeOrder...),
	}
	if pd.Profile != nil {
		p := *pd.Profile
		cp.Profile = &p
	}
	for k, v := range pd.Activity {
		cp.Activity[k] = v
	}
	for k, v := range pd.Unlocks {
		cp.Unlocks[k] = v
	}
	for k, v := range pd.Challenges {
		cp.Challenges[k] = v
	}
	return cp
}

// Open returns a store persisted to path. An existing file is loaded; a
// missing one starts empty and is created on the first commit.
func Open(path string) (*Store, error) {
	st, err := load(path)
	if err != nil {
		return nil, err
	}
	return &Store{st: st, path: path, now: time.Now}, nil
}

// Path returns the backing file, or "" for a non-persistent store.
func (s *Store) Path() string { return s.path }

func load(path string) (*state, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if st.Version > stateVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported %d", st.Version, stateVersion)
	}
	st.initMaps()
	return &st, nil
}

// save writes st using an atomic temp-file-then-rename pattern. The
// directory is created if it does not already exist.
func save(path string, st *state) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	st.Version = stateVersion
	st.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming state file: %w", err)
	}
	committed = true
	return nil
}
