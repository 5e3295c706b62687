package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	randv2 "math/rand/v2"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hoambaek/lifeos/internal/gamification"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server     ServerConfig    `yaml:"server"     envPrefix:"LIFEOS_SERVER_"`
	Storage    StorageConfig   `yaml:"storage"    envPrefix:"LIFEOS_STORAGE_"`
	Progress   ProgressConfig  `yaml:"progress"   envPrefix:"LIFEOS_PROGRESS_"`
	Leveling   LevelingConfig  `yaml:"leveling"   envPrefix:"LIFEOS_LEVELING_"`
	XP         XPConfig        `yaml:"xp"         envPrefix:"LIFEOS_XP_"`
	Challenges ChallengeConfig `yaml:"challenges" envPrefix:"LIFEOS_CHALLENGES_"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"             env:"PORT"`
	Host            string        `yaml:"host"             env:"HOST"`
	AuthToken       string        `yaml:"auth_token"       env:"AUTH_TOKEN"`
	AllowedOrigins  []string      `yaml:"allowed_origins"  env:"ALLOWED_ORIGINS" envSeparator:","`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// StorageConfig selects the progress store. Path is used by the file and
// sqlite drivers, DSN by postgres.
type StorageConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path"   env:"PATH"`
	DSN    string `yaml:"dsn"    env:"DSN"`
}

type ProgressConfig struct {
	ProfileID             string   `yaml:"profile_id"              env:"PROFILE_ID"`
	Timezone              string   `yaml:"timezone"                env:"TIMEZONE"`
	ProteinThresholdGrams int      `yaml:"protein_threshold_grams" env:"PROTEIN_THRESHOLD_GRAMS"`
	EarlyHour             int      `yaml:"early_hour"              env:"EARLY_HOUR"`
	LateHour              int      `yaml:"late_hour"               env:"LATE_HOUR"`
	StreakQuests          []string `yaml:"streak_quests"           env:"STREAK_QUESTS" envSeparator:","`
}

type LevelingConfig struct {
	Base     int `yaml:"base"      env:"BASE"`
	Growth   int `yaml:"growth"    env:"GROWTH"`
	MaxLevel int `yaml:"max_level" env:"MAX_LEVEL"`
}

// XPConfig holds quest awards keyed by quest name.
type XPConfig struct {
	Quests     map[string]int `yaml:"quests"      env:"QUESTS" envSeparator:"," envKeyValSeparator:"="`
	PerfectDay int            `yaml:"perfect_day" env:"PERFECT_DAY"`
}

// ChallengeConfig sets generation counts. Seed 0 picks templates from a
// time-seeded source.
type ChallengeConfig struct {
	Weekly  int   `yaml:"weekly"  env:"WEEKLY"`
	Monthly int   `yaml:"monthly" env:"MONTHLY"`
	Seed    int64 `yaml:"seed"    env:"SEED"`
}

func defaultConfig() *Config {
	quests := make(map[string]int)
	for q, xp := range gamification.DefaultQuestXP() {
		quests[string(q)] = xp
	}
	streak := make([]string, 0, len(gamification.AllQuests()))
	for _, q := range gamification.AllQuests() {
		streak = append(streak, string(q))
	}
	rules := gamification.DefaultRules()
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "127.0.0.1",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "lifeos.db",
		},
		Progress: ProgressConfig{
			ProfileID:             gamification.DefaultProfileID,
			Timezone:              "UTC",
			ProteinThresholdGrams: rules.ProteinThresholdGrams,
			EarlyHour:             rules.EarlyHour,
			LateHour:              rules.LateHour,
			StreakQuests:          streak,
		},
		Leveling: LevelingConfig{
			Base:     gamification.DefaultLevelBase,
			Growth:   gamification.DefaultLevelGrowth,
			MaxLevel: gamification.DefaultMaxLevel,
		},
		XP: XPConfig{
			Quests:     quests,
			PerfectDay: gamification.DefaultPerfectDayXP,
		},
		Challenges: ChallengeConfig{
			Weekly:  gamification.DefaultWeeklyChallenges,
			Monthly: gamification.DefaultMonthlyChallenges,
		},
	}
}

// Default returns the built-in configuration with environment overrides.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Load reads path over the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default()
	}
	return cfg, err
}

func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %s", c.Storage.Driver))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for driver postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, file, sqlite, postgres", c.Storage.Driver))
	}
	if strings.TrimSpace(c.Progress.ProfileID) == "" {
		errs = append(errs, errors.New("progress.profile_id is required"))
	}
	if _, err := time.LoadLocation(c.Progress.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("progress.timezone: %w", err))
	}
	if c.Progress.ProteinThresholdGrams < 0 {
		errs = append(errs, errors.New("progress.protein_threshold_grams must not be negative"))
	}
	if c.Progress.EarlyHour < 0 || c.Progress.EarlyHour > 24 || c.Progress.LateHour < 0 || c.Progress.LateHour > 24 {
		errs = append(errs, errors.New("progress.early_hour and late_hour must be within 0..24"))
	}
	for _, q := range c.Progress.StreakQuests {
		if _, err := gamification.ParseQuest(q); err != nil {
			errs = append(errs, fmt.Errorf("progress.streak_quests: %w", err))
		}
	}
	if _, err := gamification.GrowingLevelCurve(c.Leveling.Base, c.Leveling.Growth, c.Leveling.MaxLevel); err != nil {
		errs = append(errs, fmt.Errorf("leveling: %w", err))
	}
	for name, xp := range c.XP.Quests {
		if _, err := gamification.ParseQuest(name); err != nil {
			errs = append(errs, fmt.Errorf("xp.quests: %w", err))
		}
		if xp < 0 {
			errs = append(errs, fmt.Errorf("xp.quests.%s must not be negative", name))
		}
	}
	if c.XP.PerfectDay < 0 {
		errs = append(errs, errors.New("xp.perfect_day must not be negative"))
	}
	if c.Challenges.Weekly < 0 || c.Challenges.Monthly < 0 {
		errs = append(errs, errors.New("challenges counts must not be negative"))
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone, or UTC if it does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Progress.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Rules returns the quest thresholds for the engine.
func (c *Config) Rules() gamification.Rules {
	rules := gamification.Rules{
		ProteinThresholdGrams: c.Progress.ProteinThresholdGrams,
		EarlyHour:             c.Progress.EarlyHour,
		LateHour:              c.Progress.LateHour,
		Location:              c.Location(),
	}
	for _, name := range c.Progress.StreakQuests {
		if q, err := gamification.ParseQuest(name); err == nil {
			rules.StreakQuests = append(rules.StreakQuests, q)
		}
	}
	return rules
}

// EngineOptions translates the progress sections into engine options.
// Call Validate first.
func (c *Config) EngineOptions() ([]gamification.Option, error) {
	curve, err := gamification.GrowingLevelCurve(c.Leveling.Base, c.Leveling.Growth, c.Leveling.MaxLevel)
	if err != nil {
		return nil, fmt.Errorf("level curve: %w", err)
	}
	quests := make(map[gamification.Quest]int, len(c.XP.Quests))
	for name, xp := range c.XP.Quests {
		q, err := gamification.ParseQuest(name)
		if err != nil {
			return nil, err
		}
		quests[q] = xp
	}

	seed := uint64(c.Challenges.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return []gamification.Option{
		gamification.WithProfile(c.Progress.ProfileID),
		gamification.WithRules(c.Rules()),
		gamification.WithLevelCurve(curve),
		gamification.WithQuestXP(quests, c.XP.PerfectDay),
		gamification.WithChallengeCounts(c.Challenges.Weekly, c.Challenges.Monthly),
		gamification.WithRand(randv2.New(randv2.NewPCG(seed, seed>>1|1))),
	}, nil
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GenerateToken returns a random 32-character hex token for API auth.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
