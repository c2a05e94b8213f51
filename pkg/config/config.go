package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	iso8601 "github.com/senseyeio/duration"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/delayindex"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/fallbackboard"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/feedcache"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/schedule"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/stationboard"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/util"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTripUpdatesURL = "https://api.opentransportdata.swiss/la/gtfs-rt"
	DefaultAlertsURL      = "https://api.opentransportdata.swiss/la/gtfs-sa"
)

// File is the optional YAML tunables file. Durations are ISO 8601 (PT30S).
type File struct {
	Feeds struct {
		TripUpdatesURL string `yaml:"trip_updates_url" validate:"omitempty,url"`
		AlertsURL      string `yaml:"alerts_url" validate:"omitempty,url"`
		MinInterval    string `yaml:"min_interval" validate:"omitempty,iso8601"`
		MaxBackoff     string `yaml:"max_backoff" validate:"omitempty,iso8601"`
		RequestTimeout string `yaml:"request_timeout" validate:"omitempty,iso8601"`
		PersistMaxAge  string `yaml:"persist_max_age" validate:"omitempty,iso8601"`
	} `yaml:"feeds"`

	Index struct {
		MaxAge string `yaml:"max_age" validate:"omitempty,iso8601"`
		Grace  string `yaml:"grace" validate:"omitempty,iso8601"`
	} `yaml:"index"`

	Schedule struct {
		StatementTimeout string `yaml:"statement_timeout" validate:"omitempty,iso8601"`
		YesterdayCutoff  string `yaml:"yesterday_cutoff" validate:"omitempty,iso8601"`
		RowLimit         int    `yaml:"row_limit" validate:"gte=0,lte=5000"`
	} `yaml:"schedule"`

	Board struct {
		Lookback          string `yaml:"lookback" validate:"omitempty,iso8601"`
		Lookahead         string `yaml:"lookahead" validate:"omitempty,iso8601"`
		MaxLookahead      string `yaml:"max_lookahead" validate:"omitempty,iso8601"`
		ExpandedLookahead string `yaml:"expanded_lookahead" validate:"omitempty,iso8601"`
		Grace             string `yaml:"grace" validate:"omitempty,iso8601"`
		DriftBound        string `yaml:"drift_bound" validate:"omitempty,iso8601"`
		SparseThreshold   int    `yaml:"sparse_threshold" validate:"gte=0"`
		Limit             int    `yaml:"limit" validate:"gte=0,lte=500"`
		MaxLimit          int    `yaml:"max_limit" validate:"gte=0,lte=500"`
		FallbackURL       string `yaml:"fallback_url" validate:"omitempty,url"`
		FallbackTimeout   string `yaml:"fallback_timeout" validate:"omitempty,iso8601"`
		DisableFallback   bool   `yaml:"disable_fallback"`
	} `yaml:"board"`
}

type Config struct {
	TripUpdatesURL string
	AlertsURL      string
	APIToken       string
	AliasesCSV     string

	FallbackURL     string
	FallbackEnabled bool

	Cache            feedcache.Options
	Merge            delayindex.MergePolicy
	Schedule         schedule.Options
	StatementTimeout time.Duration
	Board            stationboard.Options
}

func Defaults() *Config {
	return &Config{
		TripUpdatesURL:   DefaultTripUpdatesURL,
		AlertsURL:        DefaultAlertsURL,
		FallbackURL:      fallbackboard.DefaultBaseURL,
		FallbackEnabled:  true,
		Cache:            feedcache.DefaultOptions(),
		Merge:            delayindex.DefaultMergePolicy(),
		Schedule:         schedule.DefaultOptions(),
		StatementTimeout: 5 * time.Second,
		Board:            stationboard.DefaultOptions(),
	}
}

// Load reads .env (when present), the MESDEPARTS_ environment and the
// optional YAML file named by MESDEPARTS_CONFIG.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	env := util.GetEnvironmentVariables()
	config := Defaults()

	if path := env["MESDEPARTS_CONFIG"]; path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		file, err := Parse(contents)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if err := config.Apply(file); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	config.applyEnvironment(env)

	return config, nil
}

// Parse decodes and validates a YAML tunables file.
func Parse(contents []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	if err := newValidator().Struct(&file); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	return &file, nil
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterValidation("iso8601", func(field validator.FieldLevel) bool {
		_, err := ParseDuration(field.Field().String())
		return err == nil
	})
	return validate
}

// ParseDuration accepts ISO 8601 durations (PT30S, PT3H) as well as Go
// durations (30s).
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(strings.ToUpper(value), "P") {
		parsed, err := iso8601.ParseISO8601(strings.ToUpper(value))
		if err != nil {
			return 0, err
		}
		reference := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		return parsed.Shift(reference).Sub(reference), nil
	}
	return time.ParseDuration(value)
}

// Apply overlays the values set in file.
func (c *Config) Apply(file *File) error {
	setString(&c.TripUpdatesURL, file.Feeds.TripUpdatesURL)
	setString(&c.AlertsURL, file.Feeds.AlertsURL)
	setString(&c.FallbackURL, file.Board.FallbackURL)
	if file.Board.DisableFallback {
		c.FallbackEnabled = false
	}

	setInt(&c.Schedule.Limit, file.Schedule.RowLimit)
	setInt(&c.Board.SparseThreshold, file.Board.SparseThreshold)
	setInt(&c.Board.Limit, file.Board.Limit)
	setInt(&c.Board.MaxLimit, file.Board.MaxLimit)

	durations := []struct {
		target *time.Duration
		value  string
	}{
		{&c.Cache.MinInterval, file.Feeds.MinInterval},
		{&c.Cache.MaxBackoff, file.Feeds.MaxBackoff},
		{&c.Cache.RequestTimeout, file.Feeds.RequestTimeout},
		{&c.Cache.PersistMaxAge, file.Feeds.PersistMaxAge},
		{&c.Merge.MaxAge, file.Index.MaxAge},
		{&c.Merge.Grace, file.Index.Grace},
		{&c.StatementTimeout, file.Schedule.StatementTimeout},
		{&c.Schedule.YesterdayCutoff, file.Schedule.YesterdayCutoff},
		{&c.Board.Lookback, file.Board.Lookback},
		{&c.Board.Lookahead, file.Board.Lookahead},
		{&c.Board.MaxLookahead, file.Board.MaxLookahead},
		{&c.Board.ExpandedLookahead, file.Board.ExpandedLookahead},
		{&c.Board.Grace, file.Board.Grace},
		{&c.Board.Apply.DriftBound, file.Board.DriftBound},
		{&c.Board.FallbackTimeout, file.Board.FallbackTimeout},
	}
	for _, duration := range durations {
		if duration.value == "" {
			continue
		}
		parsed, err := ParseDuration(duration.value)
		if err != nil {
			return fmt.Errorf("duration %q: %w", duration.value, err)
		}
		*duration.target = parsed
	}

	// The first backoff step is two poll intervals.
	if file.Feeds.MinInterval != "" {
		c.Cache.InitialBackoff = 2 * c.Cache.MinInterval
	}

	return nil
}

func (c *Config) applyEnvironment(env map[string]string) {
	setString(&c.TripUpdatesURL, env["MESDEPARTS_TRIPUPDATES_URL"])
	setString(&c.AlertsURL, env["MESDEPARTS_ALERTS_URL"])
	setString(&c.APIToken, env["MESDEPARTS_API_TOKEN"])
	setString(&c.FallbackURL, env["MESDEPARTS_FALLBACK_URL"])
	setString(&c.AliasesCSV, env["MESDEPARTS_ALIASES_CSV"])

	if env["MESDEPARTS_FALLBACK_DISABLED"] == "YES" {
		c.FallbackEnabled = false
	}
}

func setString(target *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value > 0 {
		*target = value
	}
}
