package fallbackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/util"
)

const DefaultBaseURL = "https://transport.opendata.ch"

const opendataTimeLayout = "2006-01-02T15:04:05-0700"

type stationboardResponse struct {
	Station struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"station"`
	Stationboard []journey `json:"stationboard"`
}

type journey struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Number   string `json:"number"`
	Operator string `json:"operator"`
	To       string `json:"to"`
	Stop     struct {
		Departure          string `json:"departure"`
		DepartureTimestamp int64  `json:"departureTimestamp"`
		Delay              *int   `json:"delay"`
		Platform           string `json:"platform"`
		Prognosis          struct {
			Platform  string `json:"platform"`
			Departure string `json:"departure"`
		} `json:"prognosis"`
		Station struct {
			ID string `json:"id"`
		} `json:"station"`
	} `json:"stop"`
}

// Client reads the public transport.opendata.ch stationboard, which lists
// replacement buses the GTFS feeds do not carry.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// ReplacementDepartures returns the EV departures listed for the station.
func (c *Client) ReplacementDepartures(ctx context.Context, station string, limit int) ([]*ctdf.MergedDeparture, error) {
	query := url.Values{}
	query.Set("station", station)
	query.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/stationboard?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch fallback stationboard: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("fetch fallback stationboard: unexpected status %d", resp.StatusCode)
	}

	var board stationboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&board); err != nil {
		return nil, fmt.Errorf("decode fallback stationboard: %w", err)
	}

	departures := []*ctdf.MergedDeparture{}
	for _, row := range board.Stationboard {
		if !isReplacement(row) {
			continue
		}

		departure, err := row.departure(board.Station.ID)
		if err != nil {
			log.Debug().Err(err).Str("name", row.Name).Msg("Skipping fallback stationboard row")
			continue
		}
		departures = append(departures, departure)
	}

	return departures, nil
}

func isReplacement(row journey) bool {
	if ctdf.IsReplacementLabel(row.Category) || ctdf.IsReplacementLabel(row.Name) {
		return true
	}
	return strings.Contains(util.FoldText(row.Name), "ersatz")
}

func (row journey) departure(stationID string) (*ctdf.MergedDeparture, error) {
	scheduled, err := parseTime(row.Stop.Departure, row.Stop.DepartureTimestamp)
	if err != nil {
		return nil, err
	}

	stopID := row.Stop.Station.ID
	if stopID == "" {
		stopID = stationID
	}

	line := strings.TrimSpace(row.Category + " " + row.Number)
	if row.Category == "" {
		line = row.Name
	}

	departure := ctdf.NewMergedDeparture(&ctdf.ScheduledDeparture{
		TripID:             fmt.Sprintf("fallback:%s:%d", strings.ReplaceAll(strings.TrimSpace(row.Name), " ", ""), scheduled.Unix()),
		StopID:             stopID,
		Line:               line,
		Category:           row.Category,
		Number:             row.Number,
		Destination:        row.To,
		Operator:           row.Operator,
		Platform:           row.Stop.Platform,
		ScheduledDeparture: scheduled,
	})
	departure.Source = ctdf.DepartureSourceFallbackBoard
	departure.AddTag(ctdf.TagReplacement)

	if row.Stop.Prognosis.Platform != "" && row.Stop.Prognosis.Platform != row.Stop.Platform {
		departure.Platform = row.Stop.Prognosis.Platform
		departure.PlatformChanged = true
		departure.AddFlag(ctdf.FlagPlatformChanged)
	}

	if row.Stop.Delay != nil {
		minutes := *row.Stop.Delay
		realtime := scheduled.Add(time.Duration(minutes) * time.Minute)
		departure.RealtimeDeparture = &realtime
		departure.DelayMin = &minutes
		departure.Status = ctdf.DepartureStatusOnTime
		if minutes > 0 {
			departure.Status = ctdf.DepartureStatusDelayed
		}
	}

	return departure, nil
}

func parseTime(value string, timestamp int64) (time.Time, error) {
	if timestamp > 0 {
		return time.Unix(timestamp, 0), nil
	}
	parsed, err := time.Parse(opendataTimeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse departure %q: %w", value, err)
	}
	return parsed, nil
}
