package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/feedcache"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/stationboard"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/stopidentity"
)

type fakeBuilder struct {
	board    *ctdf.StationBoard
	err      error
	requests []stationboard.Request
}

func (f *fakeBuilder) Build(_ context.Context, request stationboard.Request) (*ctdf.StationBoard, error) {
	f.requests = append(f.requests, request)
	return f.board, f.err
}

type fakeFeed struct {
	health feedcache.Health
}

func (f fakeFeed) Health() feedcache.Health {
	return f.health
}

func testBoard() *ctdf.StationBoard {
	delay := 2
	diagnostics := ctdf.NewDiagnostics("req-1", time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC))
	diagnostics.Degrade("alerts:UNAVAILABLE")

	return &ctdf.StationBoard{
		Station: ctdf.BoardStation{ID: "Parent8503000", Name: "Zürich HB"},
		Departures: []*ctdf.MergedDeparture{
			{
				TripID:             "trip-1",
				Line:               "S3",
				Destination:        "Wetzikon",
				ScheduledDeparture: time.Date(2025, 1, 15, 8, 10, 0, 0, time.UTC),
				DelayMin:           &delay,
				StopEvent:          "SCHEDULED",
				Flags:              []string{},
				Tags:               []string{},
				Alerts:             []*ctdf.AttachedAlert{},
			},
		},
		Banners: []*ctdf.Banner{},
		Debug:   diagnostics,
	}
}

func newStationboardApp(builder BoardBuilder) *fiber.App {
	app := fiber.New()
	StationboardRouter(app.Group("/core/stationboard"), builder)
	return app
}

func decodeBody(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&decoded))
	return decoded
}

func TestStationboardBasicGroup(t *testing.T) {
	builder := &fakeBuilder{board: testBoard()}
	app := newStationboardApp(builder)

	resp, err := app.Test(httptest.NewRequest("GET", "/core/stationboard/8503000?lang=fr&limit=12&lookahead=45", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.NotContains(t, body, "debug")

	departures := body["departures"].([]any)
	require.Len(t, departures, 1)
	departure := departures[0].(map[string]any)
	assert.Equal(t, "S3", departure["line"])
	assert.EqualValues(t, 2, departure["delayMin"])
	assert.NotContains(t, departure, "stopEvent")

	require.Len(t, builder.requests, 1)
	request := builder.requests[0]
	assert.Equal(t, "8503000", request.Station)
	assert.Equal(t, "fr", request.Lang)
	assert.Equal(t, 12, request.Limit)
	assert.Equal(t, 45*time.Minute, request.Lookahead)
	assert.False(t, request.Debug)
}

func TestStationboardDebugGroup(t *testing.T) {
	builder := &fakeBuilder{board: testBoard()}
	app := newStationboardApp(builder)

	resp, err := app.Test(httptest.NewRequest("GET", "/core/stationboard/8503000?debug=1&lookahead=PT2H", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	debug := body["debug"].(map[string]any)
	assert.Equal(t, "req-1", debug["requestId"])
	assert.Equal(t, []any{"alerts:UNAVAILABLE"}, debug["degradations"])

	departure := body["departures"].([]any)[0].(map[string]any)
	assert.Equal(t, "SCHEDULED", departure["stopEvent"])

	require.Len(t, builder.requests, 1)
	assert.True(t, builder.requests[0].Debug)
	assert.Equal(t, 2*time.Hour, builder.requests[0].Lookahead)
}

func TestStationboardUnknownStop(t *testing.T) {
	builder := &fakeBuilder{err: &stopidentity.UnknownStopError{Tried: []string{"nowhere", "Parentnowhere"}}}
	app := newStationboardApp(builder)

	resp, err := app.Test(httptest.NewRequest("GET", "/core/stationboard/nowhere", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, []any{"nowhere", "Parentnowhere"}, body["tried"])
}

func TestStationboardInternalError(t *testing.T) {
	builder := &fakeBuilder{err: errors.New("database unavailable")}
	app := newStationboardApp(builder)

	resp, err := app.Test(httptest.NewRequest("GET", "/core/stationboard/8503000", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestStationboardRejectsBadParameters(t *testing.T) {
	builder := &fakeBuilder{board: testBoard()}
	app := newStationboardApp(builder)

	for _, query := range []string{"limit=abc", "limit=-1", "lookahead=soon", "lookahead=0"} {
		resp, err := app.Test(httptest.NewRequest("GET", "/core/stationboard/8503000?"+query, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, query)
	}
	assert.Empty(t, builder.requests)
}

func TestParseLookahead(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
		wantErr  bool
	}{
		{value: "90", expected: 90 * time.Minute},
		{value: "PT30M", expected: 30 * time.Minute},
		{value: "pt1h30m", expected: 90 * time.Minute},
		{value: "-5", wantErr: true},
		{value: "tomorrow", wantErr: true},
	}

	for _, test := range tests {
		lookahead, err := parseLookahead(test.value)
		if test.wantErr {
			assert.Error(t, err, test.value)
			continue
		}
		assert.NoError(t, err, test.value)
		assert.Equal(t, test.expected, lookahead, test.value)
	}
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	app.Get("/core/health", Health(
		fakeFeed{health: feedcache.Health{Name: "tripupdates", Status: feedcache.StatusHit, Version: 3}},
		fakeFeed{health: feedcache.Health{Name: "alerts", Status: feedcache.StatusUnavailable, LastError: "upstream status 503"}},
	))

	resp, err := app.Test(httptest.NewRequest("GET", "/core/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "degraded", body["status"])
	assert.Len(t, body["feeds"], 2)
}

func TestAPIVersion(t *testing.T) {
	app := fiber.New()
	app.Get("/core/version", APIVersion)

	resp, err := app.Test(httptest.NewRequest("GET", "/core/version", nil))
	require.NoError(t, err)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "mesdeparts", body["service"])
	assert.Equal(t, Version, body["version"])
}
