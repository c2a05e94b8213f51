package routes

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"github.com/rs/zerolog/log"
	iso8601 "github.com/senseyeio/duration"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/stationboard"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/stopidentity"
)

type BoardBuilder interface {
	Build(ctx context.Context, request stationboard.Request) (*ctdf.StationBoard, error)
}

func StationboardRouter(router fiber.Router, builder BoardBuilder) {
	router.Get("/:identifier", func(c *fiber.Ctx) error {
		return getStationboard(c, builder)
	})
}

func getStationboard(c *fiber.Ctx, builder BoardBuilder) error {
	request := stationboard.Request{
		Station: c.Params("identifier"),
		Lang:    c.Query("lang", "de"),
		Debug:   c.Query("debug") == "1" || c.Query("debug") == "true",
	}

	if limit := c.Query("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed < 0 {
			c.Status(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{
				"error": "Parameter limit should be a positive integer",
			})
		}
		request.Limit = parsed
	}

	if lookahead := c.Query("lookahead"); lookahead != "" {
		parsed, err := parseLookahead(lookahead)
		if err != nil {
			c.Status(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{
				"error": "Parameter lookahead should be minutes or an ISO8601 duration",
			})
		}
		request.Lookahead = parsed
	}

	board, err := builder.Build(c.UserContext(), request)
	if err != nil {
		var unknown *stopidentity.UnknownStopError
		if errors.As(err, &unknown) {
			c.Status(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{
				"error": err.Error(),
				"tried": unknown.Tried,
			})
		}

		log.Error().Err(err).Str("station", request.Station).Msg("Failed to build stationboard")
		c.Status(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	groups := []string{"basic"}
	if request.Debug {
		groups = append(groups, "debug")
	}

	boardReduced, err := sheriff.Marshal(&sheriff.Options{
		Groups: groups,
	}, board)
	if err != nil {
		c.Status(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Sheriff could not reduce stationboard",
		})
	}

	return c.JSON(boardReduced)
}

// parseLookahead accepts plain minutes ("90") or an ISO8601 duration
// ("PT90M").
func parseLookahead(value string) (time.Duration, error) {
	if minutes, err := strconv.Atoi(value); err == nil {
		if minutes <= 0 {
			return 0, errors.New("lookahead must be positive")
		}
		return time.Duration(minutes) * time.Minute, nil
	}

	duration, err := iso8601.ParseISO8601(strings.ToUpper(value))
	if err != nil {
		return 0, err
	}

	reference := time.Now()
	lookahead := duration.Shift(reference).Sub(reference)
	if lookahead <= 0 {
		return 0, errors.New("lookahead must be positive")
	}
	return lookahead, nil
}
