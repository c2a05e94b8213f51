package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/feedcache"
)

type FeedHealth interface {
	Health() feedcache.Health
}

// Health reports the state of every polled feed. It never triggers an
// upstream request.
func Health(feeds ...FeedHealth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		reports := []feedcache.Health{}
		healthy := true

		for _, feed := range feeds {
			report := feed.Health()
			if report.Status == feedcache.StatusUnavailable {
				healthy = false
			}
			reports = append(reports, report)
		}

		status := "ok"
		if !healthy {
			status = "degraded"
		}

		return c.JSON(fiber.Map{
			"status": status,
			"feeds":  reports,
		})
	}
}
