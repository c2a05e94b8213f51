package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/api/routes"
)

func NewApp(services *Services) *fiber.App {
	webApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	webApp.Use(NewLogger())

	group := webApp.Group("/core")

	group.Get("version", routes.APIVersion)
	group.Get("health", routes.Health(services.TripUpdates.Cache(), services.Alerts.Cache()))

	routes.StationboardRouter(group.Group("/stationboard"), services.Assembler)

	webApp.Get("/metrics", adaptor.HTTPHandler(services.Metrics.Handler()))

	return webApp
}

func SetupServer(listen string, services *Services) error {
	return NewApp(services).Listen(listen)
}
