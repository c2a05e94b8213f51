package api

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/config"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "web-api",
		Usage: "Provides the stationboard web API",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run web api server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Value: ":8080",
						Usage: "listen target for the web server",
					},
					&cli.BoolFlag{
						Name:  "warm",
						Value: true,
						Usage: "poll the realtime feeds in the background",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}

					ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
					defer stop()

					services, err := Setup(ctx, cfg)
					if err != nil {
						return err
					}

					if c.Bool("warm") {
						go services.Warm(ctx)
					}

					app := NewApp(services)
					go func() {
						<-ctx.Done()
						if err := app.Shutdown(); err != nil {
							log.Error().Err(err).Msg("Failed to shut down web server")
						}
					}()

					log.Info().Str("listen", c.String("listen")).Msg("Starting web API")
					return app.Listen(c.String("listen"))
				},
			},
		},
	}
}

// WithServices loads the configuration and wires the services for one-shot
// commands.
func WithServices(ctx context.Context, fn func(services *Services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	services, err := Setup(ctx, cfg)
	if err != nil {
		return err
	}
	return fn(services)
}
