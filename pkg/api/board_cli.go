package api

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kr/pretty"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/servicetime"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/stationboard"
	"github.com/urfave/cli/v2"
)

// RegisterBoardCLI builds a single board from the command line, fetching the
// realtime feeds once.
func RegisterBoardCLI() *cli.Command {
	return &cli.Command{
		Name:      "board",
		Usage:     "print the departure board of a station",
		ArgsUsage: "<station>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "lang",
				Value: "de",
				Usage: "language of alert texts",
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: 20,
				Usage: "maximum number of departures",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "dump the full board including diagnostics",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one station", 1)
			}

			return WithServices(c.Context, func(services *Services) error {
				board, err := services.Assembler.Build(c.Context, stationboard.Request{
					Station: c.Args().First(),
					Lang:    c.String("lang"),
					Limit:   c.Int("limit"),
					Debug:   c.Bool("debug"),
				})
				if err != nil {
					return err
				}

				if c.Bool("debug") {
					pretty.Println(board)
					return nil
				}

				printBoard(board)
				return nil
			})
		},
	}
}

func printBoard(board *ctdf.StationBoard) {
	fmt.Printf("%s (%s)\n\n", board.Station.Name, board.Station.ID)

	for _, banner := range board.Banners {
		fmt.Printf("! %s\n", banner.Header)
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "TIME\tLINE\tDESTINATION\tPLATFORM\tDELAY\tSTATUS")
	for _, departure := range board.Departures {
		delay := ""
		if departure.DelayMin != nil && *departure.DelayMin > 0 {
			delay = fmt.Sprintf("+%d", *departure.DelayMin)
		}
		platform := departure.Platform
		if departure.PlatformChanged {
			platform += "!"
		}

		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			departure.ScheduledDeparture.In(servicetime.Zurich).Format("15:04"),
			departure.Line,
			departure.Destination,
			platform,
			delay,
			departure.Status,
		)
	}
	writer.Flush()
}
