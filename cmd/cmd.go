package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/reactorlink/reactorlink"
	"github.com/reactorlink/reactorlink/config"
	"github.com/reactorlink/reactorlink/internal/resourcemanager"
	"github.com/reactorlink/reactorlink/internal/tui"
)

const (
	ServiceName      = "reactorlink"
	ServiceNamespace = "reactorlink"
)

var (
	version    = "0.0.0"
	commit     = "hash"
	commitDate = time.Now().String()
	branch     = "branch"
)

// Run is the CLI entrypoint: `reactorlink serve` runs the full process,
// `reactorlink top` opens its own driver and ResourceManager from the same
// configuration and shows a live dashboard of that instance's Snapshot. It
// does not connect to another running process.
func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Reactive full-duplex message transport",
		Version: version,
		Commands: []*cli.Command{
			serveCmd(),
			topCmd(),
		},
	}
	return app.Run(os.Args)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the reactorlink process: driver, event loops, introspection",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config-file", Usage: "Path to the configuration file"},
			&cli.StringFlag{Name: "driver-kind", Usage: "udp or ws"},
		},
		Action: func(c *cli.Context) error {
			flags := pflag.NewFlagSet("reactorlink", pflag.ContinueOnError)
			flags.String("driver_kind", c.String("driver-kind"), "")
			cfg, err := config.Load(flags, c.String("config-file"))
			if err != nil {
				return err
			}

			app := fx.New(
				fx.Supply(cfg),
				Module,
				fx.NopLogger,
			)

			startCtx, cancel := context.WithTimeout(c.Context, 15*time.Second)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return fmt.Errorf("cmd: starting app: %w", err)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("cmd: shutting down")
			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return app.Stop(stopCtx)
		},
	}
}

func topCmd() *cli.Command {
	return &cli.Command{
		Name:  "top",
		Usage: "Start a local ResourceManager and show its live dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config-file", Usage: "Path to the configuration file"},
		},
		Action: func(c *cli.Context) error {
			flags := pflag.NewFlagSet("reactorlink", pflag.ContinueOnError)
			cfg, err := config.Load(flags, c.String("config-file"))
			if err != nil {
				return err
			}

			driver, err := reactorlink.OpenDriver(cfg.DriverKind, cfg.DriverDir)
			if err != nil {
				return err
			}
			defer driver.Close()

			rm, err := resourcemanager.New(driver, cfg.Tunables.Options(), cfg.EventLoopCount, slog.Default())
			if err != nil {
				return err
			}
			if err := rm.Start(); err != nil {
				return err
			}
			defer rm.Stop()

			return tui.Run(rm, 500*time.Millisecond)
		},
	}
}
