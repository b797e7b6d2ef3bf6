// crowdchess hosts one cooperative team-chess game: every player on the
// side to move proposes a move, and a UCI engine picks the strongest
// proposal as the team's official move.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"

	"github.com/crowdchess/crowdchess/common/log"
	"github.com/crowdchess/crowdchess/core"
	"github.com/crowdchess/crowdchess/engine"
	"github.com/crowdchess/crowdchess/metrics"
	gwnet "github.com/crowdchess/crowdchess/net"
)

// Automatically set through -ldflags
// Example: go install -ldflags "-X main.version=`git describe --tags`"
var (
	version   = "master"
	gitCommit = "none"
)

const shutdownTimeout = 5 * time.Second

var (
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Value: ":8080",
		Usage: "Address the game socket and health endpoint bind to.",
	}
	metricsFlag = &cli.StringFlag{
		Name:  "metrics",
		Usage: "Launch a metrics server at the specified (host:)port.",
	}
	engineFlag = &cli.StringFlag{
		Name:  "engine",
		Value: "stockfish",
		Usage: "Path to the UCI engine binary.",
	}
	depthFlag = &cli.IntFlag{
		Name:  "depth",
		Value: engine.DefaultDepth,
		Usage: "Fixed search depth used to arbitrate between proposals.",
	}
	initialTimeFlag = &cli.IntFlag{
		Name:  "initial-time",
		Value: core.DefaultInitialTime,
		Usage: "Per-side clock in seconds.",
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file; flags given explicitly take precedence.",
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "If set, verbosity is at the debug level.",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "Log in JSON format.",
	}
)

// fileConfig mirrors the flags for operators who prefer a file.
type fileConfig struct {
	Listen      string `toml:"listen"`
	Metrics     string `toml:"metrics"`
	EnginePath  string `toml:"engine_path"`
	EngineDepth int    `toml:"engine_depth"`
	InitialTime int    `toml:"initial_time"`
}

func main() {
	app := &cli.App{
		Name:    "crowdchess",
		Version: fmt.Sprintf("%s (commit %s)", version, gitCommit),
		Usage:   "cooperative team chess server with engine-arbitrated moves",
		Flags: []cli.Flag{
			listenFlag, metricsFlag, engineFlag, depthFlag,
			initialTimeFlag, configFlag, verboseFlag, jsonFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "crowdchess: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := log.InfoLevel
	if c.Bool(verboseFlag.Name) {
		level = log.DebugLevel
	}
	logger := log.New(nil, level, c.Bool(jsonFlag.Name))

	listen := c.String(listenFlag.Name)
	metricsAddr := c.String(metricsFlag.Name)
	enginePath := c.String(engineFlag.Name)
	depth := c.Int(depthFlag.Name)
	initialTime := c.Int(initialTimeFlag.Name)

	if path := c.String(configFlag.Name); path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return fmt.Errorf("reading config %q: %w", path, err)
		}
		if fc.Listen != "" && !c.IsSet(listenFlag.Name) {
			listen = fc.Listen
		}
		if fc.Metrics != "" && !c.IsSet(metricsFlag.Name) {
			metricsAddr = fc.Metrics
		}
		if fc.EnginePath != "" && !c.IsSet(engineFlag.Name) {
			enginePath = fc.EnginePath
		}
		if fc.EngineDepth != 0 && !c.IsSet(depthFlag.Name) {
			depth = fc.EngineDepth
		}
		if fc.InitialTime != 0 && !c.IsSet(initialTimeFlag.Name) {
			initialTime = fc.InitialTime
		}
	}

	cfg := core.NewConfig(
		core.WithLogger(logger),
		core.WithInitialTime(initialTime),
		core.WithArbiterFactory(func() (core.Arbiter, error) {
			return engine.New(enginePath,
				engine.WithDepth(depth),
				engine.WithLogger(logger))
		}),
	)
	game, err := core.NewGame(cfg)
	if err != nil {
		return fmt.Errorf("starting game: %w", err)
	}

	gateway := gwnet.NewGateway(logger, game)
	game.SetPublisher(gateway)
	gateway.Start(listen)

	var metricsSrv interface {
		Shutdown(context.Context) error
	}
	if metricsAddr != "" {
		metricsSrv = metrics.Start(logger, metricsAddr)
	}

	logger.Infow("crowdchess up", "version", version, "listen", listen, "engine", enginePath)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Infow("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if err := gateway.Stop(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("stopping gateway: %w", err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("stopping metrics: %w", err))
		}
	}
	if err := game.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("quitting engine: %w", err))
	}
	return result.ErrorOrNil()
}
