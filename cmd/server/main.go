package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/vision-api/internal/app"
	"github.com/Brownie44l1/vision-api/internal/config"
	"github.com/Brownie44l1/vision-api/internal/model"
)

const (
	serverShutdownWait = 5 * time.Second
	serverTimeout      = 60 * time.Second
	serverMaxHeader    = 1 << 20

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML config file (optional)",
		Sources: cli.EnvVars("CONFIG"),
	}

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose human-readable logs",
	}

	formatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format for predict [json, yaml]",
		Value: formatJSON,
	}

	portFlag = &cli.StringFlag{
		Name:  "port",
		Usage: "Port on which the server will listen (overrides config and PORT)",
	}
)

func main() {
	cmd := &cli.Command{
		Name:    "vision-api",
		Usage:   "Multi-task image classification service",
		Version: fmt.Sprintf("%s (%s - %s)", version, commit, date),
		Flags:   []cli.Flag{configFlag, debugFlag},
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"s"},
				Usage:   "Start the HTTP server",
				Flags:   []cli.Flag{portFlag},
				Action:  cmdServe,
			},
			{
				Name:      "predict",
				Usage:     "Classify a local image file and print the result",
				ArgsUsage: "FILE",
				Flags:     []cli.Flag{formatFlag},
				Action:    cmdPredict,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger := newLogger(false)
		logger.Fatal().Err(err).Msg("fatal error")
	}
}

func newLogger(debug bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if debug {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

func loadApp(ctx context.Context, cmd *cli.Command) (*app.App, zerolog.Logger, error) {
	log := newLogger(cmd.Bool(debugFlag.Name))

	cfg, err := config.Load(cmd.String(configFlag.Name))
	if err != nil {
		return nil, log, fmt.Errorf("loading config: %w", err)
	}
	if p := cmd.String(portFlag.Name); p != "" {
		cfg.Port = p
		if err := cfg.Validate(); err != nil {
			return nil, log, err
		}
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, log, fmt.Errorf("initializing service: %w", err)
	}
	return a, log, nil
}

func cmdServe(ctx context.Context, cmd *cli.Command) error {
	a, log, err := loadApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	address := ":" + a.Config.Port
	s := &http.Server{
		Addr:           address,
		Handler:        a.Router(),
		ReadTimeout:    serverTimeout,
		WriteTimeout:   serverTimeout,
		MaxHeaderBytes: serverMaxHeader,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	cat, _ := a.Config.Catalog()
	log.Info().
		Str("address", address).
		Str("model_version", a.Ensemble.Version()).
		Strs("objects", cat.Objects.Labels()).
		Strs("animals", cat.Animals.Labels()).
		Strs("teams", cat.Teams.Labels()).
		Msg("server started")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownWait)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("error shutting down server")
	}
	log.Info().Msg("server stopped")
	return nil
}

func cmdPredict(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("image file required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	a, _, err := loadApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Ensemble.Run(ctx, model.Input{Data: data})
	if err != nil {
		return err
	}
	return encode(os.Stdout, cmd.String(formatFlag.Name), res)
}

func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case formatYAML, "yml":
		return yaml.NewEncoder(w).Encode(v)
	case formatJSON, "":
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(v)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
