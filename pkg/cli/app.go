package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mchmarny/microscore/pkg/config"
	"github.com/mchmarny/microscore/pkg/logging"
	urfave "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	configFlag = "config"
	debugFlag  = "debug"
	dbFlag     = "db"
	formatFlag = "format"

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	// errReported marks a failure already written to the caller.
	errReported = errors.New("error already reported")
)

// Execute creates and runs the CLI application.
func Execute() {
	logging.SetDefaultCLILogger("info")

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := a.run(context.Background(), os.Args); err != nil {
		if !errors.Is(err, errReported) {
			slog.Error("fatal error", "error", err)
		}
		os.Exit(1)
	}
}

// app holds the process-wide state shared by commands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	homeDir string
	cfg     *config.Config
	format  string
	debug   bool
	dsn     string

	deps *deps
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		format: formatJSON,
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	return a.command().Run(ctx, args)
}

func (a *app) command() *urfave.Command {
	return &urfave.Command{
		Name:                  config.AppName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Usage:                 "Credit scoring from mobile operator activity",
		Reader:                a.stdin,
		Writer:                a.stdout,
		ErrWriter:             a.stderr,
		ExitErrHandler:        func(context.Context, *urfave.Command, error) {},
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:  configFlag,
				Usage: "Path to the config file (default: ~/.microscore/config.yaml)",
			},
			&urfave.BoolFlag{
				Name:  debugFlag,
				Usage: "Prints verbose logs (optional, default: false)",
			},
			&urfave.StringFlag{
				Name:  dbFlag,
				Usage: "Database DSN: sqlite file path or postgres:// URL",
			},
			&urfave.StringFlag{
				Name:  formatFlag,
				Usage: "Output format [json, yaml]",
				Value: formatJSON,
			},
		},
		Commands: []*urfave.Command{
			a.serveCmd(),
			a.predictCmd(),
			a.scoreCmd(),
			a.diagnoseCmd(),
			a.simulateCmd(),
			a.penaltyCmd(),
			a.importCmd(),
			a.userCmd(),
			a.dsnCmd(),
			a.pullCmd(),
		},
		Before: a.before,
		After: func(_ context.Context, _ *urfave.Command) error {
			return a.close()
		},
	}
}

func (a *app) before(ctx context.Context, cmd *urfave.Command) (context.Context, error) {
	a.debug = cmd.Bool(debugFlag)
	if a.debug {
		logging.SetDefaultCLILogger("debug")
	}

	f := cmd.String(formatFlag)
	if f == formatYAML || f == "yml" {
		a.format = formatYAML
	}

	a.dsn = cmd.String(dbFlag)
	a.homeDir = getHomeDir()

	path := cmd.String(configFlag)
	if path == "" {
		path = filepath.Join(a.homeDir, "config.yaml")
	}
	cfg, err := config.ReadOrCreateFile(path)
	if err != nil {
		slog.Warn("using default config", "path", path, "error", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv(os.Getenv)
	a.cfg = cfg

	return ctx, nil
}

func (a *app) close() error {
	if a.deps == nil {
		return nil
	}
	err := a.deps.Close()
	a.deps = nil
	return err
}

func getHomeDir() string {
	dir, _, err := config.GetOrCreateHomeDir(config.AppName)
	if err != nil {
		slog.Debug("error getting home dir, using current dir instead", "error", err)
		return "."
	}
	return dir
}

func (a *app) encode(v any) error {
	return encode(a.stdout, a.format, v)
}

func encode(w io.Writer, format string, v any) error {
	if format == formatYAML {
		return yaml.NewEncoder(w).Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
