package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mchmarny/microscore/pkg/model"
	"github.com/mchmarny/microscore/pkg/net"
	urfave "github.com/urfave/cli/v3"
)

const (
	urlFlag = "url"
	outFlag = "out"
)

func (a *app) pullCmd() *urfave.Command {
	return &urfave.Command{
		Name:      "pull",
		Usage:     "Download the model artifact and verify it loads",
		UsageText: "microscore pull --url https://models.example.com/credit_scoring_lgbm.txt",
		Action:    a.cmdPull,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:     urlFlag,
				Usage:    "URL of the LightGBM text model",
				Required: true,
			},
			&urfave.StringFlag{
				Name:  outFlag,
				Usage: "Target path (default: first model candidate path)",
			},
		},
	}
}

func (a *app) cmdPull(ctx context.Context, cmd *urfave.Command) error {
	target := cmd.String(outFlag)
	if target == "" {
		paths := a.cfg.Model.Paths
		if len(paths) == 0 {
			paths = model.CandidatesFromEnv()
		}
		if len(paths) == 0 {
			return errors.New("no model path configured, use --out")
		}
		target = paths[0]
	}
	return pullModel(ctx, cmd.String(urlFlag), target)
}

// pullModel downloads url next to target and replaces target only when the
// download is a loadable model.
func pullModel(ctx context.Context, url, target string) error {
	tmp := target + ".new"
	if err := net.Download(ctx, url, tmp); err != nil {
		return fmt.Errorf("downloading model: %w", err)
	}

	m, err := model.Load(tmp)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("verifying model: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing model to %s: %w", target, err)
	}

	slog.Info("model installed", "path", target, "name", m.Name())
	return nil
}
