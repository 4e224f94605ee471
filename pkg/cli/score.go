package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mchmarny/microscore/pkg/rate"
	urfave "github.com/urfave/cli/v3"
)

const (
	idFlag        = "id"
	scoreFlag     = "score"
	amountFlag    = "amount"
	durationFlag  = "duration"
	reductionFlag = "reduction"
	daysFlag      = "days"
)

type penaltyResponse struct {
	OK          bool    `json:"ok" yaml:"ok"`
	DaysLate    int     `json:"days_late" yaml:"days_late"`
	Outstanding float64 `json:"outstanding" yaml:"outstanding"`
	Penalty     int     `json:"penalty" yaml:"penalty"`
}

func userIDFlag() *urfave.StringFlag {
	return &urfave.StringFlag{
		Name:     idFlag,
		Usage:    "User ID",
		Required: true,
	}
}

func (a *app) scoreCmd() *urfave.Command {
	return &urfave.Command{
		Name:      "score",
		Usage:     "Look up a user's operator data and score it",
		UsageText: "microscore score --id 6f1c2b7e",
		Action:    a.cmdScore,
		Flags:     []urfave.Flag{userIDFlag()},
	}
}

func (a *app) diagnoseCmd() *urfave.Command {
	return &urfave.Command{
		Name:   "diagnose",
		Usage:  "Show how far a user gets through the feature lookup",
		Action: a.cmdDiagnose,
		Flags:  []urfave.Flag{userIDFlag()},
	}
}

func (a *app) simulateCmd() *urfave.Command {
	return &urfave.Command{
		Name:  "simulate",
		Usage: "Price a loan for a user or a score",
		UsageText: `microscore simulate --score 850 --amount 100000 --duration 3
   microscore simulate --id 6f1c2b7e --amount 50000 --duration 6 --reduction 0.5`,
		Action: a.cmdSimulate,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:  idFlag,
				Usage: "User ID to score (either --id or --score)",
			},
			&urfave.IntFlag{
				Name:  scoreFlag,
				Usage: "Display score to price (either --id or --score)",
			},
			&urfave.FloatFlag{
				Name:     amountFlag,
				Usage:    "Loan amount",
				Required: true,
			},
			&urfave.IntFlag{
				Name:  durationFlag,
				Usage: fmt.Sprintf("Loan duration in months %v", rate.Durations),
				Value: 3,
			},
			&urfave.FloatFlag{
				Name:  reductionFlag,
				Usage: "Loyalty reduction in rate percentage points",
			},
		},
	}
}

func (a *app) penaltyCmd() *urfave.Command {
	return &urfave.Command{
		Name:      "penalty",
		Usage:     "Compute the late fee on an outstanding balance",
		UsageText: "microscore penalty --days 10 --amount 250000",
		Action:    a.cmdPenalty,
		Flags: []urfave.Flag{
			&urfave.IntFlag{
				Name:     daysFlag,
				Usage:    "Days past the due date",
				Required: true,
			},
			&urfave.FloatFlag{
				Name:     amountFlag,
				Usage:    "Outstanding balance",
				Required: true,
			},
		},
	}
}

func (a *app) cmdPenalty(_ context.Context, cmd *urfave.Command) error {
	days := int(cmd.Int(daysFlag))
	amount := cmd.Float(amountFlag)
	if amount < 0 {
		return fmt.Errorf("%w: %v", rate.ErrInvalidAmount, amount)
	}
	return a.encode(penaltyResponse{
		OK:          true,
		DaysLate:    days,
		Outstanding: amount,
		Penalty:     rate.Penalty(days, amount),
	})
}

func (a *app) cmdScore(ctx context.Context, cmd *urfave.Command) error {
	d, err := a.getDeps(ctx)
	if err != nil {
		return err
	}
	svc := &service{features: d.features, scorer: d.scorer, publisher: d.publisher}

	id := strings.TrimSpace(cmd.String(idFlag))
	res, err := svc.scoreUser(ctx, id)
	if err != nil {
		return fmt.Errorf("scoring %s: %w", id, err)
	}
	svc.publish(ctx, id, "cli", res)

	return a.encode(scoreResponse{OK: true, Result: *res})
}

func (a *app) cmdDiagnose(ctx context.Context, cmd *urfave.Command) error {
	d, err := a.getDeps(ctx)
	if err != nil {
		return err
	}

	id := strings.TrimSpace(cmd.String(idFlag))
	diag, err := d.store.Diagnose(ctx, id)
	if err != nil {
		return fmt.Errorf("diagnosing %s: %w", id, err)
	}
	return a.encode(diagnoseResponse{OK: true, Diagnosis: *diag})
}

func (a *app) cmdSimulate(ctx context.Context, cmd *urfave.Command) error {
	hasID := cmd.IsSet(idFlag)
	hasScore := cmd.IsSet(scoreFlag)
	if hasID == hasScore {
		return errors.New("exactly one of --id or --score is required")
	}

	var (
		s     int
		rates *rate.Table
	)
	if hasID {
		d, err := a.getDeps(ctx)
		if err != nil {
			return err
		}
		svc := &service{features: d.features, scorer: d.scorer}
		id := strings.TrimSpace(cmd.String(idFlag))
		res, err := svc.scoreUser(ctx, id)
		if err != nil {
			return fmt.Errorf("scoring %s: %w", id, err)
		}
		s = res.Score
		rates = d.rates
	} else {
		s = int(cmd.Int(scoreFlag))
		t, err := rate.NewTable(a.cfg.Rates.Tiers, a.cfg.Rates.Floor)
		if err != nil {
			return fmt.Errorf("loading rate tiers: %w", err)
		}
		rates = t
	}

	sim, err := rates.Simulate(s,
		cmd.Float(amountFlag),
		int(cmd.Int(durationFlag)),
		cmd.Float(reductionFlag))
	if err != nil {
		return err
	}
	return a.encode(simulateResponse{OK: true, Simulation: *sim})
}
