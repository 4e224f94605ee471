package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	urfave "github.com/urfave/cli/v3"
)

const (
	fileFlag = "file"

	operatorCSVName = "credit_df_5000.csv"
)

func (a *app) importCmd() *urfave.Command {
	return &urfave.Command{
		Name:    "import",
		Aliases: []string{"i"},
		Usage:   "Import operator data from CSV",
		UsageText: `microscore import --file operators.csv   # import specific file
   microscore import                          # import Ml/credit_df_5000.csv`,
		Action: a.cmdImport,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:  fileFlag,
				Usage: "Path to the operator CSV file",
			},
		},
	}
}

// defaultOperatorCSV returns the first existing default CSV location under dir.
func defaultOperatorCSV(dir string) (string, error) {
	candidates := []string{
		filepath.Join(dir, "Ml", operatorCSVName),
		filepath.Join(dir, "ML", operatorCSVName),
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("operator CSV not found, tried %v", candidates)
}

func (a *app) cmdImport(ctx context.Context, cmd *urfave.Command) error {
	path := cmd.String(fileFlag)
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working dir: %w", err)
		}
		if path, err = defaultOperatorCSV(cwd); err != nil {
			return err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	d, err := a.getDeps(ctx)
	if err != nil {
		return err
	}

	slog.Info("importing operator data", "file", path)
	res, err := d.store.ImportOperators(ctx, f)
	if err != nil {
		return fmt.Errorf("importing %s: %w", path, err)
	}
	if res.Imported == 0 && res.Failed > 0 {
		return errors.New("no rows imported, see errors above")
	}

	slog.Info("import complete", "imported", res.Imported, "skipped", res.Skipped, "failed", res.Failed)
	return a.encode(res)
}
