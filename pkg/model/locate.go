package model

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultArtifactName is the file name of the trained model.
	DefaultArtifactName = "credit_scoring_lgbm.txt"

	artifactDir        = "Ml"
	artifactDirAltCase = "ML"
)

// DefaultCandidates returns the artifact locations in lookup order:
// the deployment root, the project root next to the executable, then the
// alternate-case directory under the deployment root.
// Empty roots are skipped and duplicates removed.
func DefaultCandidates(cwd, exeDir string) []string {
	list := make([]string, 0, 3)
	if cwd != "" {
		list = append(list, filepath.Join(cwd, artifactDir, DefaultArtifactName))
	}
	if exeDir != "" {
		list = append(list, filepath.Join(filepath.Dir(exeDir), artifactDir, DefaultArtifactName))
	}
	if cwd != "" {
		list = append(list, filepath.Join(cwd, artifactDirAltCase, DefaultArtifactName))
	}
	return dedupe(list)
}

// CandidatesFromEnv builds the default candidate list for the running process.
func CandidatesFromEnv() []string {
	cwd, err := os.Getwd()
	if err != nil {
		slog.Debug("error getting working dir", "error", err)
		cwd = ""
	}

	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		exeDir = filepath.Dir(exe)
	} else {
		slog.Debug("error resolving executable", "error", err)
	}

	return DefaultCandidates(cwd, exeDir)
}

// Locate returns the first candidate that is an existing regular file.
func Locate(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no candidate paths configured", ErrModelNotFound)
	}
	for _, p := range candidates {
		info, err := os.Stat(p)
		if err != nil {
			slog.Debug("model candidate not usable", "path", p, "error", err)
			continue
		}
		if info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrModelNotFound, strings.Join(candidates, ", "))
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, p := range list {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
