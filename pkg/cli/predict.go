package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/mchmarny/microscore/pkg/score"
	urfave "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const (
	maxLineBytes = 1 << 20

	derivedFlag = "derived"
	linesFlag   = "lines"
)

type predictResult struct {
	OK          bool     `json:"ok"`
	Raw         *float64 `json:"credit_scoring,omitempty"`
	Score       *int     `json:"score,omitempty"`
	CreditLimit *int     `json:"creditLimit,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func (a *app) predictCmd() *urfave.Command {
	return &urfave.Command{
		Name:  "predict",
		Usage: "Score the feature object read from stdin",
		UsageText: `echo '{"avg_transaction_amount": 100}' | microscore predict
   microscore predict --derived < features.json
   microscore predict --lines < batch.jsonl`,
		Action: a.cmdPredict,
		Flags: []urfave.Flag{
			&urfave.BoolFlag{
				Name:  derivedFlag,
				Usage: "Also print the display score and credit limit",
			},
			&urfave.BoolFlag{
				Name:  linesFlag,
				Usage: "Read one JSON object per line and print one result per line",
			},
		},
	}
}

func (a *app) cmdPredict(ctx context.Context, cmd *urfave.Command) error {
	scorer := a.newScorer(a.newModels())
	derived := cmd.Bool(derivedFlag)

	if cmd.Bool(linesFlag) {
		return predictLines(ctx, scorer, derived, a.stdin, a.stdout, a.stderr)
	}
	return predictOne(ctx, scorer, derived, a.stdin, a.stdout, a.stderr)
}

// predictOne writes the result to stdout, or the failure to stderr and
// returns errReported.
func predictOne(ctx context.Context, s *score.Scorer, derived bool, in io.Reader, stdout, stderr io.Writer) error {
	b, err := io.ReadAll(in)
	if err != nil {
		return reportFailure(stderr, fmt.Errorf("reading input: %w", err))
	}

	res := predictBytes(ctx, s, derived, b)
	if !res.OK {
		return reportFailure(stderr, errors.New(res.Error))
	}
	return json.NewEncoder(stdout).Encode(res)
}

// predictLines scores each non-blank line concurrently and prints results in
// input order. Failed lines are printed as errors and make the command fail.
// Unreadable input is reported on stderr and nothing is scored.
func predictLines(ctx context.Context, s *score.Scorer, derived bool, in io.Reader, out, stderr io.Writer) error {
	var lines [][]byte
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := sc.Err(); err != nil {
		return reportFailure(stderr, fmt.Errorf("reading input: %w", err))
	}

	results := make([]predictResult, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range lines {
		g.Go(func() error {
			results[i] = predictBytes(gctx, s, derived, lines[i])
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(out)
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
	}
	if failed > 0 {
		return errReported
	}
	return nil
}

func predictBytes(ctx context.Context, s *score.Scorer, derived bool, b []byte) predictResult {
	in, err := decodeObject(b)
	if err != nil {
		return predictResult{OK: false, Error: err.Error()}
	}

	if !derived {
		raw, err := s.Raw(ctx, in)
		if err != nil {
			return predictResult{OK: false, Error: err.Error()}
		}
		return predictResult{OK: true, Raw: &raw}
	}

	r, err := s.Score(ctx, in)
	if err != nil {
		return predictResult{OK: false, Error: err.Error()}
	}
	return predictResult{OK: true, Raw: &r.Raw, Score: &r.Score, CreditLimit: &r.CreditLimit}
}

// decodeObject parses exactly one JSON object.
func decodeObject(b []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("empty input, expected a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON input: unexpected data after object")
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("input must be a JSON object, got %s", jsonKind(v))
	}
	return m, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
	}
}

func reportFailure(w io.Writer, err error) error {
	_ = json.NewEncoder(w).Encode(predictResult{OK: false, Error: err.Error()})
	return errReported
}
