package rate

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/google/cel-go/cel"
)

// FloorRate is the lowest monthly rate, in percent, after loyalty reduction.
const FloorRate = 3.0

var (
	// ErrIneligible is returned when no tier matches the score.
	ErrIneligible = errors.New("score too low for credit")
	// ErrInvalidDuration is returned for durations outside Durations.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// Durations lists the supported loan durations in months.
	Durations = []int{1, 3, 6}

	// DefaultTiers maps display scores to monthly base rates, best tier first.
	DefaultTiers = []Tier{
		{Name: "premium", Expr: "score >= 900", Rate: 3},
		{Name: "standard", Expr: "score >= 800", Rate: 3.5},
		{Name: "basic", Expr: "score >= 700", Rate: 4},
	}

	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// Tier is a rate band. Expr is a CEL boolean expression over the int variable score.
type Tier struct {
	Name string  `json:"name" yaml:"name"`
	Expr string  `json:"expr" yaml:"expr"`
	Rate float64 `json:"rate" yaml:"rate"`
}

type compiledTier struct {
	Tier
	prg cel.Program
}

// Table evaluates tiers in order; the first match wins.
type Table struct {
	tiers []compiledTier
	floor float64
}

// Simulation is the repayment plan for a loan.
type Simulation struct {
	Score       int     `json:"score" yaml:"score"`
	Tier        string  `json:"tier" yaml:"tier"`
	Principal   float64 `json:"principal" yaml:"principal"`
	BaseRate    float64 `json:"baseRate" yaml:"baseRate"`
	Reduction   float64 `json:"loyaltyReduction" yaml:"loyaltyReduction"`
	FinalRate   float64 `json:"finalRate" yaml:"finalRate"`
	Months      int     `json:"months" yaml:"months"`
	Monthly     int     `json:"monthlyPayment" yaml:"monthlyPayment"`
	TotalRepaid int     `json:"totalRepaid" yaml:"totalRepaid"`
	Interest    int     `json:"interest" yaml:"interest"`
}

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(cel.Variable("score", cel.IntType))
	})
	return celEnv, celEnvErr
}

// NewTable compiles tiers. Empty tiers use DefaultTiers; a non-positive floor uses FloorRate.
func NewTable(tiers []Tier, floor float64) (*Table, error) {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	if floor <= 0 {
		floor = FloorRate
	}

	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}

	t := &Table{tiers: make([]compiledTier, 0, len(tiers)), floor: floor}
	for _, tier := range tiers {
		ast, issues := env.Compile(tier.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("tier %q: compile error: %w", tier.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("tier %q: expression must return bool, got %v", tier.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("tier %q: program error: %w", tier.Name, err)
		}
		if tier.Rate <= 0 {
			return nil, fmt.Errorf("tier %q: rate must be positive", tier.Name)
		}
		t.tiers = append(t.tiers, compiledTier{Tier: tier, prg: prg})
	}
	return t, nil
}

// Match returns the first tier the score qualifies for.
func (t *Table) Match(score int) (*Tier, error) {
	in := map[string]any{"score": int64(score)}
	for i := range t.tiers {
		out, _, err := t.tiers[i].prg.Eval(in)
		if err != nil {
			return nil, fmt.Errorf("tier %q: eval error: %w", t.tiers[i].Name, err)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return nil, fmt.Errorf("tier %q: expression must return bool, got %T", t.tiers[i].Name, out.Value())
		}
		if ok {
			tier := t.tiers[i].Tier
			return &tier, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrIneligible, score)
}

// FinalRate applies the loyalty reduction to base, never going below the floor.
func (t *Table) FinalRate(base, reduction float64) float64 {
	if reduction < 0 {
		reduction = 0
	}
	return math.Max(t.floor, base-reduction)
}

// Simulate prices a loan of amount over months for the display score.
func (t *Table) Simulate(score int, amount float64, months int, reduction float64) (*Simulation, error) {
	if !slices.Contains(Durations, months) {
		return nil, fmt.Errorf("%w: %d months, expected one of %v", ErrInvalidDuration, months, Durations)
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	tier, err := t.Match(score)
	if err != nil {
		return nil, err
	}
	if reduction < 0 {
		reduction = 0
	}

	final := t.FinalRate(tier.Rate, reduction)
	monthly := MonthlyPayment(amount, final, months)
	total := monthly * months

	return &Simulation{
		Score:       score,
		Tier:        tier.Name,
		Principal:   amount,
		BaseRate:    tier.Rate,
		Reduction:   reduction,
		FinalRate:   final,
		Months:      months,
		Monthly:     monthly,
		TotalRepaid: total,
		Interest:    int(math.Round(float64(total) - amount)),
	}, nil
}

// MonthlyPayment returns the rounded installment for an amortized loan.
// ratePct is the monthly rate in percent.
func MonthlyPayment(principal, ratePct float64, months int) int {
	if months <= 0 {
		return 0
	}
	r := ratePct / 100
	if months == 1 {
		return int(math.Round(principal * (1 + r)))
	}
	if r == 0 {
		return int(math.Round(principal / float64(months)))
	}
	g := math.Pow(1+r, float64(months))
	return int(math.Round(principal * (r * g) / (g - 1)))
}

// Penalty returns the late fee for daysLate on the outstanding balance.
func Penalty(daysLate int, outstanding float64) int {
	switch {
	case daysLate <= 0:
		return 0
	case daysLate < 7:
		return int(math.Round(outstanding * 0.01))
	case daysLate <= 30:
		return int(math.Round(outstanding*0.02)) + 5000
	default:
		return int(math.Round(outstanding*0.03)) + 10000
	}
}
