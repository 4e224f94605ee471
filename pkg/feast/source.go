package feast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	"github.com/feast-dev/feast/sdk/go/protos/feast/types"
	"github.com/mchmarny/microscore/pkg/data"
	"github.com/mchmarny/microscore/pkg/feature"
)

const (
	DefaultPort      = 6565
	DefaultView      = "operator_features"
	DefaultEntityKey = "numero_telephone"
)

// Config describes the feature server and feature view holding operator data.
type Config struct {
	Host      string
	Port      int
	Project   string
	View      string
	EntityKey string
	Token     string
}

type fetchFunc func(ctx context.Context, req *feastsdk.OnlineFeaturesRequest) ([]feastsdk.Row, error)

// Source reads operator features from a Feast online store.
// The user's phone is resolved first and used as the entity key.
type Source struct {
	phones    data.PhoneResolver
	fetch     fetchFunc
	project   string
	entityKey string
	refs      []string
}

// NewSource connects to the feature server described by cfg.
func NewSource(cfg Config, phones data.PhoneResolver) (*Source, error) {
	if cfg.Host == "" {
		return nil, errors.New("feast host not specified")
	}
	if phones == nil {
		return nil, errors.New("phone resolver required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	var (
		client *feastsdk.GrpcClient
		err    error
	)
	if cfg.Token != "" {
		client, err = feastsdk.NewSecureGrpcClient(cfg.Host, cfg.Port, feastsdk.SecurityConfig{
			EnableTLS:  false,
			Credential: feastsdk.NewStaticCredential(cfg.Token),
		})
	} else {
		client, err = feastsdk.NewGrpcClient(cfg.Host, cfg.Port)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create feast client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	fetch := func(ctx context.Context, req *feastsdk.OnlineFeaturesRequest) ([]feastsdk.Row, error) {
		resp, err := client.GetOnlineFeatures(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.Rows(), nil
	}

	return newSource(cfg, phones, fetch), nil
}

func newSource(cfg Config, phones data.PhoneResolver, fetch fetchFunc) *Source {
	if cfg.View == "" {
		cfg.View = DefaultView
	}
	if cfg.EntityKey == "" {
		cfg.EntityKey = DefaultEntityKey
	}
	refs := make([]string, 0, feature.Count)
	for _, n := range feature.Names {
		refs = append(refs, ref(cfg.View, n))
	}
	return &Source{
		phones:    phones,
		fetch:     fetch,
		project:   cfg.Project,
		entityKey: cfg.EntityKey,
		refs:      refs,
	}
}

func ref(view, name string) string {
	return view + ":" + name
}

// Features returns the operator features for the user's phone.
// A row with no values is reported as data.ErrOperatorNotFound.
func (s *Source) Features(ctx context.Context, userID string) (map[string]any, error) {
	phone, err := s.phones.ResolvePhone(ctx, userID)
	if err != nil {
		return nil, err
	}

	req := &feastsdk.OnlineFeaturesRequest{
		Features: s.refs,
		Entities: []feastsdk.Row{{s.entityKey: feastsdk.StrVal(phone)}},
		Project:  s.project,
	}

	rows, err := s.fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("feast get online features failed: %w", err)
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("feast response row count mismatch: expected 1, got %d", len(rows))
	}

	row := rows[0]
	m := make(map[string]any, feature.Count)
	found := 0
	for i, name := range feature.Names {
		v, ok := row[s.refs[i]]
		if !ok {
			v, ok = row[name]
		}
		if !ok {
			m[name] = nil
			continue
		}
		val := valueOf(v)
		if val != nil {
			found++
		}
		m[name] = val
	}

	if found == 0 {
		return nil, fmt.Errorf("%w: %s", data.ErrOperatorNotFound, phone)
	}

	slog.Debug("feast features", "user", userID, "present", found)
	return m, nil
}

// valueOf unwraps a feature value. Unset values are nil.
func valueOf(v *types.Value) any {
	if v == nil {
		return nil
	}
	switch x := v.GetVal().(type) {
	case *types.Value_DoubleVal:
		return x.DoubleVal
	case *types.Value_FloatVal:
		return float64(x.FloatVal)
	case *types.Value_Int64Val:
		return float64(x.Int64Val)
	case *types.Value_Int32Val:
		return float64(x.Int32Val)
	case *types.Value_BoolVal:
		if x.BoolVal {
			return 1.0
		}
		return 0.0
	case *types.Value_StringVal:
		return x.StringVal
	default:
		return nil
	}
}
