package feature

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Count is the number of features the scoring model expects.
const Count = 15

// Names is the ordered list of features the model was trained on.
// The order is part of the model contract and must not change.
var Names = [Count]string{
	"avg_transaction_amount",
	"transaction_amount_std",
	"avg_balance",
	"balance_volatility",
	"fee_ratio",
	"transaction_regularity",
	"recharge_frequency",
	"avg_recharge_amount",
	"small_recharge_ratio",
	"total_calls",
	"avg_call_duration",
	"total_data_mb",
	"total_sms",
	"call_failure_rate",
	"phone_activity_score",
}

// ErrInvalidFeatureValue is returned when a present value can not be read as a number.
var ErrInvalidFeatureValue = errors.New("invalid feature value")

// Vector holds the feature values in Names order.
type Vector []float64

// Map returns the vector keyed by feature name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(v))
	for i, val := range v {
		if i >= Count {
			break
		}
		m[Names[i]] = val
	}
	return m
}

// Coerce builds the model input from an arbitrary mapping.
// Absent and null features are zero; any other value must be numeric.
func Coerce(in map[string]any) (Vector, error) {
	v := make(Vector, Count)
	for i, name := range Names {
		raw, ok := in[name]
		if !ok {
			continue
		}
		f, err := ToFloat64(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFeatureValue, name, err)
		}
		v[i] = f
	}
	return v, nil
}

// ToFloat64 converts a single feature value; nil and SQL NULL are zero.
func ToFloat64(v any) (float64, error) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, nil
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int8:
		f = float64(val)
	case int16:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint:
		f = float64(val)
	case uint8:
		f = float64(val)
	case uint16:
		f = float64(val)
	case uint32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case bool:
		if val {
			f = 1
		}
	case json.Number:
		n, err := val.Float64()
		if err != nil {
			return 0, err
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, err
		}
		f = n
	case []byte:
		return ToFloat64(string(val))
	case *float64:
		if val == nil {
			return 0, nil
		}
		f = *val
	case sql.NullFloat64:
		if !val.Valid {
			return 0, nil
		}
		f = val.Float64
	case sql.NullInt64:
		if !val.Valid {
			return 0, nil
		}
		f = float64(val.Int64)
	case sql.NullString:
		if !val.Valid {
			return 0, nil
		}
		return ToFloat64(val.String)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}
