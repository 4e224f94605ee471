package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/mchmarny/microscore/pkg/feature"
)

var (
	// ErrUserNotFound is returned when no user has the requested id.
	ErrUserNotFound = errors.New("user not found")
	// ErrPhoneMissing is returned when the user exists but has no phone number.
	ErrPhoneMissing = errors.New("user has no phone number")
	// ErrOperatorNotFound is returned when the operator has no data for the phone number.
	ErrOperatorNotFound = errors.New("operator data not found")
)

// FeatureSource resolves the raw feature mapping for a user.
type FeatureSource interface {
	Features(ctx context.Context, userID string) (map[string]any, error)
}

// PhoneResolver resolves a user id to a normalized phone number.
type PhoneResolver interface {
	ResolvePhone(ctx context.Context, userID string) (string, error)
}

// Diagnosis describes how far a user id gets through the lookup chain.
type Diagnosis struct {
	UserID          string `json:"user_id" yaml:"userId"`
	UserFound       bool   `json:"user_found" yaml:"userFound"`
	Phone           string `json:"phone,omitempty" yaml:"phone,omitempty"`
	NormalizedPhone string `json:"normalized_phone,omitempty" yaml:"normalizedPhone,omitempty"`
	OperatorFound   bool   `json:"operator_found" yaml:"operatorFound"`
}

const (
	selectUserPhoneSQL = `SELECT numero_telephone FROM utilisateurs WHERE id = ?`

	insertUserSQL = `INSERT INTO utilisateurs (id, numero_telephone) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET numero_telephone = excluded.numero_telephone`
)

var selectOperatorSQL = fmt.Sprintf(`SELECT %s FROM donnees_operateurs WHERE numero_telephone = ?`,
	strings.Join(feature.Names[:], ", "))

// IsNotFound reports whether err is one of the lookup not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrPhoneMissing) ||
		errors.Is(err, ErrOperatorNotFound)
}

// NormalizePhone removes all whitespace and a single leading plus sign.
func NormalizePhone(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(s, "+")
	return strings.TrimSpace(s)
}

// GetUserPhone returns the phone number stored for the user, as stored.
func (s *Store) GetUserPhone(ctx context.Context, userID string) (string, error) {
	if s == nil || s.db == nil {
		return "", errDBNotInitialized
	}

	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(selectUserPhoneSQL), userID).Scan(&phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return "", fmt.Errorf("failed to query user %s: %w", userID, err)
	}

	if !phone.Valid || strings.TrimSpace(phone.String) == "" {
		return "", fmt.Errorf("%w: %s", ErrPhoneMissing, userID)
	}

	return phone.String, nil
}

// ResolvePhone returns the normalized phone number for the user.
func (s *Store) ResolvePhone(ctx context.Context, userID string) (string, error) {
	phone, err := s.GetUserPhone(ctx, userID)
	if err != nil {
		return "", err
	}
	n := NormalizePhone(phone)
	if n == "" {
		return "", fmt.Errorf("%w: %s", ErrPhoneMissing, userID)
	}
	return n, nil
}

// GetOperatorFeatures returns the operator row for phone keyed by feature name.
// NULL columns are returned as nil values.
func (s *Store) GetOperatorFeatures(ctx context.Context, phone string) (map[string]any, error) {
	if s == nil || s.db == nil {
		return nil, errDBNotInitialized
	}

	vals := make([]sql.NullFloat64, feature.Count)
	dest := make([]any, feature.Count)
	for i := range vals {
		dest[i] = &vals[i]
	}

	err := s.db.QueryRowContext(ctx, s.rebind(selectOperatorSQL), phone).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOperatorNotFound, phone)
		}
		return nil, fmt.Errorf("failed to query operator data for %s: %w", phone, err)
	}

	m := make(map[string]any, feature.Count)
	for i, name := range feature.Names {
		if vals[i].Valid {
			m[name] = vals[i].Float64
		} else {
			m[name] = nil
		}
	}
	return m, nil
}

// Features resolves the user's phone and returns the operator features for it.
func (s *Store) Features(ctx context.Context, userID string) (map[string]any, error) {
	phone, err := s.ResolvePhone(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.GetOperatorFeatures(ctx, phone)
}

// Diagnose walks the lookup chain for userID and reports each step.
// Not-found conditions are part of the result, not errors.
func (s *Store) Diagnose(ctx context.Context, userID string) (*Diagnosis, error) {
	d := &Diagnosis{UserID: userID}

	phone, err := s.GetUserPhone(ctx, userID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return d, nil
	case errors.Is(err, ErrPhoneMissing):
		d.UserFound = true
		return d, nil
	case err != nil:
		return nil, err
	}

	d.UserFound = true
	d.Phone = phone
	d.NormalizedPhone = NormalizePhone(phone)

	_, err = s.GetOperatorFeatures(ctx, d.NormalizedPhone)
	switch {
	case errors.Is(err, ErrOperatorNotFound):
	case err != nil:
		return nil, err
	default:
		d.OperatorFound = true
	}

	return d, nil
}

// SaveUser inserts or updates a user and its phone number.
func (s *Store) SaveUser(ctx context.Context, userID, phone string) error {
	if s == nil || s.db == nil {
		return errDBNotInitialized
	}
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id required")
	}

	var p any
	if phone != "" {
		p = phone
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(insertUserSQL), userID, p); err != nil {
		return fmt.Errorf("failed to save user %s: %w", userID, err)
	}
	return nil
}
