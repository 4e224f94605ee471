package data

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mchmarny/microscore/pkg/feature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertOperator(t *testing.T, s *Store, phone string, vals map[string]any) {
	t.Helper()
	row := []any{phone}
	for _, n := range feature.Names {
		row = append(row, vals[n])
	}
	_, err := s.db.Exec(s.rebind(upsertOperatorSQL), row...)
	require.NoError(t, err)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+237 6 99 00 11 22", "237699001122"},
		{"237699001122", "237699001122"},
		{"  +237699001122\t", "237699001122"},
		{"++237", "+237"},
		{"", ""},
		{"   ", ""},
		{"+", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), tt.in)
	}
}

func TestGetUserPhone(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, "u1", "+237 699 001 122"))
	require.NoError(t, s.SaveUser(ctx, "u2", ""))

	phone, err := s.GetUserPhone(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "+237 699 001 122", phone)

	_, err = s.GetUserPhone(ctx, "u2")
	assert.ErrorIs(t, err, ErrPhoneMissing)

	_, err = s.GetUserPhone(ctx, "nope")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSaveUser_Upsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, "u1", "111"))
	require.NoError(t, s.SaveUser(ctx, "u1", "222"))

	phone, err := s.GetUserPhone(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "222", phone)

	assert.Error(t, s.SaveUser(ctx, " ", "333"))
}

func TestFeatures(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, "u1", "+237 699 001 122"))
	insertOperator(t, s, "237699001122", map[string]any{
		"avg_transaction_amount": 100.0,
		"total_calls":            42.0,
	})

	m, err := s.Features(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, m, feature.Count)
	assert.Equal(t, 100.0, m["avg_transaction_amount"])
	assert.Equal(t, 42.0, m["total_calls"])
	assert.Nil(t, m["fee_ratio"])

	v, err := feature.Coerce(m)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v[0])
	assert.Zero(t, v[4])
}

func TestFeatures_NotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, "u1", "+237 699 001 122"))
	require.NoError(t, s.SaveUser(ctx, "u2", ""))

	_, err := s.Features(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.True(t, IsNotFound(err))

	_, err = s.Features(ctx, "u2")
	assert.ErrorIs(t, err, ErrPhoneMissing)
	assert.True(t, IsNotFound(err))

	_, err = s.Features(ctx, "u1")
	assert.ErrorIs(t, err, ErrOperatorNotFound)
	assert.True(t, IsNotFound(err))
}

func TestResolvePhone_OnlyPlus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, "u1", "+"))

	_, err := s.ResolvePhone(ctx, "u1")
	assert.ErrorIs(t, err, ErrPhoneMissing)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", ErrUserNotFound)))
	assert.False(t, IsNotFound(errors.New("boom")))
	assert.False(t, IsNotFound(nil))
}

func TestDiagnose(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, "u1", "+237 699 001 122"))
	require.NoError(t, s.SaveUser(ctx, "u2", "+237 600 000 000"))
	require.NoError(t, s.SaveUser(ctx, "u3", ""))
	insertOperator(t, s, "237699001122", map[string]any{"avg_balance": 5.0})

	d, err := s.Diagnose(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, d.UserFound)
	assert.Equal(t, "+237 699 001 122", d.Phone)
	assert.Equal(t, "237699001122", d.NormalizedPhone)
	assert.True(t, d.OperatorFound)

	d, err = s.Diagnose(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, d.UserFound)
	assert.False(t, d.OperatorFound)

	d, err = s.Diagnose(ctx, "u3")
	require.NoError(t, err)
	assert.True(t, d.UserFound)
	assert.Empty(t, d.Phone)

	d, err = s.Diagnose(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, "nope", d.UserID)
	assert.False(t, d.UserFound)
}

func TestLookup_NilStore(t *testing.T) {
	var s *Store
	_, err := s.GetUserPhone(context.Background(), "x")
	assert.ErrorIs(t, err, errDBNotInitialized)
	_, err = s.GetOperatorFeatures(context.Background(), "x")
	assert.ErrorIs(t, err, errDBNotInitialized)
}
