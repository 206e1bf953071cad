package promo

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCatalog struct {
	byCode  map[string]*Code
	findErr error
}

func (m *mockCatalog) FindByCode(_ context.Context, code string) (*Code, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	c, ok := m.byCode[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	return c, nil
}

func (m *mockCatalog) IncrementUsage(_ context.Context, code string) (*Code, error) {
	c, ok := m.byCode[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	c.CurrentUsage++
	return c, nil
}

func (m *mockCatalog) Deactivate(_ context.Context, code string) error {
	if c, ok := m.byCode[code]; ok {
		c.Active = false
	}
	return nil
}

func TestValidateCode(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name    string
		codes   map[string]*Code
		input   string
		wantErr error
	}{
		{
			name:    "blank input",
			input:   "   ",
			wantErr: ErrCodeBlank,
		},
		{
			name:    "unknown code",
			codes:   map[string]*Code{},
			input:   "NOPE",
			wantErr: ErrCodeNotFound,
		},
		{
			name: "inactive code",
			codes: map[string]*Code{
				"GONE": {Code: "GONE", Percentage: 10, Active: false},
			},
			input:   "GONE",
			wantErr: ErrCodeInactive,
		},
		{
			name: "expired code",
			codes: map[string]*Code{
				"OLD": {Code: "OLD", Percentage: 10, Active: true, ExpiresAt: &past},
			},
			input:   "OLD",
			wantErr: ErrCodeExpired,
		},
		{
			name: "exhausted code",
			codes: map[string]*Code{
				"FULL": {Code: "FULL", Percentage: 10, Active: true, MaxUsage: 5, CurrentUsage: 5},
			},
			input:   "FULL",
			wantErr: ErrCodeLimitReached,
		},
		{
			name: "inactive wins over exhausted",
			codes: map[string]*Code{
				"BOTH": {Code: "BOTH", Percentage: 10, Active: false, MaxUsage: 5, CurrentUsage: 5},
			},
			input:   "BOTH",
			wantErr: ErrCodeInactive,
		},
		{
			name: "expired wins over exhausted",
			codes: map[string]*Code{
				"BOTH": {Code: "BOTH", Percentage: 10, Active: true, ExpiresAt: &past, MaxUsage: 5, CurrentUsage: 5},
			},
			input:   "BOTH",
			wantErr: ErrCodeExpired,
		},
		{
			name: "valid code",
			codes: map[string]*Code{
				"SAVE20": {Code: "SAVE20", Percentage: 20, Active: true, ExpiresAt: &future, MaxUsage: 100, CurrentUsage: 10},
			},
			input: "SAVE20",
		},
		{
			name: "valid unlimited code without expiry",
			codes: map[string]*Code{
				"FOREVER": {Code: "FOREVER", Percentage: 5, Active: true},
			},
			input: "forever",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(&mockCatalog{byCode: tt.codes})
			v.now = func() time.Time { return fixedNow }

			snap, err := v.ValidateCode(context.Background(), tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, snap)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Normalize(tt.input), snap.Code)
		})
	}
}

func TestValidateCode_NormalizesInput(t *testing.T) {
	v := NewValidator(&mockCatalog{byCode: map[string]*Code{
		"SAVE20": {Code: "SAVE20", Percentage: 20, Active: true},
	}})

	snap, err := v.ValidateCode(context.Background(), "  save20  ")
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", snap.Code)
}

func TestValidateCode_StorageErrorWrapped(t *testing.T) {
	storageErr := errors.New("connection reset")
	v := NewValidator(&mockCatalog{findErr: storageErr})

	_, err := v.ValidateCode(context.Background(), "SAVE20")
	require.Error(t, err)
	assert.ErrorIs(t, err, storageErr)
}

func TestCode_RemainingUses(t *testing.T) {
	assert.Equal(t, int64(-1), (&Code{}).RemainingUses())
	assert.Equal(t, int64(90), (&Code{MaxUsage: 100, CurrentUsage: 10}).RemainingUses())
	assert.Equal(t, int64(0), (&Code{MaxUsage: 100, CurrentUsage: 100}).RemainingUses())
}
