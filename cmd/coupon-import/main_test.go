package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
)

func TestParseRecord(t *testing.T) {
	expires := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
	limit := 50

	tests := []struct {
		name    string
		fields  []string
		want    coupon.Input
		wantErr bool
	}{
		{
			name:   "minimal",
			fields: []string{" natal10 ", "PERCENTAGE", "10"},
			want:   coupon.Input{Code: "NATAL10", Kind: "PERCENTAGE", Value: decimal.NewFromInt(10)},
		},
		{
			name:   "all fields",
			fields: []string{"PIZZA5", "FIXED", "5.00", "50", "2026-12-31T23:59:00Z"},
			want: coupon.Input{
				Code: "PIZZA5", Kind: "FIXED", Value: decimal.RequireFromString("5.00"),
				MaxUses: &limit, ExpiresAt: &expires,
			},
		},
		{
			name:   "empty optional fields",
			fields: []string{"PIZZA5", "FIXED", "5", "", ""},
			want:   coupon.Input{Code: "PIZZA5", Kind: "FIXED", Value: decimal.NewFromInt(5)},
		},
		{name: "too few fields", fields: []string{"PIZZA5", "FIXED"}, wantErr: true},
		{name: "bad value", fields: []string{"PIZZA5", "FIXED", "cinco"}, wantErr: true},
		{name: "bad max uses", fields: []string{"PIZZA5", "FIXED", "5", "many"}, wantErr: true},
		{name: "bad expiry", fields: []string{"PIZZA5", "FIXED", "5", "1", "31/12/2026"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRecord(tt.fields)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Code, got.Code)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.True(t, tt.want.Value.Equal(got.Value), "value: got %s", got.Value)
			assert.Equal(t, tt.want.MaxUses, got.MaxUses)
			if tt.want.ExpiresAt == nil {
				assert.Nil(t, got.ExpiresAt)
			} else {
				require.NotNil(t, got.ExpiresAt)
				assert.True(t, tt.want.ExpiresAt.Equal(*got.ExpiresAt))
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, isInvalid(coupon.ErrInvalidKind))
	assert.True(t, isInvalid(coupon.ErrDuplicateCode))
	assert.False(t, isInvalid(coupon.ErrNotFound))
}

func TestOverwritePatch(t *testing.T) {
	limit := 5
	p := overwritePatch(coupon.Input{Kind: "FIXED", Value: decimal.NewFromInt(5), MaxUses: &limit})
	assert.True(t, p.ClearExpiresAt)
	assert.False(t, p.ClearMaxUses)
	assert.Equal(t, &limit, p.MaxUses)
	require.NotNil(t, p.Active)
	assert.True(t, *p.Active)
}
