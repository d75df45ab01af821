package quota

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagen/internal/adapter/memstore"
)

var testPolicy = DailyPolicy{
	Amount:           50,
	BoostedAmount:    100,
	BoostedCountries: []string{"SA", "FR", "DE"},
}

func TestDailyPolicyAmountFor(t *testing.T) {
	tests := []struct {
		country string
		want    int
	}{
		{country: "FR", want: 100},
		{country: "fr", want: 100},
		{country: "US", want: 50},
		{country: "", want: 50},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, testPolicy.AmountFor(tc.country), tc.country)
	}
}

func TestDailyIssuerIssuesOncePerDay(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	issuer := NewDailyIssuer(store, testPolicy, zerolog.Nop())
	issuer.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }

	first, err := issuer.Check(ctx, "user-1", "DE")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, 100, first.Grant.Amount)

	issuer.now = func() time.Time { return time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC) }
	second, err := issuer.Check(ctx, "user-1", "US")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Grant.ID, second.Grant.ID)

	issuer.now = func() time.Time { return time.Date(2025, 3, 2, 0, 30, 0, 0, time.UTC) }
	third, err := issuer.Check(ctx, "user-1", "US")
	require.NoError(t, err)
	assert.True(t, third.Created)
	assert.Equal(t, 50, third.Grant.Amount)

	active, err := issuer.Active(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, third.Grant.ID, active[0].ID)
}
