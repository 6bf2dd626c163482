package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusinessTypeFromHMRC(t *testing.T) {
	cases := map[string]BusinessType{
		"self-employment":  BusinessSoleTrader,
		"uk-property":      BusinessLandlord,
		"foreign-property": BusinessLandlord,
		"partnership":      BusinessPartnership,
		"limited-company":  BusinessLimitedCompany,
		"trust":            BusinessTrust,
		"something-new":    BusinessOther,
		"":                 BusinessOther,
	}
	for input, expected := range cases {
		require.Equal(t, expected, BusinessTypeFromHMRC(input), "input %q", input)
	}
}

func TestTokensExpired(t *testing.T) {
	now := time.Now()

	require.False(t, OAuthTokens{}.Expired(now), "zero expiry never counts as expired")
	require.False(t, OAuthTokens{ExpiresAt: now.Add(time.Hour)}.Expired(now))
	require.True(t, OAuthTokens{ExpiresAt: now.Add(-time.Second)}.Expired(now))
}

func TestBusinessName(t *testing.T) {
	require.Equal(t, "Acme", Business{BusinessID: "X1", TradingName: "Acme"}.Name())
	require.Equal(t, "X1", Business{BusinessID: "X1"}.Name())
}
