package hmrc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(apiURL string) Config {
	return Config{
		ClientID:        "client-id",
		ClientSecret:    "client-secret",
		APIBaseURL:      apiURL,
		AuthBaseURL:     "https://test-www.tax.service.gov.uk",
		RedirectURI:     "https://app.calceum.com/self-assessment/callback",
		SandboxNINO:     "NE101272A",
		VendorVersion:   "calceum=1.0.0",
		VendorLicenseID: "calceum-license",
	}
}

func TestAuthorizationURL(t *testing.T) {
	client := NewClient(testConfig("https://unused"), nil)

	raw := client.AuthorizationURL("state123", []string{"read:self-assessment", "write:self-assessment"}, "")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	require.Equal(t, "/oauth/authorize", parsed.Path)
	q := parsed.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "state123", q.Get("state"))
	require.Equal(t, "read:self-assessment write:self-assessment", q.Get("scope"))
	require.Equal(t, "https://app.calceum.com/self-assessment/callback", q.Get("redirect_uri"))
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		require.Equal(t, "auth-code", r.Form.Get("code"))
		require.Equal(t, "client-secret", r.Form.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":14400,"token_type":"bearer","scope":"read:self-assessment"}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), nil)
	tokens, err := client.ExchangeCode(context.Background(), "auth-code", "")
	require.NoError(t, err)
	require.Equal(t, "at", tokens.AccessToken)
	require.Equal(t, "rt", tokens.RefreshToken)
	require.Equal(t, "bearer", tokens.TokenType)
	require.WithinDuration(t, time.Now().Add(4*time.Hour), tokens.ExpiresAt, time.Minute)
}

func TestExchangeCode_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code already used"}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), nil)
	_, err := client.ExchangeCode(context.Background(), "stale-code", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "code already used")
}

func TestListBusinesses_V2Shape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/individuals/business/details/NE101272A/list", r.URL.Path)
		require.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		require.Equal(t, "application/vnd.hmrc.2.0+json", r.Header.Get("Accept"))
		require.Equal(t, "WEB_APP_VIA_SERVER", r.Header.Get("Gov-Client-Connection-Method"))
		require.Equal(t, "calceum=1.0.0", r.Header.Get("Gov-Vendor-Version"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"listOfBusinesses":[{"businessId":"XBIS12345678901","typeOfBusiness":"self-employment","tradingName":"Acme Plumbing","nino":"NE101272A"}]}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), nil)
	businesses, err := client.ListBusinesses(context.Background(), "at", "")
	require.NoError(t, err)
	require.Len(t, businesses, 1)
	require.Equal(t, "XBIS12345678901", businesses[0].BusinessID)
	require.Equal(t, "self-employment", businesses[0].TypeOfBusiness)
	require.Equal(t, "Acme Plumbing", businesses[0].Name())
}

func TestListBusinesses_LegacyShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"businesses":[{"businessId":"XBIS1","typeOfBusiness":"uk-property"}]}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), nil)
	businesses, err := client.ListBusinesses(context.Background(), "at", "")
	require.NoError(t, err)
	require.Len(t, businesses, 1)
	require.Equal(t, "XBIS1", businesses[0].BusinessID)
	// No trading name: display name falls back to the business ID.
	require.Equal(t, "XBIS1", businesses[0].Name())
}

func TestListBusinesses_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"The supplied NINO is not authorised"}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), nil)
	_, err := client.ListBusinesses(context.Background(), "at", "")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, apiErr.Status)
	require.Contains(t, apiErr.Message, "not authorised")
}

func TestObligations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/obligations/details/NINO/NE101272A/income-and-expenditure", r.URL.Path)
		require.Equal(t, "2025-01-01", r.URL.Query().Get("from"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"obligations":[{"status":"Open","periodKey":"#001"}]}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), nil)
	obligations, err := client.Obligations(context.Background(), "at", "", "", "2025-01-01", "2025-08-31")
	require.NoError(t, err)
	require.Len(t, obligations, 1)
}
