package hmrc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocalceum/calc/internal/domain"
)

// API encapsulates outbound calls to HMRC Making Tax Digital.
type API interface {
	AuthorizationURL(state string, scopes []string, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (domain.OAuthTokens, error)
	RefreshToken(ctx context.Context, refreshToken string) (domain.OAuthTokens, error)
	ListBusinesses(ctx context.Context, accessToken, nino string) ([]domain.Business, error)
	BusinessDetails(ctx context.Context, accessToken, nino, businessID string) (map[string]any, error)
	Obligations(ctx context.Context, accessToken, nino, obligationType, from, to string) ([]any, error)
}

// Config carries the HMRC application credentials and endpoints. It is
// injected at construction so tests can point the client at a stub server.
type Config struct {
	ClientID        string
	ClientSecret    string
	APIBaseURL      string
	AuthBaseURL     string
	RedirectURI     string
	SandboxNINO     string
	VendorVersion   string
	VendorLicenseID string
}

// Client is the default HTTP implementation of API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ API = (*Client)(nil)

// NewClient constructs the default HMRC client.
func NewClient(cfg Config, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{cfg: cfg, httpClient: client}
}

// AuthorizationURL builds the HMRC OAuth2 authorization URL.
func (c *Client) AuthorizationURL(state string, scopes []string, redirectURI string) string {
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURI
	}
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", c.cfg.ClientID)
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("state", state)
	params.Set("redirect_uri", redirectURI)
	return c.cfg.AuthBaseURL + "/oauth/authorize?" + params.Encode()
}

// ExchangeCode performs the authorization-code token exchange.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (domain.OAuthTokens, error) {
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURI
	}
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("client_id", c.cfg.ClientID)
	data.Set("client_secret", c.cfg.ClientSecret)
	data.Set("redirect_uri", redirectURI)
	return c.tokenRequest(ctx, data)
}

// RefreshToken exchanges a refresh token for a fresh token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domain.OAuthTokens, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", c.cfg.ClientID)
	data.Set("client_secret", c.cfg.ClientSecret)
	return c.tokenRequest(ctx, data)
}

func (c *Client) tokenRequest(ctx context.Context, data url.Values) (domain.OAuthTokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/oauth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return domain.OAuthTokens{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.OAuthTokens{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.OAuthTokens{}, fmt.Errorf("read token response: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil && resp.StatusCode < 300 {
		return domain.OAuthTokens{}, fmt.Errorf("decode token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		detail := stringValue(raw["error_description"])
		if detail == "" {
			detail = stringValue(raw["error"])
		}
		if detail == "" {
			detail = fmt.Sprintf("status=%d", resp.StatusCode)
		}
		return domain.OAuthTokens{}, fmt.Errorf("token endpoint: %s", detail)
	}

	tokens := domain.OAuthTokens{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		Scope:        stringValue(raw["scope"]),
	}
	if tokens.AccessToken == "" {
		return domain.OAuthTokens{}, fmt.Errorf("token endpoint: empty access token")
	}
	if expiresIn := int64Value(raw["expires_in"]); expiresIn > 0 {
		tokens.ExpiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second).UTC()
	}
	return tokens, nil
}

// ListBusinesses enumerates the businesses the authorized token can see.
// HMRC v2.0 returns listOfBusinesses; older responses used businesses. Both
// are normalized here so callers only ever see domain.Business.
func (c *Client) ListBusinesses(ctx context.Context, accessToken, nino string) ([]domain.Business, error) {
	if nino == "" {
		nino = c.cfg.SandboxNINO
	}
	raw, err := c.apiRequest(ctx, http.MethodGet, fmt.Sprintf("/individuals/business/details/%s/list", nino), accessToken, nil)
	if err != nil {
		return nil, err
	}

	root, _ := raw.(map[string]any)
	entries, ok := root["listOfBusinesses"].([]any)
	if !ok {
		entries, _ = root["businesses"].([]any)
	}

	businesses := make([]domain.Business, 0, len(entries))
	for _, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		businesses = append(businesses, domain.Business{
			BusinessID:                stringValue(fields["businessId"]),
			TypeOfBusiness:            stringValue(fields["typeOfBusiness"]),
			TradingName:               stringValue(fields["tradingName"]),
			NINO:                      stringValue(fields["nino"]),
			UTR:                       stringValue(fields["utr"]),
			VATRegistrationNumber:     stringValue(fields["vatRegistrationNumber"]),
			CompanyRegistrationNumber: stringValue(fields["companyRegistrationNumber"]),
			Raw:                       fields,
		})
	}
	return businesses, nil
}

// BusinessDetails loads the extended details document for one business.
func (c *Client) BusinessDetails(ctx context.Context, accessToken, nino, businessID string) (map[string]any, error) {
	if nino == "" {
		nino = c.cfg.SandboxNINO
	}
	raw, err := c.apiRequest(ctx, http.MethodGet, fmt.Sprintf("/individuals/business/details/%s/%s", nino, businessID), accessToken, nil)
	if err != nil {
		return nil, err
	}
	details, _ := raw.(map[string]any)
	return details, nil
}

// Obligations loads tax obligations for the given window.
func (c *Client) Obligations(ctx context.Context, accessToken, nino, obligationType, from, to string) ([]any, error) {
	if nino == "" {
		nino = c.cfg.SandboxNINO
	}
	if obligationType == "" {
		obligationType = "income-and-expenditure"
	}
	endpoint := fmt.Sprintf("/obligations/details/NINO/%s/%s", nino, obligationType)
	params := url.Values{}
	if from != "" {
		params.Set("from", from)
	}
	if to != "" {
		params.Set("to", to)
	}
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	raw, err := c.apiRequest(ctx, http.MethodGet, endpoint, accessToken, nil)
	if err != nil {
		return nil, err
	}
	root, _ := raw.(map[string]any)
	obligations, _ := root["obligations"].([]any)
	return obligations, nil
}

func (c *Client) apiRequest(ctx context.Context, method, endpoint, accessToken string, payload any) (any, error) {
	var body io.Reader
	if payload != nil && method != http.MethodGet {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBaseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.hmrc.2.0+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.fraudPreventionHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hmrc request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = string(raw)
		}
	}

	if resp.StatusCode >= 300 {
		message := fmt.Sprintf("request failed with status %d", resp.StatusCode)
		if fields, ok := parsed.(map[string]any); ok {
			if m := stringValue(fields["message"]); m != "" {
				message = m
			}
		}
		return nil, &APIError{Status: resp.StatusCode, Endpoint: endpoint, Message: message}
	}
	return parsed, nil
}

// fraudPreventionHeaders returns the Gov-Client/Gov-Vendor header set HMRC
// requires on every API call. Device and screen values are static
// placeholders rather than true client telemetry; real values would need to
// be captured in the browser and forwarded with each request.
func (c *Client) fraudPreventionHeaders() map[string]string {
	return map[string]string{
		"Gov-Client-Connection-Method":      "WEB_APP_VIA_SERVER",
		"Gov-Client-Device-ID":              "device-id-placeholder",
		"Gov-Client-User-IDs":               "calceum-user",
		"Gov-Client-Timezone":               "UTC+00:00",
		"Gov-Client-Window-Size":            "width=1920&height=1080",
		"Gov-Client-Browser-JS-User-Agent":  "calceum-hmrc-connect",
		"Gov-Client-Browser-Plugins":        "none",
		"Gov-Client-Browser-Do-Not-Track":   "false",
		"Gov-Client-Screens":                "width=1920&height=1080&colour-depth=24",
		"Gov-Client-Multi-Factor":           "type=AUTH_CODE",
		"Gov-Vendor-Version":                c.cfg.VendorVersion,
		"Gov-Vendor-License-IDs":            c.cfg.VendorLicenseID,
	}
}

// APIError carries the HMRC response status alongside the message so audit
// logging can record both.
type APIError struct {
	Status   int
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hmrc api %s: %s", e.Endpoint, e.Message)
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
