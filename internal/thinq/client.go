package thinq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joshp123/thinq/internal/locale"
)

const (
	gatewayURL = "https://route.lgthinq.com:46030/v1/service/application/gateway-uri"

	apiKey       = "VGhpblEyLjAgU0VSVklDRQ=="
	apiClientID  = "65260af7e8e6547b51fdccf930097c51eb9885a508d3fddfa9ee6cdec22ae1bd"
	serviceCode  = "SVC202"
	servicePhase = "OP"
	appLevel     = "PRD"
	appOS        = "LINUX"
	appType      = "NUTS"
	appVersion   = "3.0.1700"
	securityKey  = "nuts_securitykey"
)

// Credentials supplies the account token for authenticated requests.
// Invalidate forces a refresh after the backend rejects the current token;
// the session manager coalesces concurrent calls into one refresh.
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
	UserNumber() string
	Invalidate(ctx context.Context) error
}

// GatewayInfo is the per-locale endpoint set returned by route discovery.
type GatewayInfo struct {
	ThinQ2URI string `json:"thinq2Uri"`
	ThinQ1URI string `json:"thinq1Uri"`
	EmpURI    string `json:"empUri"`
	EmpSpxURI string `json:"empSpxUri"`
	OAuthURI  string `json:"oauthUri"`
}

// Client talks to the ThinQ v2 API. All requests carry the standard vendor
// header set; the JSON schema behind them is the backend's contract, not ours.
type Client struct {
	baseURL    string
	gatewayURL string
	locale     locale.Locale
	creds      Credentials

	httpClient *http.Client
}

// Option tweaks client construction, mostly for tests.
type Option func(*Client)

// WithBaseURL pins the API base, skipping gateway discovery.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithGatewayURL overrides the route discovery endpoint.
func WithGatewayURL(url string) Option {
	return func(c *Client) { c.gatewayURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(loc locale.Locale, creds Credentials, opts ...Option) *Client {
	c := &Client{
		gatewayURL: gatewayURL,
		locale:     loc,
		creds:      creds,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Locale returns the locale this client is bound to.
func (c *Client) Locale() locale.Locale {
	return c.locale
}

// Gateway resolves the per-locale endpoint set. Called once at startup and
// again only if the session manager asks for a full reconnect.
func (c *Client) Gateway(ctx context.Context) (GatewayInfo, error) {
	var info GatewayInfo
	if err := c.do(ctx, http.MethodGet, c.gatewayURL, nil, &info, false); err != nil {
		return GatewayInfo{}, err
	}
	if info.ThinQ2URI == "" {
		return GatewayInfo{}, &TransportError{Op: "gateway", Err: fmt.Errorf("empty thinq2Uri for %s", c.locale)}
	}
	if c.baseURL == "" {
		c.baseURL = strings.TrimSuffix(info.ThinQ2URI, "/")
	}
	return info, nil
}

// GetJSON performs an authenticated GET against the API base and decodes the
// result envelope into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, c.url(path), nil, out, true)
}

// PostJSON performs an authenticated POST with a JSON payload.
func (c *Client) PostJSON(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPost, c.url(path), payload, out, true)
}

// FetchRaw retrieves an unauthenticated document, such as a model descriptor
// or language pack, from the URL the catalog handed out.
func (c *Client) FetchRaw(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "fetch " + url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrDeviceNotFound
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Code: fmt.Sprintf("%d", resp.StatusCode), Message: string(body)}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) url(path string) string {
	if c.baseURL == "" {
		return path
	}
	return c.baseURL + "/" + strings.TrimPrefix(path, "/")
}

func (c *Client) do(ctx context.Context, method, url string, payload, out any, authed bool) error {
	err := c.doOnce(ctx, method, url, payload, out, authed)
	if err == nil || !authed {
		return err
	}

	// A token the backend no longer accepts gets one refresh and one retry;
	// any other failure propagates untouched.
	if !errors.Is(err, ErrNotLoggedIn) {
		return err
	}
	if invErr := c.creds.Invalidate(ctx); invErr != nil {
		return invErr
	}
	return c.doOnce(ctx, method, url, payload, out, authed)
}

func (c *Client) doOnce(ctx context.Context, method, url string, payload, out any, authed bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	if authed {
		token, err := c.creds.AccessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("x-emp-token", token)
		if userNo := c.creds.UserNumber(); userNo != "" {
			req.Header.Set("x-user-no", userNo)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read " + url, Err: err}
	}

	var envelope struct {
		ResultCode string          `json:"resultCode"`
		Result     json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return &TransportError{Op: "decode " + url, Err: err}
	}
	if envelope.ResultCode == "" {
		return &APIError{Code: "-1", Message: string(data)}
	}
	if envelope.ResultCode != "0000" {
		return resultError(envelope.ResultCode, string(envelope.Result))
	}

	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &TransportError{Op: "decode result " + url, Err: err}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	h := req.Header
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json;charset=UTF-8")
	h.Set("x-api-key", apiKey)
	h.Set("x-client-id", apiClientID)
	h.Set("x-country-code", c.locale.Country)
	h.Set("x-language-code", c.locale.Tag())
	h.Set("x-message-id", uuid.NewString())
	h.Set("x-service-code", serviceCode)
	h.Set("x-service-phase", servicePhase)
	h.Set("x-thinq-app-level", appLevel)
	h.Set("x-thinq-app-os", appOS)
	h.Set("x-thinq-app-type", appType)
	h.Set("x-thinq-app-ver", appVersion)
	h.Set("x-thinq-security-key", securityKey)
}
