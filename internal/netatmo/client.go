package netatmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	defaultBaseURL    = "https://api.netatmo.net"
	defaultRetries    = 5
	defaultRetryDelay = time.Second

	// tokenExpiryBuffer leaves enough time to actually use a cached token,
	// even with a pacing delay in front of the request.
	tokenExpiryBuffer = time.Minute
)

// Credentials is the single service-account credential set used for the
// password-grant token exchange.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// AuthError reports a rejected token exchange.
type AuthError struct {
	Reason        string
	VendorMessage string
}

func (e *AuthError) Error() string {
	msg := "token request failed"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.VendorMessage != "" {
		msg += fmt.Sprintf(" (netatmo error: %s)", e.VendorMessage)
	}
	return msg
}

// RequestError reports a failed vendor call, including any error payload
// the vendor supplied.
type RequestError struct {
	Op            string
	Status        int
	VendorMessage string
	Err           error
}

func (e *RequestError) Error() string {
	msg := e.Op + " request failed"
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.VendorMessage != "" {
		msg += fmt.Sprintf(" (netatmo error: %s)", e.VendorMessage)
	}
	return msg
}

func (e *RequestError) Unwrap() error { return e.Err }

// ErrMalformedResponse indicates a vendor response that did not match the
// documented shape. This is programmer-visible and should never be
// silently swallowed.
var ErrMalformedResponse = errors.New("netatmo response is not formatted as expected")

// ClientConfig configures a Client. HTTPClient and Credentials are
// required; the rest default sensibly.
type ClientConfig struct {
	HTTPClient  *http.Client
	Credentials Credentials
	BaseURL     string
	ListRetries int           // attempts for getpublicdata
	RetryDelay  time.Duration // fixed delay between getpublicdata attempts
}

// Client wraps the three Netatmo endpoints the ingester needs. The token
// cache is owned by the instance, so independent pollers (and tests) get
// independent caches.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	creds       Credentials
	listRetries int
	retryDelay  time.Duration

	// The getmeasure endpoint is never retried at this layer: repeated
	// vendor 500s on one module should count toward that module's
	// eviction. The breaker just stops us hammering a dead endpoint.
	measureBreaker *gobreaker.CircuitBreaker

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ListRetries <= 0 {
		cfg.ListRetries = defaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "netatmo-getmeasure",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		httpClient:     cfg.HTTPClient,
		baseURL:        cfg.BaseURL,
		creds:          cfg.Credentials,
		listRetries:    cfg.ListRetries,
		retryDelay:     cfg.RetryDelay,
		measureBreaker: cb,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// GetAccessToken exchanges the credentials for a fresh bearer token. Used
// for the device-list refresh, which can span enough windows that a cached
// token would expire part way through anyway.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	tok, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// GetAccessTokenCached returns the last-issued token unless it expires
// within the safety buffer, in which case a new one is requested and
// cached along with its absolute expiry.
func (c *Client) GetAccessTokenCached(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Add(tokenExpiryBuffer).Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	tok, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.mu.Unlock()

	return tok.AccessToken, nil
}

func (c *Client) requestToken(ctx context.Context) (tokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.creds.ClientID)
	form.Set("client_secret", c.creds.ClientSecret)
	form.Set("username", c.creds.Username)
	form.Set("password", c.creds.Password)
	form.Set("grant_type", "password")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, &AuthError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenResponse{}, &AuthError{Reason: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenResponse{}, &AuthError{
			Reason:        fmt.Sprintf("status %d", resp.StatusCode),
			VendorMessage: vendorErrorMessage(body),
		}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return tokenResponse{}, &AuthError{Reason: err.Error()}
	}
	if tok.AccessToken == "" {
		return tokenResponse{}, &AuthError{Reason: "did not receive an access_token from the Netatmo API"}
	}
	return tok, nil
}

// PublicStation is one raw station record from getpublicdata.
type PublicStation struct {
	ID       string                   `json:"_id"`
	Place    StationPlace             `json:"place"`
	Measures map[string]StationModule `json:"measures"`
}

// StationPlace carries the station's coordinates and descriptive metadata.
// Location is [longitude, latitude].
type StationPlace struct {
	Location []float64 `json:"location"`
	Timezone string    `json:"timezone"`
	Country  string    `json:"country"`
	Altitude float64   `json:"altitude"`
	City     string    `json:"city"`
	Street   string    `json:"street"`
}

// StationModule is one entry in a station's measures map. Which of the
// fields are set identifies the module variant: a type list containing
// "temperature" marks an outdoor module, one containing "pressure" the
// indoor base station, a wind_timeutc field an anemometer and a
// rain_timeutc field a rain gauge.
type StationModule struct {
	Type        []string `json:"type"`
	WindTimeUTC *int64   `json:"wind_timeutc"`
	RainTimeUTC *int64   `json:"rain_timeutc"`
}

// GetPublicDevices fetches device/module listings bounded by one window.
func (c *Client) GetPublicDevices(ctx context.Context, accessToken string, w Window) ([]PublicStation, error) {
	values := url.Values{}
	values.Set("lat_ne", fmt.Sprintf("%v", w.North))
	values.Set("lon_ne", fmt.Sprintf("%v", w.East))
	values.Set("lat_sw", fmt.Sprintf("%v", w.South))
	values.Set("lon_sw", fmt.Sprintf("%v", w.West))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/getpublicdata?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := c.do(req, "getpublicdata")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Body) == 0 {
		return nil, fmt.Errorf("getpublicdata: %w", ErrMalformedResponse)
	}

	var stations []PublicStation
	if err := json.Unmarshal(payload.Body, &stations); err != nil {
		return nil, fmt.Errorf("getpublicdata: %w", ErrMalformedResponse)
	}
	return stations, nil
}

// GetPublicDevicesWithRetries retries GetPublicDevices with a fixed
// inter-attempt delay. The getpublicdata endpoint intermittently returns
// internal errors for no obvious reason, so a handful of retries usually
// gets through. The final error is re-raised untouched after exhaustion;
// the attempt count that succeeded is returned for observability.
func (c *Client) GetPublicDevicesWithRetries(ctx context.Context, accessToken string, w Window) ([]PublicStation, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.listRetries; attempt++ {
		stations, err := c.GetPublicDevices(ctx, accessToken, w)
		if err == nil {
			return stations, attempt, nil
		}
		logrus.WithFields(logrus.Fields{"attempt": attempt, "error": err.Error()}).Debug("getpublicdata attempt failed")
		lastErr = err

		if attempt == c.listRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	return nil, c.listRetries, lastErr
}

// GetMeasureParams identifies one device+module+channel-set and the time
// range to pull readings for.
type GetMeasureParams struct {
	DeviceID    string
	ModuleID    string
	AccessToken string
	Channels    []Channel
	Scale       string // defaults to "max"
	DateBegin   time.Time
	DateEnd     time.Time
}

// GetMeasure fetches readings for one module. Failures are surfaced to the
// caller as-is so they can be recorded against the module's fail count.
func (c *Client) GetMeasure(ctx context.Context, params GetMeasureParams) ([]Measurement, error) {
	scale := params.Scale
	if scale == "" {
		scale = "max"
	}

	channelNames := make([]string, len(params.Channels))
	for i, ch := range params.Channels {
		channelNames[i] = string(ch)
	}

	values := url.Values{}
	values.Set("access_token", params.AccessToken)
	values.Set("scale", scale)
	values.Set("device_id", params.DeviceID)
	values.Set("module_id", params.ModuleID)
	values.Set("type", strings.Join(channelNames, ","))
	// The column-aligned layout is far easier to work with than the
	// optimised one.
	values.Set("optimize", "false")
	if !params.DateBegin.IsZero() {
		values.Set("date_begin", fmt.Sprintf("%d", params.DateBegin.Unix()))
	}
	if !params.DateEnd.IsZero() {
		values.Set("date_end", fmt.Sprintf("%d", params.DateEnd.Unix()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/getmeasure?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	result, err := c.measureBreaker.Execute(func() (interface{}, error) {
		return c.do(req, "getmeasure")
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &RequestError{Op: "getmeasure", Err: err}
		}
		return nil, err
	}
	body := result.([]byte)

	var payload struct {
		Body map[string][]*float64 `json:"body"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Body == nil {
		return nil, fmt.Errorf("getmeasure: %w", ErrMalformedResponse)
	}

	return parseMeasureBody(payload.Body, params.Channels), nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{
			Op:            op,
			Status:        resp.StatusCode,
			VendorMessage: vendorErrorMessage(body),
		}
	}
	return body, nil
}

// vendorErrorMessage pulls the error message out of a vendor error
// payload. The error field is sometimes a plain string and sometimes an
// object with message and code fields.
func vendorErrorMessage(body []byte) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Error, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &obj); err == nil {
		return obj.Message
	}
	return ""
}
