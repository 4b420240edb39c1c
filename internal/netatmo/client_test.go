package netatmo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		HTTPClient: srv.Client(),
		BaseURL:    srv.URL,
		Credentials: Credentials{
			ClientID:     "id",
			ClientSecret: "secret",
			Username:     "user",
			Password:     "pass",
		},
		ListRetries: 3,
		RetryDelay:  time.Millisecond,
	})
	return client, srv
}

func TestGetAccessToken(t *testing.T) {
	var gotGrant string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotGrant = r.PostForm.Get("grant_type")
		w.Write([]byte(`{"access_token":"abc123","expires_in":10800}`))
	}))

	token, err := client.GetAccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "abc123" {
		t.Errorf("expected abc123, got %q", token)
	}
	if gotGrant != "password" {
		t.Errorf("expected a password grant, got %q", gotGrant)
	}
}

func TestGetAccessTokenMissingToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expires_in":10800}`))
	}))

	_, err := client.GetAccessToken(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected an AuthError, got %v", err)
	}
}

func TestGetAccessTokenVendorError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))

	_, err := client.GetAccessToken(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected an AuthError, got %v", err)
	}
	if authErr.VendorMessage != "invalid_grant" {
		t.Errorf("expected the vendor message to be wrapped, got %q", authErr.VendorMessage)
	}
}

func TestGetAccessTokenCached(t *testing.T) {
	var requests int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`{"access_token":"abc123","expires_in":10800}`))
	}))

	for i := 0; i < 3; i++ {
		token, err := client.GetAccessTokenCached(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token != "abc123" {
			t.Errorf("expected abc123, got %q", token)
		}
	}

	if requests != 1 {
		t.Errorf("expected one token request across all callers, got %d", requests)
	}
}

func TestGetAccessTokenCachedRefreshesNearExpiry(t *testing.T) {
	var requests int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// Expires inside the safety buffer, so every call refreshes.
		w.Write([]byte(`{"access_token":"abc123","expires_in":30}`))
	}))

	for i := 0; i < 2; i++ {
		if _, err := client.GetAccessTokenCached(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if requests != 2 {
		t.Errorf("expected a refresh on each call, got %d requests", requests)
	}
}

func TestGetPublicDevices(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization header %q", got)
		}
		q := r.URL.Query()
		if q.Get("lat_ne") != "52.44" || q.Get("lon_sw") != "-2.09" {
			t.Errorf("unexpected bounding box params: %v", q)
		}
		w.Write([]byte(`{"body":[{"_id":"70:ee:50:17:eb:1a","place":{"location":[-1.949845,52.461884],"timezone":"Europe/London","country":"GB","altitude":160,"city":"Birmingham","street":"Park Hill Road"},"measures":{}}],"status":"ok"}`))
	}))

	stations, err := client.GetPublicDevices(context.Background(), "tok", Window{North: 52.44, South: 52.34, West: -2.09, East: -1.99})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stations) != 1 {
		t.Fatalf("expected 1 station, got %d", len(stations))
	}
	if stations[0].ID != "70:ee:50:17:eb:1a" {
		t.Errorf("unexpected station id %q", stations[0].ID)
	}
	if stations[0].Place.City != "Birmingham" {
		t.Errorf("unexpected city %q", stations[0].Place.City)
	}
}

func TestGetPublicDevicesWithRetries(t *testing.T) {
	var requests int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"Internal error","code":500}}`))
			return
		}
		w.Write([]byte(`{"body":[],"status":"ok"}`))
	}))

	_, attempt, err := client.GetPublicDevicesWithRetries(context.Background(), "tok", Window{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempt != 3 {
		t.Errorf("expected success on attempt 3, got %d", attempt)
	}
}

func TestGetPublicDevicesWithRetriesExhausted(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"Internal error","code":500}}`))
	}))

	_, _, err := client.GetPublicDevicesWithRetries(context.Background(), "tok", Window{})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected the final RequestError, got %v", err)
	}
	if reqErr.VendorMessage != "Internal error" {
		t.Errorf("expected the vendor message to survive retries, got %q", reqErr.VendorMessage)
	}
}

func TestGetMeasure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("scale") != "max" || q.Get("optimize") != "false" {
			t.Errorf("unexpected params: %v", q)
		}
		if !strings.Contains(q.Get("type"), ",") {
			t.Errorf("expected a comma-joined type list, got %q", q.Get("type"))
		}
		w.Write([]byte(`{"body":{"1581094840":[6.7,81],"1581095140":[null,80]},"status":"ok"}`))
	}))

	measurements, err := client.GetMeasure(context.Background(), GetMeasureParams{
		DeviceID:    "70:ee:50:17:eb:1a",
		ModuleID:    "02:00:00:17:68:62",
		AccessToken: "tok",
		Channels:    []Channel{ChannelTemperature, ChannelHumidity},
		DateBegin:   time.Unix(1581094800, 0),
		DateEnd:     time.Unix(1581095200, 0),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(measurements) != 2 {
		t.Fatalf("expected 2 measurements, got %d", len(measurements))
	}
	if measurements[1].Temperature != nil {
		t.Error("null temperature cell should have been dropped")
	}
	if measurements[1].Humidity == nil || *measurements[1].Humidity != 80 {
		t.Errorf("unexpected humidity: %v", measurements[1].Humidity)
	}
}

func TestGetMeasureNotRetried(t *testing.T) {
	var requests int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"Internal error","code":500}}`))
	}))

	_, err := client.GetMeasure(context.Background(), GetMeasureParams{
		Channels: []Channel{ChannelRain},
	})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected a RequestError, got %v", err)
	}
	if requests != 1 {
		t.Errorf("getmeasure must be single-attempt, saw %d requests", requests)
	}
}
