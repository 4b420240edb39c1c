package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/urbanflux/netatmo-ingest/internal/netatmo"
)

// AppConfig is everything the process needs, read once at startup.
type AppConfig struct {
	Region      netatmo.Region
	Credentials netatmo.Credentials

	// SecondsBetweenRequests paces every outbound vendor call.
	SecondsBetweenRequests time.Duration

	// DeviceListUpdateInterval is how often the device list is refreshed.
	DeviceListUpdateInterval time.Duration

	// AnnounceEvery: throughput statistics are logged every n devices.
	AnnounceEvery int

	// MaxConsecutiveFails is the module eviction threshold.
	MaxConsecutiveFails int

	// ListRetries caps attempts for each getpublicdata call.
	ListRetries int

	DatabaseURL string

	MQTTBrokerURL string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string

	// HTTPTimeout bounds every vendor HTTP call, so a hung request
	// cannot stall the poller forever.
	HTTPTimeout time.Duration

	// StatsInterval is the cadence of the periodic fleet-size report.
	StatsInterval time.Duration

	Port string
}

// envBounds mirrors the checks the environment must pass before the
// process starts; the cross-field rules catch inverted regions.
type envBounds struct {
	North          float64 `validate:"min=-90,max=90,gtfield=South"`
	South          float64 `validate:"min=-90,max=90"`
	East           float64 `validate:"min=-180,max=180,gtfield=West"`
	West           float64 `validate:"min=-180,max=180"`
	MaxWindowWidth float64 `validate:"gt=0,max=360"`
	ClientID       string  `validate:"required"`
	ClientSecret   string  `validate:"required"`
	Username       string  `validate:"required"`
	Password       string  `validate:"required"`
	DatabaseURL    string  `validate:"required"`
	MQTTBrokerURL  string  `validate:"required"`
}

var validate = validator.New()

// Load reads configuration from the environment (optionally a .env file)
// with sensible defaults, and validates it.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	north, err := requireFloat("NETATMO_NORTH_LAT_EXTENT")
	if err != nil {
		return nil, err
	}
	south, err := requireFloat("NETATMO_SOUTH_LAT_EXTENT")
	if err != nil {
		return nil, err
	}
	east, err := requireFloat("NETATMO_EAST_LON_EXTENT")
	if err != nil {
		return nil, err
	}
	west, err := requireFloat("NETATMO_WEST_LON_EXTENT")
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		Region: netatmo.Region{
			North:          north,
			South:          south,
			East:           east,
			West:           west,
			MaxWindowWidth: getenvFloat("NETATMO_MAX_WINDOW_WIDTH", 0.1),
		},
		Credentials: netatmo.Credentials{
			ClientID:     os.Getenv("NETATMO_CLIENT_ID"),
			ClientSecret: os.Getenv("NETATMO_CLIENT_SECRET"),
			Username:     os.Getenv("NETATMO_USERNAME"),
			Password:     os.Getenv("NETATMO_PASSWORD"),
		},
		SecondsBetweenRequests:   time.Duration(getenvInt("NETATMO_SECONDS_BETWEEN_REQUESTS", 7)) * time.Second,
		DeviceListUpdateInterval: time.Duration(getenvInt("NETATMO_MINUTES_BETWEEN_DEVICE_LIST_UPDATE", 120)) * time.Minute,
		AnnounceEvery:            getenvInt("NETATMO_ANNOUNCE_EVERY", 100),
		MaxConsecutiveFails:      getenvInt("NETATMO_MAX_CONSECUTIVE_FAILS", 10),
		ListRetries:              getenvInt("NETATMO_LIST_RETRIES", 5),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		MQTTBrokerURL:            os.Getenv("MQTT_BROKER_URL"),
		MQTTClientID:             getenvDefault("MQTT_CLIENT_ID", "netatmo-ingest"),
		MQTTUsername:             os.Getenv("MQTT_USERNAME"),
		MQTTPassword:             os.Getenv("MQTT_PASSWORD"),
		Port:                     getenvDefault("PORT", "8080"),
	}

	timeoutStr := getenvDefault("HTTP_TIMEOUT", "30s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	statsStr := getenvDefault("STATS_INTERVAL", "60m")
	statsInterval, err := time.ParseDuration(statsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid STATS_INTERVAL: %w", err)
	}
	cfg.StatsInterval = statsInterval

	bounds := envBounds{
		North:          cfg.Region.North,
		South:          cfg.Region.South,
		East:           cfg.Region.East,
		West:           cfg.Region.West,
		MaxWindowWidth: cfg.Region.MaxWindowWidth,
		ClientID:       cfg.Credentials.ClientID,
		ClientSecret:   cfg.Credentials.ClientSecret,
		Username:       cfg.Credentials.Username,
		Password:       cfg.Credentials.Password,
		DatabaseURL:    cfg.DatabaseURL,
		MQTTBrokerURL:  cfg.MQTTBrokerURL,
	}
	if err := validate.Struct(bounds); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func requireFloat(key string) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}
