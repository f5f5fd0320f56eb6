package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr       string
	RedisPassword   string
	RedisGeoKey     string
	MirrorKeyPrefix string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	NotifierEndpoint string
	NotifierKey      string

	HoldAmount   int64 // callout-fee hold in minor units, 0 disables holds
	HoldCurrency string

	OfferResponseWindow time.Duration
	OfferCandidateMax   int
	EligibilityRadiusM  float64
	CancelReasonMinLen  int
	DefaultSpeedMps     float64
	OSRMEndpoint        string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		RedisGeoKey:         "providers_geo",
		MirrorKeyPrefix:     "job:mirror:",
		KafkaTopic:          "provider-locations",
		OfferResponseWindow: 30 * time.Second,
		OfferCandidateMax:   8,
		EligibilityRadiusM:  5000,
		CancelReasonMinLen:  10,
		DefaultSpeedMps:     10,
		HoldCurrency:        "inr",
		LogLevel:            "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.MirrorKeyPrefix, "REDIS_MIRROR_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.NotifierEndpoint, "NOTIFIER_ENDPOINT")
	cfg.NotifierKey = os.Getenv("NOTIFIER_KEY")

	setInt64FromEnv(&cfg.HoldAmount, "HOLD_AMOUNT", &errs)
	setStringFromEnv(&cfg.HoldCurrency, "HOLD_CURRENCY")

	setDurationFromEnv(&cfg.OfferResponseWindow, "OFFER_RESPONSE_WINDOW", &errs)
	setIntFromEnv(&cfg.OfferCandidateMax, "OFFER_CANDIDATE_MAX", &errs)
	setFloatFromEnv(&cfg.EligibilityRadiusM, "ELIGIBILITY_RADIUS_M", &errs)
	setIntFromEnv(&cfg.CancelReasonMinLen, "CANCEL_REASON_MIN_LEN", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.OfferCandidateMax <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_CANDIDATE_MAX must be > 0"))
	}
	if cfg.OfferResponseWindow <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_RESPONSE_WINDOW must be > 0"))
	}
	if cfg.CancelReasonMinLen < 1 {
		errs = append(errs, fmt.Errorf("CANCEL_REASON_MIN_LEN must be >= 1"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
