// Package config reads the service configuration from the environment once
// at startup.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/payment"
	"github.com/nazeru/storefront-checkout-go/internal/shipping"
)

type Config struct {
	Port           string
	DatabaseURL    string
	RequestTimeout time.Duration

	KafkaBrokers string
	KafkaTopic   string

	RedisAddr     string
	RedisPassword string

	Payment  payment.Config
	Shipping shipping.Config

	ReservationTTL time.Duration
	ReaperInterval time.Duration
	OutboxInterval time.Duration
	ReplayWindow   time.Duration
}

func Load() (Config, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	toutMS, err := strconv.Atoi(getenv("REQUEST_TIMEOUT_MS", "10000"))
	if err != nil || toutMS <= 0 {
		return Config{}, errors.New("REQUEST_TIMEOUT_MS must be a positive integer")
	}
	timeout := time.Duration(toutMS) * time.Millisecond

	ttl, err := duration("RESERVATION_TTL", "15m")
	if err != nil {
		return Config{}, err
	}
	reaper, err := duration("REAPER_INTERVAL", "1m")
	if err != nil {
		return Config{}, err
	}
	relay, err := duration("OUTBOX_INTERVAL", "2s")
	if err != nil {
		return Config{}, err
	}
	replay, err := duration("REPLAY_WINDOW", "15m")
	if err != nil {
		return Config{}, err
	}

	return Config{
		Port:           getenv("PORT", "8080"),
		DatabaseURL:    db,
		RequestTimeout: timeout,
		KafkaBrokers:   getenv("KAFKA_BROKERS", ""),
		KafkaTopic:     getenv("KAFKA_TOPIC", "storefront.events"),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		Payment: payment.Config{
			BaseURL:   strings.TrimRight(getenv("RAZORPAY_BASE_URL", "https://api.razorpay.com"), "/"),
			KeyID:     getenv("RAZORPAY_KEY_ID", ""),
			KeySecret: os.Getenv("RAZORPAY_KEY_SECRET"),
			Currency:  getenv("CURRENCY", "INR"),
			Timeout:   timeout,
		},
		Shipping: shipping.Config{
			BaseURL:       strings.TrimRight(getenv("SHIPROCKET_BASE_URL", "https://apiv2.shiprocket.in"), "/"),
			Email:         getenv("SHIPROCKET_EMAIL", ""),
			Password:      os.Getenv("SHIPROCKET_PASSWORD"),
			PickupPincode: getenv("SHIPPING_PICKUP_PINCODE", ""),
			Timeout:       timeout,
		},
		ReservationTTL: ttl,
		ReaperInterval: reaper,
		OutboxInterval: relay,
		ReplayWindow:   replay,
	}, nil
}

func duration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenv(key, def))
	if err != nil || d <= 0 {
		return 0, errors.New(key + " must be a positive duration")
	}
	return d, nil
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
