package payment

import (
	"errors"
	"time"
)

const (
	yookassaAPIBaseURL     = "https://api.yookassa.ru"
	yookassaPaymentsPath   = "/v3/payments"
	yookassaPaymentPath    = "/v3/payments/{id}"
	yookassaDefaultTimeout = 15 * time.Second
)

// YooKassaConfig contains credentials for the YooKassa v3 API
type YooKassaConfig struct {
	// ShopID is the merchant shop identifier, used as the basic auth user
	ShopID string
	// SecretKey is the API secret key, used as the basic auth password
	SecretKey string
	// BaseURL overrides the API host, mainly for tests
	BaseURL string
	// Timeout bounds a single HTTP call
	Timeout time.Duration
}

// Errors for configuration validation
var (
	ErrYooKassaMissingShopID    = errors.New("yookassa: missing shop ID")
	ErrYooKassaMissingSecretKey = errors.New("yookassa: missing secret key")
)

// Validate validates the configuration
func (c *YooKassaConfig) Validate() error {
	if c.ShopID == "" {
		return ErrYooKassaMissingShopID
	}
	if c.SecretKey == "" {
		return ErrYooKassaMissingSecretKey
	}
	return nil
}

func (c *YooKassaConfig) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return yookassaAPIBaseURL
}

func (c *YooKassaConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return yookassaDefaultTimeout
}
