package payment

import (
	"github.com/ariefcatur/storefront-settlement/internal/config"
	"github.com/ariefcatur/storefront-settlement/internal/metrics"
)

// RegistryFromConfig registers every provider that has a secret key configured.
func RegistryFromConfig(cfg config.Payment, m *metrics.Metrics) *Registry {
	var gws []Gateway
	if cfg.PaystackSecretKey != "" {
		gws = append(gws, NewPaystack(PaystackConfig{
			SecretKey: cfg.PaystackSecretKey,
			BaseURL:   cfg.PaystackBaseURL,
			Timeout:   cfg.Timeout,
		}, m))
	}
	if cfg.FlutterwaveSecretKey != "" {
		gws = append(gws, NewFlutterwave(FlutterwaveConfig{
			SecretKey:  cfg.FlutterwaveSecretKey,
			SecretHash: cfg.FlutterwaveSecretHash,
			BaseURL:    cfg.FlutterwaveBaseURL,
			Currency:   cfg.FlutterwaveCurrency,
			Timeout:    cfg.Timeout,
		}, m))
	}
	return NewRegistry(cfg.DefaultProvider, gws...)
}
