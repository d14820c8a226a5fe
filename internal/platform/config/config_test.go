package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(nil), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Store.Code != defaultStoreCode {
		t.Errorf("expected default store code, got %s", cfg.Store.Code)
	}
	if cfg.Store.CurrencyCode != defaultCurrencyCode {
		t.Errorf("expected default currency, got %s", cfg.Store.CurrencyCode)
	}
	if cfg.Checkout.SuccessURL != "/checkout/success" {
		t.Errorf("unexpected default success url: %s", cfg.Checkout.SuccessURL)
	}
	if len(cfg.Promotions) != 0 {
		t.Errorf("expected empty promotions, got %v", cfg.Promotions)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Notifications.Workers != defaultNotificationWorkers {
		t.Errorf("unexpected default notification workers: %d", cfg.Notifications.Workers)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"SHOP_SERVER_PORT":            "9090",
		"SHOP_SERVER_READ_TIMEOUT":    "20s",
		"SHOP_SERVER_WRITE_TIMEOUT":   "25s",
		"SHOP_SERVER_IDLE_TIMEOUT":    "2m",
		"SHOP_STORE_CODE":             "ACME",
		"SHOP_STORE_CURRENCY":         "EUR",
		"SHOP_STORE_TAX_RATE":         "19",
		"SHOP_STRIPE_SECRET_KEY":      "secret://stripe/api",
		"SHOP_STRIPE_PUBLISHABLE_KEY": "pk_test_123",
		"SHOP_PAYTM_MERCHANT_ID":      "MID123",
		"SHOP_PAYTM_MERCHANT_KEY":     "secret://paytm/key",
		"SHOP_PAYTM_WEBSITE":          "WEBSTAGING",
		"SHOP_PAYTM_ENDPOINT":         "https://securegw-stage.paytm.in",
		"SHOP_PAYTM_CALLBACK_URL":     "https://shop.example.com/api/v1/callbacks/payment",
		"SHOP_CHECKOUT_SUCCESS_URL":   "https://shop.example.com/thanks",
		"SHOP_CHECKOUT_FAILURE_URL":   "https://shop.example.com/retry",
		"SHOP_PROMOTIONS":             "summer=10, vip=25",
		"SHOP_IDEMPOTENCY_TTL":        "48h",
		"SHOP_NOTIFICATION_WORKERS":   "4",
	}

	secrets := map[string]string{
		"secret://stripe/api": "sk_test_resolved",
		"secret://paytm/key":  "paytm-key-resolved",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		value, ok := secrets[ref]
		if !ok {
			return "", errors.New("unknown secret")
		}
		return value, nil
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("Stripe.SecretKey", "Paytm.MerchantKey"),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Store.Code != "ACME" {
		t.Errorf("unexpected store code: %s", cfg.Store.Code)
	}
	if cfg.Stripe.SecretKey != "sk_test_resolved" {
		t.Errorf("stripe secret was not resolved: %s", cfg.Stripe.SecretKey)
	}
	if cfg.Stripe.PublishableKey != "pk_test_123" {
		t.Errorf("unexpected publishable key: %s", cfg.Stripe.PublishableKey)
	}
	if cfg.Paytm.MerchantKey != "paytm-key-resolved" {
		t.Errorf("paytm key was not resolved: %s", cfg.Paytm.MerchantKey)
	}
	if cfg.Paytm.CallbackURL != "https://shop.example.com/api/v1/callbacks/payment" {
		t.Errorf("unexpected callback url: %s", cfg.Paytm.CallbackURL)
	}
	if got := cfg.Promotions["SUMMER"]; got != "10" {
		t.Errorf("expected promotion SUMMER=10, got %q", got)
	}
	if got := cfg.Promotions["VIP"]; got != "25" {
		t.Errorf("expected promotion VIP=25, got %q", got)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Notifications.Workers != 4 {
		t.Errorf("unexpected notification workers: %d", cfg.Notifications.Workers)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	contents := "# local overrides\nexport SHOP_SERVER_PORT=7070\nSHOP_STORE_CODE='LOCAL'\n"
	if err := os.WriteFile(envPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(envPath))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from .env, got %s", cfg.Server.Port)
	}
	if cfg.Store.Code != "LOCAL" {
		t.Errorf("expected quoted value to be trimmed, got %s", cfg.Store.Code)
	}
}

func TestLoadEnvMapOverridesDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("SHOP_SERVER_PORT=7070\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvMap(map[string]string{"SHOP_SERVER_PORT": "6060"}),
		WithoutSystemEnv(),
		WithEnvFile(envPath),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "6060" {
		t.Errorf("expected env map to win over .env, got %s", cfg.Server.Port)
	}
}

func TestLoadFailsSecretResolution(t *testing.T) {
	env := map[string]string{
		"SHOP_STRIPE_SECRET_KEY": "secret://stripe/api",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected error for unresolved secret reference")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T: %v", err, err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Errorf("unexpected secret ref: %s", secretErr.Ref)
	}
}

func TestLoadReportsMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(nil),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.SecretKey", "Paytm.MerchantKey"),
	)
	if err == nil {
		t.Fatal("expected error for missing required secrets")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T: %v", err, err)
	}
	names := missing.Names()
	if len(names) != 2 {
		t.Fatalf("expected two missing secrets, got %v", names)
	}
}

func TestLoadRejectsInvalidIdempotency(t *testing.T) {
	env := map[string]string{
		"SHOP_IDEMPOTENCY_TTL": "-1h",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	found := false
	for _, field := range validation.Fields() {
		if field == "Idempotency.TTL" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Idempotency.TTL in fields, got %v", validation.Fields())
	}
}
