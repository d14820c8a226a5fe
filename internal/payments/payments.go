package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/commercekit/storefront/internal/domain"
	"github.com/commercekit/storefront/internal/platform/textutil"
)

// Logger defines the logging contract provider operations receive.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Configuration credential keys shared across providers.
const (
	ConfigKeySecret      = "secretKey"
	ConfigKeyPublishable = "publishableKey"
	ConfigKeyMerchantID  = "merchantId"
	ConfigKeyWebsite     = "websiteName"
)

// Well-known transaction detail keys the workflow reads. Anything outside this
// set is provider-specific and passed through opaquely.
const (
	// DetailTransactionID is the human-facing transaction reference retained
	// across a charge's authorize/capture lifecycle.
	DetailTransactionID = "TRANSACTIONID"
	// DetailProviderStatus is the provider-reported status of the last round-trip.
	DetailProviderStatus = "TRNAPPROVED"
	// DetailProviderRef is the provider-assigned charge or refund identifier
	// required by follow-up capture and refund calls.
	DetailProviderRef = "TRNORDERNUMBER"
	// DetailMessage carries free-form provider message text.
	DetailMessage = "MESSAGETEXT"
	// DetailInitToken is the pending-transaction token issued by redirect
	// providers at initiation, confirmed later by inbound callback.
	DetailInitToken = "INITIATETRANSACTIONID"
)

// StatusPending marks a redirect-provider transaction awaiting callback confirmation.
const StatusPending = "PENDING"

// Config is the store-scoped provider configuration resolved per request. There
// is no process-wide provider state; every operation receives its credentials
// explicitly.
type Config struct {
	ModuleCode  string
	Environment string
	Keys        map[string]string
	Endpoint    string
	CallbackURL string
}

// Key returns the trimmed credential under name, or empty.
func (c Config) Key(name string) string {
	if len(c.Keys) == 0 {
		return ""
	}
	return strings.TrimSpace(c.Keys[name])
}

// RequireKeys collects the names of every missing credential. It never
// short-circuits so a single error can report all missing fields.
func (c Config) RequireKeys(names ...string) []string {
	var missing []string
	for _, name := range names {
		if c.Key(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Provider is the contract every payment module implements. Operations return a
// domain.Transaction describing the provider round-trip, or a classified *Error.
type Provider interface {
	// ValidateConfiguration checks that required credentials are present,
	// aggregating every missing field name into one validation error.
	ValidateConfiguration(cfg Config, store domain.MerchantStore) error

	// InitTransaction builds a lightweight transaction carrying the public
	// credential for client-side tokenization. No network call is made.
	InitTransaction(ctx context.Context, store domain.MerchantStore, customer domain.Customer, amount decimal.Decimal, payment domain.Payment, cfg Config) (domain.Transaction, error)

	// Authorize reserves funds against a tokenized instrument.
	Authorize(ctx context.Context, store domain.MerchantStore, customer domain.Customer, items []domain.CartItem, amount decimal.Decimal, payment domain.Payment, cfg Config) (domain.Transaction, error)

	// Capture collects funds previously reserved by capturable.
	Capture(ctx context.Context, store domain.MerchantStore, customer domain.Customer, order domain.Order, capturable domain.Transaction, cfg Config) (domain.Transaction, error)

	// AuthorizeAndCapture performs a single-step reserve and collect. Redirect
	// providers only create the pending transaction token here; confirmation
	// arrives later through the inbound callback.
	AuthorizeAndCapture(ctx context.Context, order domain.Order, store domain.MerchantStore, customer domain.Customer, items []domain.CartItem, amount decimal.Decimal, payment domain.Payment, cfg Config) (domain.Transaction, error)

	// Refund returns captured funds, fully or the given partial amount.
	Refund(ctx context.Context, partial bool, store domain.MerchantStore, transaction domain.Transaction, order domain.Order, amount decimal.Decimal, cfg Config) (domain.Transaction, error)
}

// ErrUnsupportedModule is returned when the manager cannot locate a module.
var ErrUnsupportedModule = errors.New("payments: unsupported module")

// Manager holds the registered payment modules and resolves them by module code.
type Manager struct {
	modules map[string]Provider
}

// NewManager constructs a Manager over the supplied modules.
func NewManager(modules map[string]Provider) (*Manager, error) {
	if len(modules) == 0 {
		return nil, errors.New("payments: at least one module is required")
	}
	copyMap := make(map[string]Provider, len(modules))
	for code, provider := range modules {
		key := textutil.NormalizeCode(code)
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid module registration for code %q", code)
		}
		copyMap[key] = provider
	}
	return &Manager{modules: copyMap}, nil
}

// Resolve returns the provider registered under the given module code.
func (m *Manager) Resolve(moduleCode string) (Provider, error) {
	if m == nil || len(m.modules) == 0 {
		return nil, ErrUnsupportedModule
	}
	provider, ok := m.modules[textutil.NormalizeCode(moduleCode)]
	if !ok {
		return nil, ErrUnsupportedModule
	}
	return provider, nil
}

// ConfigResolver resolves a store's configuration for a payment module.
type ConfigResolver interface {
	PaymentConfiguration(ctx context.Context, storeCode, moduleCode string) (Config, error)
}

// StaticConfigResolver serves configurations from a fixed in-memory table,
// keyed by store code then module code.
type StaticConfigResolver struct {
	configs map[string]map[string]Config
}

// NewStaticConfigResolver builds a resolver over the provided table.
func NewStaticConfigResolver(configs map[string]map[string]Config) *StaticConfigResolver {
	copied := make(map[string]map[string]Config, len(configs))
	for store, modules := range configs {
		inner := make(map[string]Config, len(modules))
		for module, cfg := range modules {
			cfg.Keys = textutil.NormalizeStringMap(cfg.Keys)
			inner[textutil.NormalizeCode(module)] = cfg
		}
		copied[store] = inner
	}
	return &StaticConfigResolver{configs: copied}
}

// PaymentConfiguration implements ConfigResolver.
func (r *StaticConfigResolver) PaymentConfiguration(_ context.Context, storeCode, moduleCode string) (Config, error) {
	if r == nil {
		return Config{}, fmt.Errorf("payments: config resolver is nil")
	}
	modules, ok := r.configs[storeCode]
	if !ok {
		return Config{}, fmt.Errorf("payments: no configuration for store %q", storeCode)
	}
	cfg, ok := modules[textutil.NormalizeCode(moduleCode)]
	if !ok {
		return Config{}, fmt.Errorf("payments: store %q has no configuration for module %q", storeCode, moduleCode)
	}
	return cfg, nil
}
