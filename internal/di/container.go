package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercekit/storefront/internal/payments"
	"github.com/commercekit/storefront/internal/platform/config"
	"github.com/commercekit/storefront/internal/platform/idempotency"
	"github.com/commercekit/storefront/internal/repositories"
	"github.com/commercekit/storefront/internal/services"
)

// Module codes registered with the payment manager. Store payment
// configuration and commit requests address providers by these names.
const (
	ModuleStripe = "stripe"
	ModulePaytm  = "paytm"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders        services.OrderService
	Totals        services.OrderTotalService
	Callbacks     services.CallbackService
	Notifications services.NotificationService
}

// Container wires repositories, payment providers, services, and background
// infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Payments     *payments.Manager
	Idempotency  idempotency.Store
	Services     Services
}

// ContainerDeps carries the externally supplied pieces. Tests can inject an
// in-memory registry and a fake email sender.
type ContainerDeps struct {
	Registry    repositories.Registry
	Idempotency idempotency.Store
	Sender      services.EmailSender
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Idempotency == nil {
		deps.Idempotency = idempotency.NewMemoryStore()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.Sender == nil {
		deps.Sender = services.LogEmailSender{Logger: deps.Logger}
	}

	manager, err := buildPaymentManager(cfg, deps)
	if err != nil {
		return nil, err
	}

	configs, err := buildConfigResolver(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(cfg, deps, manager, configs)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Payments:     manager,
		Idempotency:  deps.Idempotency,
		Services:     svc,
	}, nil
}

// Close releases background workers and repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Notifications != nil {
		if err := c.Services.Notifications.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notifications: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildPaymentManager(cfg config.Config, deps ContainerDeps) (*payments.Manager, error) {
	modules := make(map[string]payments.Provider)
	modules[ModuleStripe] = payments.NewStripeProvider(payments.StripeProviderConfig{
		Logger: deps.Logger,
		Clock:  deps.Clock,
	})
	modules[ModulePaytm] = payments.NewPaytmProvider(payments.PaytmProviderConfig{
		Logger: deps.Logger,
		Clock:  deps.Clock,
	})

	manager, err := payments.NewManager(modules)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func buildConfigResolver(cfg config.Config) (payments.ConfigResolver, error) {
	store := cfg.Store.Code
	table := map[string]map[string]payments.Config{
		store: {
			ModuleStripe: {
				ModuleCode: ModuleStripe,
				Keys: map[string]string{
					payments.ConfigKeySecret:      cfg.Stripe.SecretKey,
					payments.ConfigKeyPublishable: cfg.Stripe.PublishableKey,
				},
			},
			ModulePaytm: {
				ModuleCode: ModulePaytm,
				Keys: map[string]string{
					payments.ConfigKeySecret:     cfg.Paytm.MerchantKey,
					payments.ConfigKeyMerchantID: cfg.Paytm.MerchantID,
					payments.ConfigKeyWebsite:    cfg.Paytm.WebsiteName,
				},
				Endpoint:    cfg.Paytm.Endpoint,
				CallbackURL: cfg.Paytm.CallbackURL,
			},
		},
	}
	return payments.NewStaticConfigResolver(table), nil
}

func buildServices(cfg config.Config, deps ContainerDeps, manager *payments.Manager, configs payments.ConfigResolver) (Services, error) {
	var svc Services

	promos := make(map[string]decimal.Decimal, len(cfg.Promotions))
	for code, raw := range cfg.Promotions {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return Services{}, fmt.Errorf("invalid promotion rate for %s: %w", code, err)
		}
		promos[code] = rate
	}

	totals, err := services.NewOrderTotalService(services.OrderTotalServiceDeps{
		Promos: services.StaticPromoResolver(promos),
		Clock:  deps.Clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build totals service: %w", err)
	}
	svc.Totals = totals

	notifications, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Sender:  deps.Sender,
		Workers: cfg.Notifications.Workers,
		Queue:   cfg.Notifications.Queue,
		Clock:   deps.Clock,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
	}
	svc.Notifications = notifications

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Registry:      deps.Registry,
		Totals:        totals,
		Payments:      manager,
		Configs:       configs,
		Notifications: notifications,
		Idempotency:   deps.Idempotency,
		Clock:         deps.Clock,
		Logger:        deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	callbacks, err := services.NewCallbackService(services.CallbackServiceDeps{
		Registry:      deps.Registry,
		Configs:       configs,
		Notifications: notifications,
		Clock:         deps.Clock,
		Logger:        deps.Logger,
		SuccessURL:    cfg.Checkout.SuccessURL,
		FailureURL:    cfg.Checkout.FailureURL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build callback service: %w", err)
	}
	svc.Callbacks = callbacks

	return svc, nil
}
