package webhook

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/hirewire/dispatch/catalog"
	"github.com/hirewire/dispatch/id"
	"github.com/hirewire/dispatch/internal/entity"
	"github.com/hirewire/dispatch/signature"
)

// Service provides webhook registration management for the admin surface.
type Service struct {
	store   Store
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewService creates a new webhook service. A nil catalog disables
// subscription validation.
func NewService(store Store, cat *catalog.Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		catalog: cat,
		logger:  logger,
	}
}

// Create registers a new webhook. Registrations start active with a
// generated secret unless one is supplied.
func (svc *Service) Create(ctx context.Context, in Input) (*Webhook, error) {
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	if err := svc.validateEvents(in.Events); err != nil {
		return nil, err
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	w := &Webhook{
		Entity:    entity.New(),
		ID:        id.NewWebhookID(),
		Name:      in.Name,
		URL:       in.URL,
		Secret:    secret,
		Events:    in.Events,
		Active:    true,
		RateLimit: in.RateLimit,
	}

	if err := svc.store.CreateWebhook(ctx, w); err != nil {
		return nil, err
	}

	return w, nil
}

// Get returns a webhook by ID.
func (svc *Service) Get(ctx context.Context, whID id.ID) (*Webhook, error) {
	return svc.store.GetWebhook(ctx, whID)
}

// Update modifies an existing webhook. Zero-value fields are left unchanged.
func (svc *Service) Update(ctx context.Context, whID id.ID, in Input) (*Webhook, error) {
	w, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		if err := validateURL(in.URL); err != nil {
			return nil, err
		}
		w.URL = in.URL
	}
	if in.Name != "" {
		w.Name = in.Name
	}
	if len(in.Events) > 0 {
		if err := svc.validateEvents(in.Events); err != nil {
			return nil, err
		}
		w.Events = in.Events
	}
	if in.RateLimit >= 0 {
		w.RateLimit = in.RateLimit
	}

	if err := svc.store.UpdateWebhook(ctx, w); err != nil {
		return nil, err
	}

	return w, nil
}

// Delete removes a webhook. Its delivery history is retained for audit.
func (svc *Service) Delete(ctx context.Context, whID id.ID) error {
	return svc.store.DeleteWebhook(ctx, whID)
}

// List returns webhooks matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Webhook, error) {
	return svc.store.ListWebhooks(ctx, opts)
}

// SetActive re-enables (or disables) a webhook. Re-enabling is the
// operator's escape hatch after an automatic deactivation.
func (svc *Service) SetActive(ctx context.Context, whID id.ID, active bool) error {
	w, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return err
	}
	if w.Active == active {
		return nil
	}
	if !active {
		return svc.store.Deactivate(ctx, whID)
	}
	w.Active = true
	return svc.store.UpdateWebhook(ctx, w)
}

// RotateSecret generates a new signing secret for a webhook and returns it.
func (svc *Service) RotateSecret(ctx context.Context, whID id.ID) (string, error) {
	w, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return "", err
	}

	newSecret := signature.GenerateSecret()

	w.Secret = newSecret
	if err := svc.store.UpdateWebhook(ctx, w); err != nil {
		return "", err
	}

	return newSecret, nil
}

func (svc *Service) validateEvents(events []string) error {
	if len(events) == 0 {
		return &ValidationError{Field: "events", Message: "at least one event name required"}
	}
	if svc.catalog != nil {
		if err := svc.catalog.ValidateSubscription(events); err != nil {
			return &ValidationError{Field: "events", Message: err.Error()}
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "url", Message: "invalid URL"}
	}
	return nil
}

// ValidationError indicates invalid registration input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}
