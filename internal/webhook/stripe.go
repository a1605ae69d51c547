// Package webhook turns Stripe checkout notifications into provisioned
// tenants.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/monitoring"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/notify"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/service"
)

// Outcome is the terminal state of one delivery.
type Outcome string

const (
	Dispatched Outcome = "dispatched"
	Rejected   Outcome = "rejected"
	Ignored    Outcome = "ignored"
	Duplicate  Outcome = "duplicate"
	// Declined is a verified checkout that provisioning refused for good,
	// such as a known email under the reject policy.
	Declined Outcome = "declined"
)

const checkoutCompleted = "checkout.session.completed"

// maxBodyBytes matches what Stripe recommends accepting.
const maxBodyBytes = int64(65536)

// ErrProvisioning wraps transient failures after a verified checkout event
// was accepted. The sender should retry.
var ErrProvisioning = errors.New("provisioning failed")

// Reasons carried by rejected and ignored results.
var (
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrUnknownEventType    = errors.New("unhandled event type")
	ErrMalformedEvent      = errors.New("malformed checkout event")
)

// Provisioner is the part of the provisioning service the intake uses.
type Provisioner interface {
	Provision(ctx context.Context, req service.ProvisionRequest) (*service.ProvisionResult, error)
}

type Config struct {
	Secret    string
	Tolerance time.Duration
}

// Result describes what happened to a delivery. Reason is set for Rejected,
// Ignored and Declined outcomes.
type Result struct {
	Outcome  Outcome
	EventID  string
	TenantID uuid.UUID
	Reason   error
}

// Intake verifies, de-duplicates and dispatches Stripe deliveries.
type Intake struct {
	cfg         Config
	provisioner Provisioner
	delivery    notify.KeyDelivery
	dedupe      Deduper
}

func NewIntake(cfg Config, p Provisioner, delivery notify.KeyDelivery, dedupe Deduper) *Intake {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = webhook.DefaultTolerance
	}
	if delivery == nil {
		delivery = notify.Discard{}
	}
	if dedupe == nil {
		dedupe = NewMemoryDeduper(72 * time.Hour)
	}
	return &Intake{cfg: cfg, provisioner: p, delivery: delivery, dedupe: dedupe}
}

// Process handles one raw delivery. The only error it returns is a wrapped
// ErrProvisioning; every other problem is an Outcome.
func (in *Intake) Process(ctx context.Context, payload []byte, signature string) (Result, error) {
	res, err := in.process(ctx, payload, signature)
	if err != nil {
		monitoring.WebhookEvents.WithLabelValues("failed").Inc()
	} else {
		monitoring.WebhookEvents.WithLabelValues(string(res.Outcome)).Inc()
	}
	return res, err
}

func (in *Intake) process(ctx context.Context, payload []byte, signature string) (Result, error) {
	if in.cfg.Secret == "" {
		log.Error().Msg("Webhook secret not configured, rejecting delivery")
		return Result{Outcome: Rejected, Reason: ErrSecretNotConfigured}, nil
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, in.cfg.Secret, webhook.ConstructEventOptions{
		Tolerance:                in.cfg.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Webhook signature invalid")
		return Result{Outcome: Rejected, Reason: fmt.Errorf("%w: %v", ErrInvalidSignature, err)}, nil
	}

	res := Result{EventID: event.ID}
	logger := log.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()

	if string(event.Type) != checkoutCompleted {
		logger.Debug().Msg("Webhook event ignored")
		res.Outcome = Ignored
		res.Reason = ErrUnknownEventType
		return res, nil
	}

	if event.Data == nil {
		logger.Error().Msg("Checkout event without data")
		res.Outcome = Ignored
		res.Reason = ErrMalformedEvent
		return res, nil
	}
	req, err := checkoutRequest(event.Data.Raw)
	if err != nil {
		logger.Error().Err(err).Msg("Checkout session payload unusable")
		res.Outcome = Ignored
		res.Reason = fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		return res, nil
	}

	if event.ID != "" {
		claimed, err := in.dedupe.Claim(ctx, event.ID)
		if err != nil {
			logger.Warn().Err(err).Msg("Event de-duplication unavailable, processing without marker")
		} else if !claimed {
			logger.Info().Msg("Webhook event already processed")
			res.Outcome = Duplicate
			return res, nil
		}
	}

	result, err := in.provisioner.Provision(ctx, req)
	if err != nil {
		if declined(err) {
			logger.Warn().Err(err).Str("email", req.Email).Msg("Checkout cannot be provisioned")
			monitoring.Alert("checkout_declined", "paid checkout was not provisioned", map[string]string{
				"event_id": event.ID,
			})
			res.Outcome = Declined
			res.Reason = err
			return res, nil
		}
		if event.ID != "" {
			if rerr := in.dedupe.Release(context.WithoutCancel(ctx), event.ID); rerr != nil {
				logger.Warn().Err(rerr).Msg("Failed to release event marker")
			}
		}
		logger.Error().Err(err).Str("email", req.Email).Msg("Provisioning from checkout failed")
		return res, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}

	res.Outcome = Dispatched
	res.TenantID = result.Tenant.ID

	notice := notify.KeyNotice{
		TenantID:   result.Tenant.ID,
		TenantName: result.Tenant.Name,
		Email:      result.Tenant.Email,
		RawKey:     result.RawKey,
	}
	if err := in.delivery.Deliver(ctx, notice); err != nil {
		logger.Error().Err(err).Str("tenant_id", result.Tenant.ID.String()).Msg("Key delivery could not be queued")
		monitoring.Alert("key_delivery_failed", "raw API key could not be delivered", map[string]string{
			"tenant_id": result.Tenant.ID.String(),
		})
	}

	logger.Info().
		Str("tenant_id", result.Tenant.ID.String()).
		Str("outcome", string(result.Outcome)).
		Msg("Tenant provisioned from checkout")
	return res, nil
}

// declined reports provisioning errors a retry cannot fix.
func declined(err error) bool {
	return errors.Is(err, service.ErrInvalidInput) || errors.Is(err, service.ErrDuplicateEmail)
}

// checkoutRequest extracts the provisioning inputs from a checkout session.
func checkoutRequest(raw json.RawMessage) (service.ProvisionRequest, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return service.ProvisionRequest{}, fmt.Errorf("decode checkout session: %w", err)
	}

	req := service.ProvisionRequest{
		Name:  strings.TrimSpace(session.Metadata["company_name"]),
		Email: strings.TrimSpace(session.Metadata["admin_email"]),
	}
	if req.Name == "" || req.Email == "" {
		return req, errors.New("metadata.company_name and metadata.admin_email are required")
	}
	email, err := service.NormalizeEmail(req.Email)
	if err != nil {
		return req, fmt.Errorf("metadata.admin_email: %w", err)
	}
	req.Email = email
	if session.Customer != nil {
		req.StripeCustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		req.StripeSubscriptionID = session.Subscription.ID
	}
	return req, nil
}

// ServeHTTP maps outcomes onto status codes: 400 for rejected deliveries,
// 500 when provisioning failed transiently so Stripe retries, 200 otherwise.
func (in *Intake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("Webhook body unreadable")
		writeJSON(w, http.StatusBadRequest, map[string]string{"outcome": string(Rejected)})
		return
	}

	res, err := in.Process(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "provisioning failed"})
	case res.Outcome == Rejected:
		writeJSON(w, http.StatusBadRequest, map[string]string{"outcome": string(res.Outcome)})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"outcome": string(res.Outcome), "event_id": res.EventID})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
