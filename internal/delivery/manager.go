// Package delivery writes finished run payloads to a primary sink and falls
// back to a secondary sink when the primary write fails.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/observability"
)

var (
	// ErrDelivery means every planned sink failed.
	ErrDelivery = errors.New("payload delivery failed")
	// ErrDestinationNotProvisioned marks a sink whose table or bucket does not exist.
	ErrDestinationNotProvisioned = errors.New("delivery destination not provisioned")
)

// Provider modes.
const (
	ProviderAuto     = "auto"
	ProviderSupabase = "supabase"
	ProviderStorage  = "storage"
)

// Sink is one durable payload destination. Writes for the same run id must
// overwrite the previous record.
type Sink interface {
	Name() string
	Destination(payload *models.RunPayload) string
	Write(ctx context.Context, payload *models.RunPayload, body []byte) error
}

type Config struct {
	// Provider selects the sinks: auto tries Primary then Secondary,
	// supabase uses Primary only, storage uses Secondary only.
	Provider  string
	Primary   Sink
	Secondary Sink
	// DryRun reports success without writing anywhere.
	DryRun bool
	Logger *slog.Logger
	Now    func() time.Time
}

type Manager struct {
	provider  string
	primary   Sink
	secondary Sink
	dryRun    bool
	logger    *slog.Logger
	now       func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == "" {
		cfg.Provider = ProviderAuto
	}
	switch cfg.Provider {
	case ProviderAuto, ProviderSupabase, ProviderStorage:
	default:
		return nil, fmt.Errorf("unknown delivery provider %q", cfg.Provider)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		provider:  cfg.Provider,
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		dryRun:    cfg.DryRun,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}, nil
}

func (m *Manager) plan() []Sink {
	var sinks []Sink
	if m.provider != ProviderStorage && m.primary != nil {
		sinks = append(sinks, m.primary)
	}
	if m.provider != ProviderSupabase && m.secondary != nil {
		sinks = append(sinks, m.secondary)
	}
	return sinks
}

// Deliver writes payload to the first sink that accepts it. Each sink is
// tried at most once. The returned transfer is also stamped into the
// serialized body so the stored payload describes its own delivery.
func (m *Manager) Deliver(ctx context.Context, payload *models.RunPayload) (models.CloudTransfer, error) {
	ctx, span := observability.StartSpan(ctx, "delivery.deliver",
		attribute.String("run.id", payload.RunID),
		attribute.String("delivery.provider", m.provider),
	)
	defer span.End()

	logger := m.logger.With("run_id", payload.RunID, "story_id", payload.StoryID)
	sinks := m.plan()

	if m.dryRun {
		transfer := models.CloudTransfer{
			Provider: m.provider,
			Status:   models.DeliveryStatusSuccess,
			Message:  "dry run; no network write performed",
		}
		if len(sinks) > 0 {
			dest := sinks[0].Destination(payload)
			transfer.Provider = sinks[0].Name()
			transfer.Destination = &dest
		}
		at := m.now()
		transfer.TransferredAt = &at
		logger.Info("delivery dry run", "event", "delivery_dry_run", "provider", transfer.Provider)
		return transfer, nil
	}

	if len(sinks) == 0 {
		err := fmt.Errorf("%w: no sink configured for provider %q", ErrDelivery, m.provider)
		observability.RecordError(span, err)
		return models.CloudTransfer{Provider: m.provider, Status: models.DeliveryStatusFailed, Message: err.Error()}, err
	}

	var primaryErr, lastErr error
	for _, sink := range sinks {
		transfer, err := m.attempt(ctx, sink, payload, primaryErr)
		if err == nil {
			if primaryErr != nil {
				logger.Warn("payload delivered to fallback sink",
					"event", "delivery_fallback_success", "provider", sink.Name(), "primary_error", primaryErr)
			} else {
				logger.Info("payload delivered", "event", "delivery_success", "provider", sink.Name(), "destination", *transfer.Destination)
			}
			span.SetAttributes(attribute.String("delivery.sink", sink.Name()))
			return transfer, nil
		}

		lastErr = err
		if sink == m.primary {
			primaryErr = err
		}
		logger.Warn("delivery attempt failed", "event", "delivery_attempt_failed", "provider", sink.Name(), "error", err)
	}

	err := fmt.Errorf("%w: %w", ErrDelivery, lastErr)
	observability.RecordError(span, err)
	transfer := models.CloudTransfer{
		Provider: sinks[0].Name(),
		Status:   models.DeliveryStatusFailed,
		Message:  lastErr.Error(),
	}
	if primaryErr != nil {
		transfer.PrimaryError = primaryErr.Error()
	}
	return transfer, err
}

func (m *Manager) attempt(ctx context.Context, sink Sink, payload *models.RunPayload, primaryErr error) (models.CloudTransfer, error) {
	dest := sink.Destination(payload)
	at := m.now()
	transfer := models.CloudTransfer{
		Provider:      sink.Name(),
		Status:        models.DeliveryStatusSuccess,
		Destination:   &dest,
		TransferredAt: &at,
	}
	if primaryErr != nil {
		transfer.PrimaryError = primaryErr.Error()
		transfer.Message = "delivered to fallback sink"
	}

	stamped := *payload
	stamped.CloudTransfer = transfer
	body, err := json.MarshalIndent(&stamped, "", "  ")
	if err != nil {
		return models.CloudTransfer{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := sink.Write(ctx, &stamped, body); err != nil {
		return models.CloudTransfer{}, err
	}
	return transfer, nil
}
