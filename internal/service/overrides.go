package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/avco-ledger/internal/errors"
	"github.com/avco-ledger/internal/events"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
)

// OverrideService manages user corrections of on-chain event prices. Every
// change publishes a signal that triggers a replay of the affected asset.
type OverrideService struct {
	events    storage.EventStore
	overrides storage.OverrideStore
	publisher events.Publisher
}

// NewOverrideService creates an override service
func NewOverrideService(eventStore storage.EventStore, overrides storage.OverrideStore, publisher events.Publisher) *OverrideService {
	return &OverrideService{
		events:    eventStore,
		overrides: overrides,
		publisher: publisher,
	}
}

// SaveOverrideInput is the request to override one event's price
type SaveOverrideInput struct {
	EventID  string          `json:"eventId"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
	Note     string          `json:"note,omitempty"`
}

func (s *OverrideService) loadEvent(ctx context.Context, eventID string) (*models.EconomicEvent, error) {
	ev, err := s.events.GetByID(ctx, eventID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewEventNotFoundError(eventID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load event", err)
	}
	return ev, nil
}

// Save creates the active override for an on-chain event. Missing and manual
// events, or an event that already has an active override, are rejected
// before anything is written.
func (s *OverrideService) Save(ctx context.Context, input *SaveOverrideInput) (*models.CostBasisOverride, error) {
	eventID := strings.TrimSpace(input.EventID)
	if eventID == "" {
		return nil, apperrors.NewInvalidParameterError("eventId", "required")
	}
	if input.PriceUSD.IsNegative() {
		return nil, apperrors.NewInvalidParameterError("priceUsd", "must not be negative")
	}

	ev, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.IsManual() {
		return nil, apperrors.NewManualEventOverrideError(eventID)
	}

	o := &models.CostBasisOverride{
		EventID:  ev.ID,
		PriceUSD: models.Quantize(input.PriceUSD),
		Note:     input.Note,
	}
	if err := s.overrides.Create(ctx, o); err != nil {
		if errors.Is(err, storage.ErrActiveOverrideExists) {
			return nil, apperrors.NewActiveOverrideExistsError(eventID)
		}
		return nil, apperrors.NewDatabaseError("create override", err)
	}

	logging.FromContext(ctx).WithFields(logging.Fields{
		"eventId": ev.ID,
		"price":   o.PriceUSD.String(),
	}).Info("cost basis override saved")

	s.publish(ctx, events.OverrideSaved{EventID: ev.ID, Wallet: ev.Wallet, Network: ev.Network, Asset: ev.Asset})
	return o, nil
}

// Revert deactivates the event's active override
func (s *OverrideService) Revert(ctx context.Context, eventID string) error {
	ev, err := s.loadEvent(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return err
	}

	ok, err := s.overrides.Deactivate(ctx, ev.ID)
	if err != nil {
		return apperrors.NewDatabaseError("deactivate override", err)
	}
	if !ok {
		return apperrors.NewNoActiveOverrideError(ev.ID)
	}

	logging.FromContext(ctx).WithField("eventId", ev.ID).Info("cost basis override reverted")
	s.publish(ctx, events.OverrideReverted{EventID: ev.ID, Wallet: ev.Wallet, Network: ev.Network, Asset: ev.Asset})
	return nil
}

// History returns every override ever saved for the event, oldest first
func (s *OverrideService) History(ctx context.Context, eventID string) ([]*models.CostBasisOverride, error) {
	ev, err := s.loadEvent(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return nil, err
	}
	list, err := s.overrides.ListByEvent(ctx, ev.ID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list overrides", err)
	}
	return list, nil
}

func (s *OverrideService) publish(ctx context.Context, sig events.Signal) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, sig); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("could not publish override signal")
	}
}
