package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumalytics/luma/internal/geo"
	"github.com/lumalytics/luma/internal/metrics"
	"github.com/lumalytics/luma/internal/models"
	"github.com/lumalytics/luma/internal/storage"
)

// Service accepts tracked events, enriches them and writes them to the
// event store.
type Service struct {
	writer   storage.EventWriter
	resolver geo.Resolver
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewService creates an ingestion service. resolver may be nil; geo
// enrichment is then skipped.
func NewService(writer storage.EventWriter, resolver geo.Resolver, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		writer:   writer,
		resolver: resolver,
		logger:   logger,
		metrics:  m,
	}
}

// Track validates, enriches and persists a batch of events. The whole
// batch is rejected if any event is invalid; geo enrichment failures are
// logged and skipped, never fatal.
func (s *Service) Track(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("no events given")
	}

	now := time.Now().UTC()
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			s.metrics.RecordIngest("invalid", len(events))
			return fmt.Errorf("event %d: %w", i, err)
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		s.enrich(ev)
	}

	if err := s.writer.InsertEvents(ctx, events); err != nil {
		s.metrics.RecordIngest("error", len(events))
		return err
	}

	s.metrics.RecordIngest("ok", len(events))
	s.logger.Debug("events ingested", zap.Int("count", len(events)))
	return nil
}

func (s *Service) enrich(ev *models.Event) {
	if s.resolver == nil || ev.IP == "" || ev.GeoCountry != "" {
		return
	}
	info, err := s.resolver.Lookup(ev.IP)
	if err != nil {
		s.logger.Debug("geo lookup failed", zap.String("ip", ev.IP), zap.Error(err))
		return
	}
	ev.GeoCountry = info.Country
	ev.GeoRegion = info.Region
	ev.GeoCity = info.City
}
