package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/ingest"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/repository"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/seatmap"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/logger"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/telemetry"
)

// ImportService turns vendor exports into the reservations of a session
type ImportService interface {
	// Normalize maps one export onto canonical drafts without storing anything
	Normalize(ctx context.Context, req *dto.NormalizeRequest) (*dto.NormalizeResponse, error)

	// ExtractMetadata guesses the session of an export from its header region
	ExtractMetadata(ctx context.Context, req *dto.ExtractMetadataRequest) *dto.MetadataResponse

	// Import finds or creates the session and replaces its reservations
	Import(ctx context.Context, req *dto.ImportRequest) (*dto.ImportResponse, error)
}

// ImportServiceConfig contains the dependencies of the import service
type ImportServiceConfig struct {
	Store      repository.Store
	Normalizer *ingest.Normalizer
	Layouts    *seatmap.Layouts
	// Invalidator is optional
	Invalidator LookupInvalidator
	Logger      *logger.Logger
	Clock       Clock
}

type importService struct {
	store       repository.Store
	normalizer  *ingest.Normalizer
	layouts     *seatmap.Layouts
	invalidator LookupInvalidator
	log         *logger.Logger
	now         Clock
}

// NewImportService creates a new import service
func NewImportService(cfg *ImportServiceConfig) ImportService {
	s := &importService{
		store:       cfg.Store,
		normalizer:  cfg.Normalizer,
		layouts:     cfg.Layouts,
		invalidator: cfg.Invalidator,
		log:         cfg.Logger,
		now:         clockOrDefault(cfg.Clock),
	}
	if s.log == nil {
		s.log = logger.Get()
	}
	if s.normalizer == nil {
		s.normalizer = ingest.NewNormalizer(s.log)
	}
	if s.layouts == nil {
		s.layouts = seatmap.Empty()
	}
	return s
}

// Normalize implements ImportService
func (s *importService) Normalize(ctx context.Context, req *dto.NormalizeRequest) (*dto.NormalizeResponse, error) {
	res, err := s.normalizeBatch(&req.RowBatch)
	if err != nil {
		return nil, err
	}
	assigned := 0
	for _, d := range res.Drafts {
		if d.AssignmentState() == domain.AssignmentAssigned {
			assigned++
		}
	}
	return &dto.NormalizeResponse{
		Platform: string(res.Platform),
		Drafts:   res.Drafts,
		Assigned: assigned,
		Skipped:  res.Skipped,
		Errors:   dto.RowErrors(res.Errors, 0),
	}, nil
}

// ExtractMetadata implements ImportService
func (s *importService) ExtractMetadata(ctx context.Context, req *dto.ExtractMetadataRequest) *dto.MetadataResponse {
	md := ingest.ExtractMetadata(req.HeaderCells)
	if req.Filename != "" {
		if format, err := ingest.DetectPlatform(req.Filename); err == nil {
			md.Platform = format.Platform
		}
	}
	return &dto.MetadataResponse{
		Name:     md.Name,
		Date:     md.Date,
		Time:     md.Time,
		Platform: string(md.Platform),
		Complete: md.Complete(),
	}
}

func (s *importService) normalizeBatch(b *dto.RowBatch) (*ingest.Result, error) {
	format, err := ingest.Resolve(b.Platform, b.Filename)
	if err != nil {
		return nil, err
	}
	rows := make([]ingest.Row, len(b.Rows))
	for i, r := range b.Rows {
		rows[i] = ingest.Row(r)
	}
	return s.normalizer.Normalize(format, rows)
}

// Import implements ImportService
func (s *importService) Import(ctx context.Context, req *dto.ImportRequest) (*dto.ImportResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.import")
	defer span.End()

	key := req.Key()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("performance", key.String()), attribute.Bool("force", req.Force))

	resp := &dto.ImportResponse{}
	var drafts []domain.ReservationDraft
	offset := 0
	for i := range req.Batches {
		res, err := s.normalizeBatch(&req.Batches[i])
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, res.Drafts...)
		resp.SkippedCount += res.Skipped
		resp.Errors = append(resp.Errors, dto.RowErrors(res.Errors, offset)...)
		offset += len(req.Batches[i].Rows)
	}

	drafts, dupes := s.dedupeSeats(key.Name, drafts)
	resp.SkippedCount += len(dupes)
	resp.Errors = append(resp.Errors, dupes...)
	if len(drafts) == 0 {
		return nil, domain.ErrEmptyImport
	}

	now := s.now()
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		session, created, err := tx.LockOrCreateSession(ctx, key, now)
		if err != nil {
			return err
		}
		resp.SessionID = session.ID
		resp.Created = created
		resp.Replaced = false
		resp.DeletedCount = 0

		if !created {
			if !req.Force {
				n, err := tx.CountInFlight(ctx, session.ID)
				if err != nil {
					return err
				}
				if n > 0 {
					return domain.ErrSessionInFlight
				}
			}
			deleted, err := tx.DeleteReservations(ctx, session.ID)
			if err != nil {
				return err
			}
			resp.DeletedCount = deleted
			resp.Replaced = true
		}

		reservations := make([]*domain.Reservation, len(drafts))
		events := make([]*domain.ReservationEvent, len(drafts))
		for i, d := range drafts {
			r := domain.NewReservation(uuid.New().String(), session.ID, d, now)
			reservations[i] = r
			events[i] = r.CreatedEvent(map[string]any{
				"source":          d.Platform,
				"external_number": r.ExternalNumber,
			})
		}
		if err := tx.InsertReservations(ctx, reservations); err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, session.ID, events...); err != nil {
			return err
		}

		session.TotalReservations = len(reservations)
		session.UpdatedAt = now
		return tx.UpdateSession(ctx, session)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.log.ErrorContext(ctx, "Import failed", zap.String("performance", key.String()), zap.Error(err))
		return nil, err
	}
	resp.InsertedCount = len(drafts)

	if s.invalidator != nil {
		s.invalidator.InvalidateLookups(ctx)
	}

	s.log.Info("Imported reservations",
		zap.String("session_id", resp.SessionID),
		zap.String("performance", key.String()),
		zap.Int("inserted", resp.InsertedCount),
		zap.Int("deleted", resp.DeletedCount),
		zap.Int("skipped", resp.SkippedCount),
		zap.Bool("created", resp.Created),
	)
	return resp, nil
}

// dedupeSeats keys seats by their layout form and keeps the first draft of
// every seat. The descriptor itself is stored as the source wrote it. Row
// numbers in the returned errors index the concatenated valid drafts.
func (s *importService) dedupeSeats(performance string, drafts []domain.ReservationDraft) ([]domain.ReservationDraft, []dto.RowErrorResponse) {
	layout, hasLayout := s.layouts.For(performance)
	seen := make(map[string]bool)
	out := drafts[:0:0]
	var dupes []dto.RowErrorResponse

	for i, d := range drafts {
		seat := strings.TrimSpace(d.Seat)
		if seat == "" {
			out = append(out, d)
			continue
		}
		if hasLayout {
			if ls, ok := layout.Lookup(seat); ok {
				seat = ls.Descriptor
			} else {
				s.log.Warn("Seat not in layout",
					zap.String("performance", performance),
					zap.String("seat", seat),
				)
			}
		}
		d.SeatKey = seat
		if seen[seat] {
			dupes = append(dupes, dto.RowErrorResponse{
				Row:     i,
				Field:   string(ingest.FieldSeat),
				Message: domain.ErrDuplicateSeat.Error(),
			})
			continue
		}
		seen[seat] = true
		out = append(out, d)
	}
	return out, dupes
}
