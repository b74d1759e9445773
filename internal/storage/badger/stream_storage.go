package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/bobmcallan/pulse/internal/common"
	"github.com/bobmcallan/pulse/internal/interfaces"
	"github.com/bobmcallan/pulse/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

type streamStorage struct {
	store  *Store
	logger *common.Logger
}

// NewStreamStorage creates a StreamStorage backed by BadgerHold.
func NewStreamStorage(store *Store, logger *common.Logger) interfaces.StreamStorage {
	return &streamStorage{store: store, logger: logger}
}

func (s *streamStorage) UpsertStream(_ context.Context, stream *models.Stream) error {
	if stream == nil || stream.MarketID == 0 {
		return fmt.Errorf("stream requires a market id")
	}

	// Preserve a previously reconciled cutoff when the current walk
	// did not see one.
	var existing models.Stream
	if err := s.store.db.Get(stream.MarketID, &existing); err == nil {
		if stream.CutoffAt == 0 && existing.CutoffAt != 0 {
			stream.CutoffAt = existing.CutoffAt
		}
	}

	if stream.UpdatedAt == 0 {
		stream.UpdatedAt = common.NowMillis()
	}

	if err := s.store.db.Upsert(stream.MarketID, stream); err != nil {
		return fmt.Errorf("failed to save stream %d: %w", stream.MarketID, err)
	}
	s.logger.Debug().Int64("market_id", stream.MarketID).Str("title", stream.Title).Msg("Stream saved")
	return nil
}

func (s *streamStorage) GetStream(_ context.Context, marketID int64) (*models.Stream, error) {
	var stream models.Stream
	err := s.store.db.Get(marketID, &stream)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get stream %d: %w", marketID, err)
	}
	return &stream, nil
}

func (s *streamStorage) ListStreams(_ context.Context) ([]*models.Stream, error) {
	var streams []models.Stream
	if err := s.store.db.Find(&streams, nil); err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}

	sort.Slice(streams, func(i, j int) bool { return streams[i].MarketID < streams[j].MarketID })

	out := make([]*models.Stream, len(streams))
	for i := range streams {
		out[i] = &streams[i]
	}
	return out, nil
}

func (s *streamStorage) CountStreams(_ context.Context) (int, error) {
	count, err := s.store.db.Count(&models.Stream{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count streams: %w", err)
	}
	return int(count), nil
}

var _ interfaces.StreamStorage = (*streamStorage)(nil)
