package store

import (
	"context"
	"fmt"

	"fknsrs.biz/p/sorm/qsorm"
	sb "fknsrs.biz/p/sqlbuilder"
	"github.com/gost/godata"

	"fknsrs.biz/p/feedsync/internal/godatautil"
	"fknsrs.biz/p/feedsync/models"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ListChannels reads channel summaries filtered, ordered, and paged by an
// OData query. q may be nil.
func (s *Store) ListChannels(ctx context.Context, q *godata.GoDataQuery) ([]models.ChannelSummary, error) {
	table := models.ChannelSummaryTable

	condition, err := godatautil.MakeCondition(q, table)
	if err != nil {
		return nil, fmt.Errorf("store.Store.ListChannels: %w: %s", ErrInvalidQuery, err.Error())
	}

	order, err := godatautil.MakeOrders(q, table, sb.OrderDesc(table.C("ChannelID")))
	if err != nil {
		return nil, fmt.Errorf("store.Store.ListChannels: %w: %s", ErrInvalidQuery, err.Error())
	}

	channels := []models.ChannelSummary{}
	if err := qsorm.FindWhere(
		ctx,
		s.db,
		&channels,
		condition,
		order,
		godatautil.MakeOffsetLimit(q, 0, DefaultListLimit, MaxListLimit),
	); err != nil {
		return nil, fmt.Errorf("store.Store.ListChannels: %w", err)
	}

	return channels, nil
}
