// Package store is the durable system of record for aggregated profiles and
// historical context. It is reconciled asynchronously; nothing on the hot
// path reads it once a user is initialized.
package store

import (
	"context"

	"github.com/lingokit/accuracyd/pkg/models"
)

// ProfileStore is the durable storage contract for aggregated profiles.
type ProfileStore interface {
	FindProfile(ctx context.Context, userID string) (*models.AggregatedProfile, error)
	UpsertProfile(ctx context.Context, profile *models.AggregatedProfile) error
}

// HistoryStore is the durable storage contract for historical context.
type HistoryStore interface {
	FindHistory(ctx context.Context, userID string) (*models.HistoricalContext, error)
	UpsertHistory(ctx context.Context, hc *models.HistoricalContext) error
}

// Store combines both durable contracts; the Postgres implementation
// satisfies it, and tests substitute stubs.
type Store interface {
	ProfileStore
	HistoryStore
}
