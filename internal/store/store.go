// Package store is the local cache of generated analysis results. The
// application backend owns the authoritative copy; this cache lets the CLI
// inspect and rehydrate results without a network round trip.
package store

import (
	"context"

	"github.com/venturelens/strategy-cli/internal/model"
)

// AnalysisFilter specifies criteria for listing cached analyses.
type AnalysisFilter struct {
	Type   string `json:"type,omitempty"`
	Phase  string `json:"phase,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for cached analysis results.
type Store interface {
	// SaveAnalysis appends one generated result.
	SaveAnalysis(ctx context.Context, record model.PhaseAnalysisRecord) error
	// LatestAnalyses returns the most recent record per analysis type for a
	// business, the set used to rehydrate result slots.
	LatestAnalyses(ctx context.Context, businessID string) ([]model.PhaseAnalysisRecord, error)
	// ListAnalyses returns cached records for a business, newest first.
	ListAnalyses(ctx context.Context, businessID string, filter AnalysisFilter) ([]model.PhaseAnalysisRecord, error)
	// PurgePhase removes a business's cached records for one phase bucket,
	// returning the number removed.
	PurgePhase(ctx context.Context, businessID, phase string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
