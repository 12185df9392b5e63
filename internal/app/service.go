package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"scopekeeper/api/internal/export"
	"scopekeeper/api/internal/extraction"
	"scopekeeper/api/internal/ingest"
	"scopekeeper/api/internal/search"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service wires the components the HTTP layer drives. Search, Export and
// Ingest are optional; their routes answer 503 when unset.
type Service struct {
	Extractions *extraction.Service
	Search      *search.Service
	Export      *export.Service
	Ingest      *ingest.Pipeline

	store  Pinger
	cache  Pinger
	logger *zap.Logger
}

type Deps struct {
	Extractions *extraction.Service
	Store       Pinger
	// Cache is checked by /api/ready when the view cache is enabled.
	Cache  Pinger
	Search *search.Service
	Export *export.Service
	Ingest *ingest.Pipeline
	Logger *zap.Logger
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Extractions: deps.Extractions,
		Search:      deps.Search,
		Export:      deps.Export,
		Ingest:      deps.Ingest,
		store:       deps.Store,
		cache:       deps.Cache,
		logger:      logger,
	}
}

// Ping checks the health of the row store.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("store not configured")
	}
	return s.store.Ping(ctx)
}

// Checks pings every configured dependency and returns per-dependency errors.
func (s *Service) Checks(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.Ping(ctx)}
	if s.cache != nil {
		checks["cache"] = s.cache.Ping(ctx)
	}
	return checks
}
