// Package ingest runs an uploaded document through text extraction and
// analysis and stores the resulting payload.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scopekeeper/api/internal/analysis"
	"scopekeeper/api/internal/extraction"
	"scopekeeper/api/internal/textextract"
)

// ErrAnalysisFailed wraps analyzer failures so callers can tell them apart
// from bad uploads.
var ErrAnalysisFailed = errors.New("document analysis failed")

type extractionStore interface {
	StoreExtraction(ctx context.Context, req extraction.StoreRequest) (extraction.StoreResult, error)
}

// SourceArchive keeps the extracted text next to the archived payload.
type SourceArchive interface {
	ArchiveSource(ctx context.Context, orgID, workspaceID, ownerID, text string) error
}

type Request struct {
	OwnerID     string
	WorkspaceID string
	OrgID       string
	CreatedBy   string
	Filename    string
	Body        io.Reader
}

type Result struct {
	extraction.StoreResult
	Filename   string `json:"filename"`
	TextLength int    `json:"text_length"`
}

type Pipeline struct {
	text     textextract.Extractor
	analyzer analysis.Analyzer
	store    extractionStore
	sources  SourceArchive
	logger   *zap.Logger
}

func New(text textextract.Extractor, analyzer analysis.Analyzer, store extractionStore, sources SourceArchive, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{text: text, analyzer: analyzer, store: store, sources: sources, logger: logger}
}

// Run ingests one document. A missing owner id gets a fresh one, so every
// upload becomes its own extraction event unless the caller reprocesses a
// known owner.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.OrgID = strings.TrimSpace(req.OrgID)
	if req.WorkspaceID == "" || req.OrgID == "" {
		return Result{}, fmt.Errorf("%w: workspace_id and org_id are required", extraction.ErrInvalidRequest)
	}
	if req.Body == nil || strings.TrimSpace(req.Filename) == "" {
		return Result{}, fmt.Errorf("%w: file is required", extraction.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		req.OwnerID = uuid.NewString()
	}
	log := p.logger.With(
		zap.String("owner_id", req.OwnerID),
		zap.String("workspace_id", req.WorkspaceID),
		zap.String("filename", req.Filename),
	)

	start := time.Now()
	text, err := p.text.Extract(ctx, req.Filename, req.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", extraction.ErrInvalidRequest, err)
	}

	payload, err := p.analyzer.Analyze(ctx, text)
	if err != nil {
		log.Error("analysis failed", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	stored, err := p.store.StoreExtraction(ctx, extraction.StoreRequest{
		OwnerID:     req.OwnerID,
		WorkspaceID: req.WorkspaceID,
		OrgID:       req.OrgID,
		CreatedBy:   req.CreatedBy,
		Payload:     payload,
	})
	if err != nil {
		return Result{}, err
	}

	if p.sources != nil && !stored.Duplicate {
		if err := p.sources.ArchiveSource(ctx, req.OrgID, req.WorkspaceID, req.OwnerID, text); err != nil {
			log.Warn("archive source text failed", zap.Error(err))
		}
	}

	log.Info("document ingested",
		zap.String("batch_id", stored.BatchID),
		zap.Int("rows", stored.Rows),
		zap.Bool("duplicate", stored.Duplicate),
		zap.Duration("duration", time.Since(start)),
	)
	return Result{StoreResult: stored, Filename: req.Filename, TextLength: len([]rune(text))}, nil
}
