package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scopekeeper/api/internal/metrics"
	"scopekeeper/api/internal/store"
)

// RowStore is the persistence the service needs.
type RowStore interface {
	InsertBatch(ctx context.Context, rows []store.ExtractionRow) (store.InsertResult, error)
	ListOwnerRows(ctx context.Context, ownerID, orgID string) ([]store.ExtractionRow, error)
	ListWorkspaceRows(ctx context.Context, workspaceID, orgID string) ([]store.ExtractionRow, error)
	CountByStatus(ctx context.Context, target store.RowTarget) (store.StatusCounts, error)
	MarkDeleted(ctx context.Context, target store.RowTarget, updatedBy string, at time.Time) ([]store.RowRef, error)
	WorkspaceStats(ctx context.Context, workspaceID, orgID string) (store.WorkspaceStats, error)
}

// ViewBuilder turns consolidated categories into a named aggregate view.
type ViewBuilder interface {
	Categories(view string) ([]string, bool)
	Build(view string, consolidated Consolidated) (any, error)
	// New returns a pointer to an empty view value, used to decode cached views.
	New(view string) any
}

// ViewCache stores built views per workspace. Invalidate must make every view
// previously stored for the workspace unreachable.
type ViewCache interface {
	Lookup(ctx context.Context, orgID, workspaceID, view string, dest any) (hit bool, token string, err error)
	Store(ctx context.Context, token string, value any) error
	Invalidate(ctx context.Context, orgID, workspaceID string) error
}

// Indexer mirrors item rows into a search index. Calls must not block.
type Indexer interface {
	IndexBatch(rows []store.ExtractionRow)
	RemoveBatches(orgID string, batchIDs []string)
}

// Archiver keeps the raw payload of each batch.
type Archiver interface {
	ArchiveBatch(ctx context.Context, batch BatchArchive) error
}

type BatchArchive struct {
	OrgID       string         `json:"org_id"`
	WorkspaceID string         `json:"workspace_id"`
	OwnerID     string         `json:"owner_id"`
	BatchID     string         `json:"batch_id"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by"`
	Payload     map[string]any `json:"payload"`
}

type StoreRequest struct {
	OwnerID     string         `json:"owner_id"`
	WorkspaceID string         `json:"workspace_id"`
	OrgID       string         `json:"org_id"`
	CreatedBy   string         `json:"created_by"`
	Payload     map[string]any `json:"payload"`
}

type StoreResult struct {
	BatchID    string    `json:"batch_id"`
	OwnerID    string    `json:"owner_id"`
	Rows       int       `json:"rows"`
	Categories []string  `json:"categories"`
	Superseded int       `json:"superseded"`
	Duplicate  bool      `json:"duplicate"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusUpdate addresses either every row of an owner or one batch.
type StatusUpdate struct {
	OrgID     string `json:"org_id"`
	OwnerID   string `json:"owner_id,omitempty"`
	BatchID   string `json:"batch_id,omitempty"`
	Status    string `json:"status"`
	UpdatedBy string `json:"updated_by"`
}

type StatusResult struct {
	Status   string `json:"status"`
	Affected int    `json:"affected"`
}

type Service struct {
	rows     RowStore
	views    ViewBuilder
	cache    ViewCache
	indexer  Indexer
	archiver Archiver
	logger   *zap.Logger
	decode   DecodeOptions
	now      func() time.Time
	newID    func() string

	// staleViews holds org/workspace keys whose cache invalidation failed.
	// Their cached views are bypassed until an invalidation succeeds.
	staleMu    sync.Mutex
	staleViews map[string]bool
}

type Option func(*Service)

func WithViews(views ViewBuilder) Option    { return func(s *Service) { s.views = views } }
func WithCache(cache ViewCache) Option      { return func(s *Service) { s.cache = cache } }
func WithIndexer(indexer Indexer) Option    { return func(s *Service) { s.indexer = indexer } }
func WithArchiver(archiver Archiver) Option { return func(s *Service) { s.archiver = archiver } }
func WithDecodeOptions(opts DecodeOptions) Option {
	return func(s *Service) { s.decode = opts }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(rows RowStore, opts ...Option) *Service {
	s := &Service{
		rows:       rows,
		logger:     zap.NewNop(),
		now:        time.Now,
		newID:      uuid.NewString,
		staleViews: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreExtraction flattens a payload into rows and writes them as one batch,
// superseding whatever the owner had before.
func (s *Service) StoreExtraction(ctx context.Context, req StoreRequest) (StoreResult, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.WorkspaceID = strings.TrimSpace(req.WorkspaceID)
	req.OrgID = strings.TrimSpace(req.OrgID)
	if req.OwnerID == "" || req.WorkspaceID == "" || req.OrgID == "" {
		return StoreResult{}, fmt.Errorf("%w: owner_id, workspace_id and org_id are required", ErrInvalidRequest)
	}
	if req.Payload == nil {
		return StoreResult{}, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidRequest)
	}

	meta := BatchMeta{
		BatchID:     s.newID(),
		OwnerID:     req.OwnerID,
		WorkspaceID: req.WorkspaceID,
		OrgID:       req.OrgID,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   s.now().UTC().Truncate(time.Microsecond),
	}
	rows, err := Flatten(meta, req.Payload)
	if err != nil {
		metrics.BatchesStored.WithLabelValues("error").Inc()
		return StoreResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	start := time.Now()
	inserted, err := s.rows.InsertBatch(ctx, rows)
	metrics.StoreDuration.WithLabelValues("insert_batch").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BatchesStored.WithLabelValues("error").Inc()
		return StoreResult{}, fmt.Errorf("store extraction %s: %w", req.OwnerID, err)
	}

	result := StoreResult{
		BatchID:    inserted.BatchID,
		OwnerID:    req.OwnerID,
		Rows:       len(rows) - 1,
		Categories: categoriesOf(rows),
		Superseded: len(inserted.Superseded),
		Duplicate:  inserted.Duplicate,
		CreatedAt:  meta.CreatedAt,
	}
	if inserted.Duplicate {
		if !inserted.CreatedAt.IsZero() {
			result.CreatedAt = inserted.CreatedAt
		}
		metrics.BatchesStored.WithLabelValues("duplicate").Inc()
		s.logger.Info("extraction batch already stored",
			zap.String("owner_id", req.OwnerID),
			zap.String("batch_id", inserted.BatchID))
		return result, nil
	}

	metrics.BatchesStored.WithLabelValues("stored").Inc()
	metrics.RowsWritten.Add(float64(result.Rows))
	s.logger.Info("extraction batch stored",
		zap.String("owner_id", req.OwnerID),
		zap.String("workspace_id", req.WorkspaceID),
		zap.String("batch_id", result.BatchID),
		zap.Int("rows", result.Rows),
		zap.Int("superseded", result.Superseded))

	s.afterWrite(ctx, req.OrgID, append(inserted.Superseded, store.RowRef{WorkspaceID: req.WorkspaceID}))
	if s.indexer != nil {
		s.indexer.IndexBatch(rows)
	}
	if s.archiver != nil {
		err := s.archiver.ArchiveBatch(ctx, BatchArchive{
			OrgID:       req.OrgID,
			WorkspaceID: req.WorkspaceID,
			OwnerID:     req.OwnerID,
			BatchID:     result.BatchID,
			CreatedAt:   meta.CreatedAt,
			CreatedBy:   req.CreatedBy,
			Payload:     req.Payload,
		})
		if err != nil {
			s.logger.Warn("archive extraction batch failed", zap.String("batch_id", result.BatchID), zap.Error(err))
		}
	}
	return result, nil
}

// GetExtraction rebuilds the active extraction of one owner.
func (s *Service) GetExtraction(ctx context.Context, ownerID, orgID string) (Extraction, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(orgID) == "" {
		return Extraction{}, fmt.Errorf("%w: owner_id and org_id are required", ErrInvalidRequest)
	}

	start := time.Now()
	rows, err := s.rows.ListOwnerRows(ctx, ownerID, orgID)
	metrics.StoreDuration.WithLabelValues("list_owner").Observe(time.Since(start).Seconds())
	if err != nil {
		return Extraction{}, fmt.Errorf("get extraction %s: %w", ownerID, err)
	}

	ext, err := Reconstruct(rows, s.decode)
	if err != nil {
		return Extraction{}, err
	}
	s.reportSkipped(ext)
	return ext, nil
}

// GetWorkspaceExtractions rebuilds every owner of a workspace, newest first.
func (s *Service) GetWorkspaceExtractions(ctx context.Context, workspaceID, orgID string) ([]Extraction, error) {
	if strings.TrimSpace(workspaceID) == "" || strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("%w: workspace_id and org_id are required", ErrInvalidRequest)
	}

	start := time.Now()
	rows, err := s.rows.ListWorkspaceRows(ctx, workspaceID, orgID)
	metrics.StoreDuration.WithLabelValues("list_workspace").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("get workspace extractions %s: %w", workspaceID, err)
	}

	extractions := ReconstructAll(rows, s.decode)
	for _, ext := range extractions {
		s.reportSkipped(ext)
	}
	return extractions, nil
}

// ConsolidateWorkspace merges the requested categories across every owner of
// the workspace. No categories means all of them.
func (s *Service) ConsolidateWorkspace(ctx context.Context, workspaceID, orgID string, categories []string) (Consolidated, error) {
	extractions, err := s.GetWorkspaceExtractions(ctx, workspaceID, orgID)
	if err != nil {
		return Consolidated{}, err
	}
	return Consolidate(workspaceID, orgID, extractions, categories), nil
}

// GetConsolidatedView builds a named aggregate view of a workspace. Cached
// views are only served while no write has touched the workspace since they
// were built.
func (s *Service) GetConsolidatedView(ctx context.Context, workspaceID, orgID, view string) (any, error) {
	if s.views == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, view)
	}
	categories, ok := s.views.Categories(view)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, view)
	}

	var token string
	if s.cache != nil && s.cacheUsable(ctx, orgID, workspaceID) {
		dest := s.views.New(view)
		hit, key, err := s.cache.Lookup(ctx, orgID, workspaceID, view, dest)
		switch {
		case err != nil:
			metrics.ViewCache.WithLabelValues("error").Inc()
			s.logger.Warn("view cache lookup failed", zap.String("view", view), zap.Error(err))
		case hit:
			metrics.ViewCache.WithLabelValues("hit").Inc()
			return dest, nil
		default:
			metrics.ViewCache.WithLabelValues("miss").Inc()
			token = key
		}
	}

	start := time.Now()
	consolidated, err := s.ConsolidateWorkspace(ctx, workspaceID, orgID, categories)
	if err != nil {
		return nil, err
	}
	built, err := s.views.Build(view, consolidated)
	if err != nil {
		return nil, fmt.Errorf("build view %s: %w", view, err)
	}
	metrics.ViewBuildDuration.WithLabelValues(view).Observe(time.Since(start).Seconds())

	if s.cache != nil && token != "" {
		if err := s.cache.Store(ctx, token, built); err != nil {
			s.logger.Warn("view cache store failed", zap.String("view", view), zap.Error(err))
		}
	}
	return built, nil
}

// UpdateExtractionStatus applies a status to every row of an owner or of one
// batch. Only active to deleted is a real transition; repeating the current
// status is a no-op and reviving deleted rows is rejected.
func (s *Service) UpdateExtractionStatus(ctx context.Context, update StatusUpdate) (StatusResult, error) {
	target, err := statusTarget(update)
	if err != nil {
		return StatusResult{}, err
	}

	switch update.Status {
	case store.StatusDeleted:
		start := time.Now()
		refs, err := s.rows.MarkDeleted(ctx, target, update.UpdatedBy, s.now().UTC().Truncate(time.Microsecond))
		metrics.StoreDuration.WithLabelValues("mark_deleted").Observe(time.Since(start).Seconds())
		if err != nil {
			return StatusResult{}, fmt.Errorf("update extraction status: %w", err)
		}
		if len(refs) == 0 {
			counts, err := s.countByStatus(ctx, target)
			if err != nil {
				return StatusResult{}, err
			}
			if counts.Deleted == 0 {
				return StatusResult{}, ErrNotFound
			}
			return StatusResult{Status: store.StatusDeleted}, nil
		}

		s.logger.Info("extraction rows deleted",
			zap.String("org_id", update.OrgID),
			zap.String("owner_id", update.OwnerID),
			zap.String("batch_id", update.BatchID),
			zap.Int("rows", len(refs)),
			zap.String("updated_by", update.UpdatedBy))
		s.afterWrite(ctx, update.OrgID, refs)
		return StatusResult{Status: store.StatusDeleted, Affected: len(refs)}, nil

	case store.StatusActive:
		counts, err := s.countByStatus(ctx, target)
		if err != nil {
			return StatusResult{}, err
		}
		switch {
		case counts.Active > 0:
			return StatusResult{Status: store.StatusActive}, nil
		case counts.Deleted > 0:
			return StatusResult{}, fmt.Errorf("%w: deleted extractions cannot be reactivated", ErrInvalidTransition)
		default:
			return StatusResult{}, ErrNotFound
		}

	default:
		return StatusResult{}, fmt.Errorf("%w: %q", ErrInvalidStatus, update.Status)
	}
}

// DeleteExtraction soft-deletes every row of an owner.
func (s *Service) DeleteExtraction(ctx context.Context, ownerID, orgID, deletedBy string) (StatusResult, error) {
	return s.UpdateExtractionStatus(ctx, StatusUpdate{
		OrgID:     orgID,
		OwnerID:   ownerID,
		Status:    store.StatusDeleted,
		UpdatedBy: deletedBy,
	})
}

func (s *Service) WorkspaceStats(ctx context.Context, workspaceID, orgID string) (store.WorkspaceStats, error) {
	start := time.Now()
	stats, err := s.rows.WorkspaceStats(ctx, workspaceID, orgID)
	metrics.StoreDuration.WithLabelValues("stats").Observe(time.Since(start).Seconds())
	if err != nil {
		return store.WorkspaceStats{}, fmt.Errorf("workspace stats %s: %w", workspaceID, err)
	}
	return stats, nil
}

func (s *Service) countByStatus(ctx context.Context, target store.RowTarget) (store.StatusCounts, error) {
	start := time.Now()
	counts, err := s.rows.CountByStatus(ctx, target)
	metrics.StoreDuration.WithLabelValues("count_status").Observe(time.Since(start).Seconds())
	if err != nil {
		return store.StatusCounts{}, fmt.Errorf("count extraction rows: %w", err)
	}
	return counts, nil
}

func statusTarget(update StatusUpdate) (store.RowTarget, error) {
	target := store.RowTarget{
		OrgID:   strings.TrimSpace(update.OrgID),
		OwnerID: strings.TrimSpace(update.OwnerID),
		BatchID: strings.TrimSpace(update.BatchID),
	}
	if target.OrgID == "" {
		return store.RowTarget{}, fmt.Errorf("%w: org_id is required", ErrInvalidRequest)
	}
	if (target.OwnerID == "") == (target.BatchID == "") {
		return store.RowTarget{}, fmt.Errorf("%w: exactly one of owner_id or batch_id is required", ErrInvalidRequest)
	}
	return target, nil
}

// afterWrite drops cached views and index entries made stale by a write.
func (s *Service) afterWrite(ctx context.Context, orgID string, refs []store.RowRef) {
	workspaces := map[string]bool{}
	batches := map[string]bool{}
	var batchIDs []string
	for _, ref := range refs {
		workspaces[ref.WorkspaceID] = true
		if ref.BatchID != "" && !batches[ref.BatchID] {
			batches[ref.BatchID] = true
			batchIDs = append(batchIDs, ref.BatchID)
		}
	}

	if s.cache != nil {
		for workspaceID := range workspaces {
			if workspaceID == "" {
				continue
			}
			if err := s.cache.Invalidate(ctx, orgID, workspaceID); err != nil {
				s.setStale(orgID, workspaceID, true)
				s.logger.Warn("view cache invalidation failed, bypassing cache for workspace",
					zap.String("workspace_id", workspaceID), zap.Error(err))
				continue
			}
			s.setStale(orgID, workspaceID, false)
		}
	}
	if s.indexer != nil && len(batchIDs) > 0 {
		s.indexer.RemoveBatches(orgID, batchIDs)
	}
}

// cacheUsable reports whether cached views of a workspace can be trusted. A
// workspace whose last invalidation failed retries it first.
func (s *Service) cacheUsable(ctx context.Context, orgID, workspaceID string) bool {
	s.staleMu.Lock()
	stale := s.staleViews[orgID+"/"+workspaceID]
	s.staleMu.Unlock()
	if !stale {
		return true
	}
	if err := s.cache.Invalidate(ctx, orgID, workspaceID); err != nil {
		metrics.ViewCache.WithLabelValues("bypass").Inc()
		return false
	}
	s.setStale(orgID, workspaceID, false)
	return true
}

func (s *Service) setStale(orgID, workspaceID string, stale bool) {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	if stale {
		s.staleViews[orgID+"/"+workspaceID] = true
		return
	}
	delete(s.staleViews, orgID+"/"+workspaceID)
}

func (s *Service) reportSkipped(ext Extraction) {
	if len(ext.Skipped) == 0 {
		return
	}
	metrics.MalformedRows.Add(float64(len(ext.Skipped)))
	for _, skipped := range ext.Skipped {
		s.logger.Warn("skipping malformed extraction row",
			zap.String("owner_id", ext.OwnerID),
			zap.Int64("row_id", skipped.RowID),
			zap.String("category", skipped.Category),
			zap.String("reason", skipped.Reason))
	}
}

func categoriesOf(rows []store.ExtractionRow) []string {
	seen := map[string]bool{}
	categories := make([]string, 0)
	for _, row := range rows {
		if row.Kind != store.KindItem || seen[row.Category] {
			continue
		}
		seen[row.Category] = true
		categories = append(categories, row.Category)
	}
	return categories
}

// IsNotFound reports whether err means no active extraction exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
