package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore persists extraction rows in Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const rowColumns = `id, batch_id, owner_id, workspace_id, org_id, kind, category, payload, is_list,
	batch_digest, status, created_at, created_by, updated_at, updated_by`

// InsertBatch writes one extraction batch atomically. Every row must share the
// batch id, owner and org. Previously active rows of the owner are marked
// deleted in the same transaction; a batch whose digest matches the owner's
// active batch is treated as a retry and writes nothing.
func (s *SQLStore) InsertBatch(ctx context.Context, rows []ExtractionRow) (InsertResult, error) {
	if len(rows) == 0 {
		return InsertResult{}, errors.New("insert batch: no rows")
	}
	head := rows[0]
	for _, row := range rows[1:] {
		if row.BatchID != head.BatchID || row.OwnerID != head.OwnerID || row.OrgID != head.OrgID {
			return InsertResult{}, errors.New("insert batch: rows span more than one batch")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.lockOwner(ctx, tx, head.OrgID, head.OwnerID); err != nil {
		return InsertResult{}, err
	}

	if head.Digest != "" {
		var (
			existing  string
			createdAt dbTime
		)
		err := tx.QueryRowContext(ctx, s.dialect.rebind(`
			SELECT batch_id, created_at FROM extraction_rows
			WHERE owner_id=$1 AND org_id=$2 AND status='active' AND batch_digest=$3
			ORDER BY id DESC
			LIMIT 1
		`), head.OwnerID, head.OrgID, head.Digest).Scan(&existing, &createdAt)
		switch {
		case err == nil:
			if err := tx.Commit(); err != nil {
				return InsertResult{}, fmt.Errorf("commit batch tx: %w", err)
			}
			return InsertResult{BatchID: existing, Duplicate: true, CreatedAt: createdAt.Time}, nil
		case !errors.Is(err, sql.ErrNoRows):
			return InsertResult{}, fmt.Errorf("lookup batch digest: %w", err)
		}
	}

	superseded, err := s.markDeleted(ctx, tx,
		`owner_id=$3 AND org_id=$4`,
		head.CreatedBy, head.CreatedAt, head.OwnerID, head.OrgID)
	if err != nil {
		return InsertResult{}, fmt.Errorf("supersede owner rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`
		INSERT INTO extraction_rows (
			batch_id, owner_id, workspace_id, org_id, kind, category, payload, is_list,
			batch_digest, status, created_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'active', $10, $11)
	`))
	if err != nil {
		return InsertResult{}, fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		kind := row.Kind
		if kind == "" {
			kind = KindItem
		}
		if _, err := stmt.ExecContext(ctx,
			row.BatchID, row.OwnerID, row.WorkspaceID, row.OrgID, kind, row.Category, row.Payload,
			nullableBool(row.IsList), row.Digest, s.dialect.timeArg(row.CreatedAt), row.CreatedBy,
		); err != nil {
			return InsertResult{}, fmt.Errorf("insert row %s/%s: %w", row.OwnerID, row.Category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("commit batch tx: %w", err)
	}
	return InsertResult{BatchID: head.BatchID, Inserted: len(rows), Superseded: superseded}, nil
}

// lockOwner serializes batch writes for one owner. SQLite runs on a single
// connection, so the transaction itself is already exclusive.
func (s *SQLStore) lockOwner(ctx context.Context, tx *sql.Tx, orgID, ownerID string) error {
	if s.dialect != Postgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, orgID+"/"+ownerID); err != nil {
		return fmt.Errorf("lock owner %s: %w", ownerID, err)
	}
	return nil
}

func (s *SQLStore) markDeleted(ctx context.Context, tx *sql.Tx, where string, updatedBy string, at time.Time, args ...any) ([]RowRef, error) {
	query := s.dialect.rebind(`
		UPDATE extraction_rows
		SET status='deleted', updated_at=$1, updated_by=$2
		WHERE status='active' AND ` + where + `
		RETURNING id, batch_id, owner_id, workspace_id, kind
	`)
	params := append([]any{s.dialect.timeArg(at), updatedBy}, args...)
	rows, err := tx.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make([]RowRef, 0)
	for rows.Next() {
		var ref RowRef
		if err := rows.Scan(&ref.ID, &ref.BatchID, &ref.OwnerID, &ref.WorkspaceID, &ref.Kind); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ListOwnerRows returns the active rows of one owner in write order.
func (s *SQLStore) ListOwnerRows(ctx context.Context, ownerID, orgID string) ([]ExtractionRow, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT `+rowColumns+`
		FROM extraction_rows
		WHERE owner_id=$1 AND org_id=$2 AND status='active'
		ORDER BY created_at ASC, id ASC
	`), ownerID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list owner rows: %w", err)
	}
	return scanRows(rows)
}

// ListWorkspaceRows returns the active rows of every owner in a workspace in
// write order.
func (s *SQLStore) ListWorkspaceRows(ctx context.Context, workspaceID, orgID string) ([]ExtractionRow, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT `+rowColumns+`
		FROM extraction_rows
		WHERE workspace_id=$1 AND org_id=$2 AND status='active'
		ORDER BY created_at ASC, id ASC
	`), workspaceID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list workspace rows: %w", err)
	}
	return scanRows(rows)
}

func (s *SQLStore) CountByStatus(ctx context.Context, target RowTarget) (StatusCounts, error) {
	where, args, err := targetClause(target)
	if err != nil {
		return StatusCounts{}, err
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT status, COUNT(*) FROM extraction_rows
		WHERE `+shiftParams(where, -2)+`
		GROUP BY status
	`), args...)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count rows by status: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, fmt.Errorf("scan status count: %w", err)
		}
		switch status {
		case StatusActive:
			counts.Active = n
		case StatusDeleted:
			counts.Deleted = n
		}
	}
	if err := rows.Err(); err != nil {
		return StatusCounts{}, fmt.Errorf("count rows by status: %w", err)
	}
	return counts, nil
}

// MarkDeleted soft-deletes the active rows addressed by target and reports
// which rows changed.
func (s *SQLStore) MarkDeleted(ctx context.Context, target RowTarget, updatedBy string, at time.Time) ([]RowRef, error) {
	where, args, err := targetClause(target)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if target.OwnerID != "" {
		if err := s.lockOwner(ctx, tx, target.OrgID, target.OwnerID); err != nil {
			return nil, err
		}
	}

	refs, err := s.markDeleted(ctx, tx, where, updatedBy, at, args...)
	if err != nil {
		return nil, fmt.Errorf("mark rows deleted: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete tx: %w", err)
	}
	return refs, nil
}

// targetClause builds a WHERE fragment whose placeholders start at $3, after
// the two SET parameters used by markDeleted.
func targetClause(target RowTarget) (string, []any, error) {
	if target.OrgID == "" {
		return "", nil, errors.New("row target: org id is required")
	}
	switch {
	case target.BatchID != "":
		return `batch_id=$3 AND org_id=$4`, []any{target.BatchID, target.OrgID}, nil
	case target.OwnerID != "":
		return `owner_id=$3 AND org_id=$4`, []any{target.OwnerID, target.OrgID}, nil
	default:
		return "", nil, errors.New("row target: owner id or batch id is required")
	}
}

// shiftParams renumbers $N placeholders by delta.
func shiftParams(clause string, delta int) string {
	return positionalParam.ReplaceAllStringFunc(clause, func(match string) string {
		var n int
		_, _ = fmt.Sscanf(match, "$%d", &n)
		return fmt.Sprintf("$%d", n+delta)
	})
}

func (s *SQLStore) WorkspaceStats(ctx context.Context, workspaceID, orgID string) (WorkspaceStats, error) {
	var stats WorkspaceStats
	var last dbTime
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT
			COUNT(DISTINCT CASE WHEN status='active' THEN owner_id END),
			COUNT(CASE WHEN status='active' THEN 1 END),
			COUNT(CASE WHEN status='active' AND kind='item' THEN 1 END),
			COUNT(CASE WHEN status='deleted' THEN 1 END),
			MAX(CASE WHEN status='active' THEN created_at END)
		FROM extraction_rows
		WHERE workspace_id=$1 AND org_id=$2
	`), workspaceID, orgID).Scan(&stats.Owners, &stats.ActiveRows, &stats.ItemRows, &stats.DeletedRows, &last)
	if err != nil {
		return WorkspaceStats{}, fmt.Errorf("workspace stats: %w", err)
	}
	stats.LastActivity = last.ptr()
	return stats, nil
}

// SearchRows is the substring fallback used when the search index is down.
func (s *SQLStore) SearchRows(ctx context.Context, orgID, workspaceID, query string, limit int) ([]ExtractionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT `+rowColumns+`
		FROM extraction_rows
		WHERE org_id=$1 AND workspace_id=$2 AND status='active' AND kind='item'
			AND (LOWER(payload) LIKE $3 ESCAPE '\' OR LOWER(category) LIKE $3 ESCAPE '\')
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`), orgID, workspaceID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search rows: %w", err)
	}
	return scanRows(rows)
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func scanRows(rows *sql.Rows) ([]ExtractionRow, error) {
	defer rows.Close()

	items := make([]ExtractionRow, 0)
	for rows.Next() {
		var (
			row       ExtractionRow
			isList    sql.NullBool
			createdAt dbTime
			updatedAt dbTime
			updatedBy sql.NullString
		)
		if err := rows.Scan(
			&row.ID, &row.BatchID, &row.OwnerID, &row.WorkspaceID, &row.OrgID, &row.Kind, &row.Category,
			&row.Payload, &isList, &row.Digest, &row.Status, &createdAt, &row.CreatedBy, &updatedAt, &updatedBy,
		); err != nil {
			return nil, fmt.Errorf("scan extraction row: %w", err)
		}
		if isList.Valid {
			v := isList.Bool
			row.IsList = &v
		}
		row.CreatedAt = createdAt.Time
		row.UpdatedAt = updatedAt.ptr()
		row.UpdatedBy = updatedBy.String
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extraction rows: %w", err)
	}
	return items, nil
}
