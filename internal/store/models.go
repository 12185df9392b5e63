package store

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	StatusActive  = "active"
	StatusDeleted = "deleted"

	KindItem   = "item"
	KindMarker = "marker"
)

// ExtractionRow is one category-item of one extraction batch. Marker rows
// carry no category and exist so that an empty batch is still visible.
type ExtractionRow struct {
	ID          int64
	BatchID     string
	OwnerID     string
	WorkspaceID string
	OrgID       string
	Kind        string
	Category    string
	Payload     string
	IsList      *bool
	Digest      string
	Status      string
	CreatedAt   time.Time
	CreatedBy   string
	UpdatedAt   *time.Time
	UpdatedBy   string
}

// RowTarget addresses the rows touched by a status change: every row of an
// owner or every row of a single batch, always inside one org.
type RowTarget struct {
	OrgID   string
	OwnerID string
	BatchID string
}

type InsertResult struct {
	BatchID    string
	Inserted   int
	Superseded []RowRef
	Duplicate  bool
	// CreatedAt is set for duplicates to the stored batch's creation time.
	CreatedAt time.Time
}

// RowRef identifies a row whose status changed.
type RowRef struct {
	ID          int64
	BatchID     string
	OwnerID     string
	WorkspaceID string
	Kind        string
}

type StatusCounts struct {
	Active  int
	Deleted int
}

type WorkspaceStats struct {
	Owners       int        `json:"owners"`
	ActiveRows   int        `json:"active_rows"`
	ItemRows     int        `json:"item_rows"`
	DeletedRows  int        `json:"deleted_rows"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// dbTime scans timestamps from either driver: pgx yields time.Time, SQLite
// yields the fixed-width text written by Dialect.timeArg.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("scan time: unsupported type %T", src)
	}
}

func (t *dbTime) parse(value string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("scan time: unrecognised value %q", value)
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
