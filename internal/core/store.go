package core

import "context"

// FormatStore persists Formats and their template rows.
type FormatStore interface {
	SaveFormat(ctx context.Context, f Format) error
	GetFormat(ctx context.Context, formatID string) (*Format, error)
	ListFormats(ctx context.Context) ([]Format, error)

	// ReplaceTemplateRows atomically replaces the whole row set and releases
	// reservations on indices that no longer exist.
	ReplaceTemplateRows(ctx context.Context, formatID string, rows []Row) error
	CountTemplateRows(ctx context.Context, formatID string) (int, error)
	ListTemplateRows(ctx context.Context, formatID string, offset, limit int) ([]Row, error)
	// GetTemplateRows returns the rows at the given indices; missing indices are omitted.
	GetTemplateRows(ctx context.Context, formatID string, indices []int) (map[int]Row, error)
	// UpdateTemplateRow replaces one row in place.
	UpdateTemplateRow(ctx context.Context, formatID string, rowIndex int, row Row) error
}

// ReservationStore holds (formatID, rowIndex) -> holder. Every method is a
// single atomic step; ClaimRow is the compare-and-set primitive.
type ReservationStore interface {
	// ClaimRow inserts r if the row is free. It returns the reservation that
	// owns the row after the call and whether this call created it.
	ClaimRow(ctx context.Context, r Reservation) (Reservation, bool, error)
	// AssignRow force-sets the holder and returns the superseded reservation, if any.
	AssignRow(ctx context.Context, r Reservation) (*Reservation, error)
	// ReleaseRow deletes the reservation. An empty holderID matches any holder.
	// Returns ErrNotFound when nothing matched.
	ReleaseRow(ctx context.Context, formatID string, rowIndex int, holderID string) (Reservation, error)
	ListReservations(ctx context.Context, formatID string) (map[int]Reservation, error)
	ListHolderRows(ctx context.Context, formatID, holderID string) ([]int, error)
	// ReleaseBeyond deletes reservations with rowIndex >= count and returns how many.
	ReleaseBeyond(ctx context.Context, formatID string, count int) (int64, error)
}

// FileSave is an atomic file write, optionally patching template rows that
// the file projects.
//
// Every successful write bumps the stored version and sets File.Version to
// it. With IfVersion set the write fails with ErrStale unless the stored
// file is still at that version, and with ErrNotFound if it is gone.
type FileSave struct {
	File         *CreatedFile
	TemplateRows map[int]Row
	IfVersion    int
}

// FileStore persists CreatedFiles.
type FileStore interface {
	// SaveFile creates or replaces a file and applies TemplateRows in one transaction.
	SaveFile(ctx context.Context, save FileSave) error
	GetFile(ctx context.Context, fileID string) (*CreatedFile, error)
	ListFiles(ctx context.Context, ownerID string) ([]*CreatedFile, error)
	ListFilesByFormat(ctx context.Context, formatID string) ([]*CreatedFile, error)
	DeleteFile(ctx context.Context, fileID string) error
	// CommitMerge writes the output file and bumps MergeCount (and the
	// version) on the given sources in one transaction.
	CommitMerge(ctx context.Context, output *CreatedFile, bumpSourceIDs []string) error
}

// EntityStore persists ingestion reference entities and attendance records.
type EntityStore interface {
	// GetEntities resolves many ids in one round trip; unknown ids are omitted.
	GetEntities(ctx context.Context, ids []string) (map[string]Entity, error)
	// CommitIngest upserts entities first, then attendance records in
	// batches of batchSize, all in one transaction.
	CommitIngest(ctx context.Context, entities []Entity, records []AttendanceRecord, batchSize int) error
	GetAttendance(ctx context.Context, entityID string) ([]AttendanceRecord, error)
}

// Store is the single logical store shared by every service instance.
type Store interface {
	FormatStore
	ReservationStore
	FileStore
	EntityStore
	Ping(ctx context.Context) error
	Close()
}
