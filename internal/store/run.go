package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dkurien/fodpipe/internal/evidence"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// RunKind distinguishes aggregation runs from evidence runs.
type RunKind string

const (
	// RunKindEvents is a detector-stream aggregation run.
	RunKindEvents RunKind = "events"
	// RunKindEvidence is an evidence assembly and packaging run.
	RunKindEvidence RunKind = "evidence"
)

// Run represents one pipeline invocation recorded in the catalog.
type Run struct {
	ID            string
	Kind          RunKind
	Video         string
	ParamsJSON    string
	EventCount    int
	ArchiveDigest string
	CreatedAt     time.Time
}

// RunRepository provides catalog operations for runs and their events.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run. A missing ID is assigned; ParamsJSON
// defaults to an empty object.
func (r *RunRepository) Create(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.ParamsJSON == "" {
		run.ParamsJSON = "{}"
	}
	run.CreatedAt = time.Now().UTC()

	_, err := r.db.Exec(
		`INSERT INTO runs (id, kind, video, params, event_count, archive_digest, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Video, run.ParamsJSON, run.EventCount, run.ArchiveDigest, run.CreatedAt,
	)
	return err
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run := &Run{}
	var kind string

	err := r.db.QueryRow(
		`SELECT id, kind, video, params, event_count, archive_digest, created_at
		 FROM runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &kind, &run.Video, &run.ParamsJSON, &run.EventCount, &run.ArchiveDigest, &run.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	run.Kind = RunKind(kind)
	return run, nil
}

// List retrieves all runs, newest first.
func (r *RunRepository) List() ([]*Run, error) {
	rows, err := r.db.Query(
		`SELECT id, kind, video, params, event_count, archive_digest, created_at
		 FROM runs ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var kind string

		err := rows.Scan(&run.ID, &kind, &run.Video, &run.ParamsJSON, &run.EventCount, &run.ArchiveDigest, &run.CreatedAt)
		if err != nil {
			return nil, err
		}

		run.Kind = RunKind(kind)
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// SetArchiveDigest records the sealed archive digest for a run.
func (r *RunRepository) SetArchiveDigest(id, digest string) error {
	result, err := r.db.Exec(
		`UPDATE runs SET archive_digest = ? WHERE id = ?`,
		digest, id,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddEvents records a run's index rows and updates its event count.
// All rows land in one transaction.
func (r *RunRepository) AddEvents(runID string, rows []evidence.IndexRow) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO events (run_id, event_id, video, class, roi_id,
		                     start_time_s, end_time_s,
		                     clip_path, snapshot_path, snapshot_bbox_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.Exec(
			runID, row.EventID, row.Video, row.Class, row.ROIID,
			row.StartTimeS, row.EndTimeS,
			row.ClipPath, row.SnapPath, row.BBoxPath,
		)
		if err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`UPDATE runs SET event_count = ? WHERE id = ?`, len(rows), runID); err != nil {
		return err
	}

	return tx.Commit()
}

// EventsForRun retrieves a run's recorded events in index order.
func (r *RunRepository) EventsForRun(runID string) ([]evidence.IndexRow, error) {
	rows, err := r.db.Query(
		`SELECT event_id, video, class, roi_id, start_time_s, end_time_s,
		        clip_path, snapshot_path, snapshot_bbox_path
		 FROM events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []evidence.IndexRow
	for rows.Next() {
		var row evidence.IndexRow
		err := rows.Scan(
			&row.EventID, &row.Video, &row.Class, &row.ROIID,
			&row.StartTimeS, &row.EndTimeS,
			&row.ClipPath, &row.SnapPath, &row.BBoxPath,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// AllEvents retrieves every recorded event across runs, newest run
// first, for cross-run reporting.
func (r *RunRepository) AllEvents() ([]evidence.IndexRow, error) {
	rows, err := r.db.Query(
		`SELECT e.event_id, e.video, e.class, e.roi_id, e.start_time_s, e.end_time_s,
		        e.clip_path, e.snapshot_path, e.snapshot_bbox_path
		 FROM events e
		 JOIN runs r ON r.id = e.run_id
		 ORDER BY r.created_at DESC, r.id, e.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []evidence.IndexRow
	for rows.Next() {
		var row evidence.IndexRow
		err := rows.Scan(
			&row.EventID, &row.Video, &row.Class, &row.ROIID,
			&row.StartTimeS, &row.EndTimeS,
			&row.ClipPath, &row.SnapPath, &row.BBoxPath,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
