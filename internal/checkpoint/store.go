// Package checkpoint provides durable key/value persistence for
// intermediate pipeline state. The presence of a checkpoint is control
// flow: a rerun that finds one loads it instead of recomputing, which is
// what makes interrupted runs resumable without re-paying inference cost.
package checkpoint

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Checkpoint is a named, run-scoped blob recording a completed pipeline
// stage. Once written it is never overwritten.
type Checkpoint struct {
	Key        string
	Stage      string // "clustering", "analysis", "synthesis"
	ClusterKey string
	Payload    string
	Model      string
	ElapsedMS  int64
	CreatedAt  time.Time
}

// BulletinRecord is the durable artifact of one completed run.
type BulletinRecord struct {
	ID              int64
	FeedID          string
	WindowStart     time.Time
	WindowEnd       time.Time
	Model           string
	TotalUnits      int
	TotalThreads    int
	AnalyzedThreads int
	Body            string
	Timings         string // JSON map of phase -> seconds
	FilePath        string
	CreatedAt       time.Time
}

// Store provides database operations for checkpoints and bulletins.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Get retrieves a checkpoint by key. Returns (nil, nil) when absent.
func (s *Store) Get(key string) (*Checkpoint, error) {
	cp := &Checkpoint{}
	err := s.db.QueryRow(`
		SELECT key, stage, cluster_key, payload, model, elapsed_ms, created_at
		FROM checkpoints WHERE key = ?`, key).Scan(
		&cp.Key, &cp.Stage, &cp.ClusterKey, &cp.Payload, &cp.Model, &cp.ElapsedMS, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Put stores a checkpoint. Write-once: if the key already exists the
// existing row wins and no error is returned.
func (s *Store) Put(cp *Checkpoint) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO checkpoints (key, stage, cluster_key, payload, model, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, cp.Key, cp.Stage, cp.ClusterKey, cp.Payload, cp.Model, cp.ElapsedMS)
	return err
}

// GetOrCompute is the content-addressed cache primitive underlying every
// stage: if a checkpoint exists for key it is returned and compute is never
// invoked; otherwise compute runs and its result is persisted before
// returning. The second return value reports whether compute ran.
//
// The compute-then-write pair is deliberately not atomic: a crash between a
// successful compute and the write re-pays that one computation on the next
// run, which is cheaper than provisional-marker bookkeeping.
func (s *Store) GetOrCompute(key, stage, clusterKey string, compute func() (payload, model string, elapsed time.Duration, err error)) (*Checkpoint, bool, error) {
	cp, err := s.Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("checking checkpoint %s: %w", key, err)
	}
	if cp != nil {
		return cp, false, nil
	}

	payload, model, elapsed, err := compute()
	if err != nil {
		return nil, true, err
	}

	cp = &Checkpoint{
		Key:        key,
		Stage:      stage,
		ClusterKey: clusterKey,
		Payload:    payload,
		Model:      model,
		ElapsedMS:  elapsed.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if err := s.Put(cp); err != nil {
		return nil, true, fmt.Errorf("persisting checkpoint %s: %w", key, err)
	}
	return cp, true, nil
}

// Sweep deletes checkpoints older than the retention window, independent of
// run success or failure. Bulletins are never swept. Returns the number of
// rows removed.
func (s *Store) Sweep(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format("2006-01-02 15:04:05")
	res, err := s.db.Exec(`DELETE FROM checkpoints WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertBulletin records a run's final report.
func (s *Store) InsertBulletin(b *BulletinRecord) error {
	res, err := s.db.Exec(`
		INSERT INTO bulletins (feed_id, window_start, window_end, model,
			total_units, total_threads, analyzed_threads, body, timings, file_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, b.FeedID, b.WindowStart.UTC().Format(time.RFC3339), b.WindowEnd.UTC().Format(time.RFC3339),
		b.Model, b.TotalUnits, b.TotalThreads, b.AnalyzedThreads, b.Body, b.Timings, b.FilePath)
	if err != nil {
		return err
	}
	b.ID, _ = res.LastInsertId()
	return nil
}

// LatestBulletin returns the most recent bulletin for a feed, or nil.
func (s *Store) LatestBulletin(feedID string) (*BulletinRecord, error) {
	b := &BulletinRecord{}
	var start, end string
	err := s.db.QueryRow(`
		SELECT id, feed_id, window_start, window_end, model,
			total_units, total_threads, analyzed_threads, body, timings, file_path, created_at
		FROM bulletins WHERE feed_id = ? ORDER BY id DESC LIMIT 1`, feedID).Scan(
		&b.ID, &b.FeedID, &start, &end, &b.Model,
		&b.TotalUnits, &b.TotalThreads, &b.AnalyzedThreads, &b.Body, &b.Timings, &b.FilePath, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.WindowStart, _ = time.Parse(time.RFC3339, start)
	b.WindowEnd, _ = time.Parse(time.RFC3339, end)
	return b, nil
}
