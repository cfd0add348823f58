package database

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/prnuscan/internal/model"
)

// FileName is the database file created inside the database directory.
const FileName = "prnuscan.db"

// ErrNotFound is returned when a requested fingerprint does not exist.
var ErrNotFound = errors.New("not found")

// DB provides SQLite-based storage for fingerprints, per-image metrics and
// attribution results.
type DB struct {
	db *sql.DB

	dbPath string
}

// Options configures DB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a DB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*DB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (run estimate first)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file; mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pdb := &DB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := pdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return pdb, nil
}

// Path returns the database file path.
func (pdb *DB) Path() string { return pdb.dbPath }

// Close closes the database connection.
func (pdb *DB) Close() error {
	return pdb.db.Close()
}

func (pdb *DB) createTables() error {
	schema := `
	-- One fingerprint per device; k is h*w little-endian float64 values.
	CREATE TABLE IF NOT EXISTS fingerprints (
		device TEXT PRIMARY KEY,
		height INTEGER NOT NULL,
		width INTEGER NOT NULL,
		levels INTEGER NOT NULL,
		sigma REAL NOT NULL,
		images INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		k BLOB NOT NULL
	);

	-- Metrics of one anonymized image.
	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		algorithm TEXT NOT NULL,
		device TEXT NOT NULL,
		file TEXT NOT NULL,
		psnr REAL NOT NULL,
		initial_pce REAL NOT NULL,
		pce REAL NOT NULL,
		initial_ccn REAL NOT NULL,
		ccn REAL NOT NULL,
		unmeasurable TEXT NOT NULL DEFAULT '[]',
		outcome TEXT NOT NULL,
		iterations INTEGER NOT NULL DEFAULT 0,
		initial_statistic REAL NOT NULL DEFAULT 0,
		final_statistic REAL NOT NULL DEFAULT 0,
		measured_at TEXT NOT NULL,
		UNIQUE(algorithm, device, file)
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_algorithm ON metrics(algorithm);
	CREATE INDEX IF NOT EXISTS idx_metrics_device ON metrics(device);

	-- Source camera identification results.
	CREATE TABLE IF NOT EXISTS attributions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file TEXT NOT NULL,
		true_device TEXT NOT NULL,
		predicted TEXT NOT NULL,
		pce REAL NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(file, true_device)
	);

	CREATE INDEX IF NOT EXISTS idx_attr_true ON attributions(true_device);
	`
	_, err := pdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveFingerprint inserts or replaces the fingerprint of fp.Device.
func (pdb *DB) SaveFingerprint(ctx context.Context, fp *model.Fingerprint) error {
	if fp == nil || fp.K == nil {
		return errors.New("empty fingerprint")
	}
	if fp.K.Rank() != 2 {
		return fmt.Errorf("%w: fingerprint must be rank 2, got %d", model.ErrRankMismatch, fp.K.Rank())
	}
	createdAt := fp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
	INSERT INTO fingerprints (device, height, width, levels, sigma, images, created_at, k)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(device) DO UPDATE SET
		height = excluded.height,
		width = excluded.width,
		levels = excluded.levels,
		sigma = excluded.sigma,
		images = excluded.images,
		created_at = excluded.created_at,
		k = excluded.k
	`
	_, err := pdb.db.ExecContext(ctx, query,
		fp.Device,
		fp.K.H,
		fp.K.W,
		fp.Levels,
		fp.Sigma,
		fp.Images,
		createdAt.UTC().Format(time.RFC3339Nano),
		encodePlane(fp.K.Planes[0]),
	)
	if err != nil {
		return fmt.Errorf("failed to save fingerprint: %w", err)
	}
	return nil
}

// LoadFingerprint returns the fingerprint of device, or ErrNotFound.
func (pdb *DB) LoadFingerprint(ctx context.Context, device string) (*model.Fingerprint, error) {
	query := `
	SELECT height, width, levels, sigma, images, created_at, k
	FROM fingerprints WHERE device = ?
	`
	var (
		h, w      int
		createdAt string
		blob      []byte
	)
	fp := &model.Fingerprint{Device: device}
	err := pdb.db.QueryRowContext(ctx, query, device).Scan(&h, &w, &fp.Levels, &fp.Sigma, &fp.Images, &createdAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fingerprint of device %s: %w", device, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprint: %w", err)
	}

	plane, err := decodePlane(blob, h*w)
	if err != nil {
		return nil, fmt.Errorf("fingerprint of device %s: %w", device, err)
	}
	k, err := model.ArrayFromPlane(h, w, plane)
	if err != nil {
		return nil, err
	}
	fp.K = k
	fp.CreatedAt = parseTimestamp(createdAt)
	return fp, nil
}

// FingerprintMetadata describes a stored fingerprint without its pattern.
type FingerprintMetadata struct {
	Device    string
	Height    int
	Width     int
	Levels    int
	Sigma     float64
	Images    int
	CreatedAt time.Time
}

// ListFingerprints returns the metadata of every stored fingerprint, ordered
// by device.
func (pdb *DB) ListFingerprints(ctx context.Context) ([]FingerprintMetadata, error) {
	query := `
	SELECT device, height, width, levels, sigma, images, created_at
	FROM fingerprints ORDER BY device
	`
	rows, err := pdb.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer rows.Close()

	var list []FingerprintMetadata
	for rows.Next() {
		var m FingerprintMetadata
		var createdAt string
		if err := rows.Scan(&m.Device, &m.Height, &m.Width, &m.Levels, &m.Sigma, &m.Images, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		m.CreatedAt = parseTimestamp(createdAt)
		list = append(list, m)
	}
	return list, rows.Err()
}

// DeleteFingerprint removes the fingerprint of device. Deleting a missing
// fingerprint returns ErrNotFound.
func (pdb *DB) DeleteFingerprint(ctx context.Context, device string) error {
	res, err := pdb.db.ExecContext(ctx, "DELETE FROM fingerprints WHERE device = ?", device)
	if err != nil {
		return fmt.Errorf("failed to delete fingerprint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete fingerprint: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("fingerprint of device %s: %w", device, ErrNotFound)
	}
	return nil
}

// SaveMetrics inserts or updates the metrics of one image.
// Uses UPSERT so re-running an experiment replaces earlier values.
func (pdb *DB) SaveMetrics(ctx context.Context, m *model.ImageMetrics) error {
	unmeasurable := m.Unmeasurable
	if unmeasurable == nil {
		unmeasurable = []string{}
	}
	unmeasurableJSON, err := json.Marshal(unmeasurable)
	if err != nil {
		return fmt.Errorf("failed to serialize unmeasurable list: %w", err)
	}
	measuredAt := m.MeasuredAt
	if measuredAt.IsZero() {
		measuredAt = time.Now()
	}

	query := `
	INSERT INTO metrics (algorithm, device, file, psnr, initial_pce, pce, initial_ccn, ccn,
		unmeasurable, outcome, iterations, initial_statistic, final_statistic, measured_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(algorithm, device, file) DO UPDATE SET
		psnr = excluded.psnr,
		initial_pce = excluded.initial_pce,
		pce = excluded.pce,
		initial_ccn = excluded.initial_ccn,
		ccn = excluded.ccn,
		unmeasurable = excluded.unmeasurable,
		outcome = excluded.outcome,
		iterations = excluded.iterations,
		initial_statistic = excluded.initial_statistic,
		final_statistic = excluded.final_statistic,
		measured_at = excluded.measured_at
	`
	_, err = pdb.db.ExecContext(ctx, query,
		m.Algorithm,
		m.Device,
		m.File,
		m.PSNR,
		m.InitialPCE,
		m.FinalPCE,
		m.InitialCCN,
		m.FinalCCN,
		string(unmeasurableJSON),
		m.Outcome.String(),
		m.Iterations,
		m.InitialStatistic,
		m.FinalStatistic,
		measuredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save metrics: %w", err)
	}
	return nil
}

// QueryMetrics returns stored metrics filtered by algorithm and device.
// An empty filter matches everything. Results are ordered by algorithm,
// device and file.
func (pdb *DB) QueryMetrics(ctx context.Context, algorithm, device string) ([]model.ImageMetrics, error) {
	query := `
	SELECT algorithm, device, file, psnr, initial_pce, pce, initial_ccn, ccn,
		unmeasurable, outcome, iterations, initial_statistic, final_statistic, measured_at
	FROM metrics WHERE 1=1
	`
	var args []any
	if algorithm != "" {
		query += " AND algorithm = ?"
		args = append(args, algorithm)
	}
	if device != "" {
		query += " AND device = ?"
		args = append(args, device)
	}
	query += " ORDER BY algorithm, device, file"

	rows, err := pdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var list []model.ImageMetrics
	for rows.Next() {
		var (
			m                                  model.ImageMetrics
			unmeasurable, outcome, measuredAt string
		)
		if err := rows.Scan(&m.Algorithm, &m.Device, &m.File, &m.PSNR,
			&m.InitialPCE, &m.FinalPCE, &m.InitialCCN, &m.FinalCCN,
			&unmeasurable, &outcome, &m.Iterations, &m.InitialStatistic, &m.FinalStatistic,
			&measuredAt); err != nil {
			return nil, fmt.Errorf("failed to scan metrics: %w", err)
		}
		if err := json.Unmarshal([]byte(unmeasurable), &m.Unmeasurable); err != nil {
			return nil, fmt.Errorf("failed to parse unmeasurable list: %w", err)
		}
		if len(m.Unmeasurable) == 0 {
			m.Unmeasurable = nil
		}
		if m.Outcome, err = model.ParseOutcome(outcome); err != nil {
			return nil, err
		}
		m.MeasuredAt = parseTimestamp(measuredAt)
		list = append(list, m)
	}
	return list, rows.Err()
}

// MetricsGroup is one (algorithm, device) pair with stored metrics.
type MetricsGroup struct {
	Algorithm string
	Device    string
	Images    int
}

// ListMetricsGroups returns every (algorithm, device) pair with stored metrics.
func (pdb *DB) ListMetricsGroups(ctx context.Context) ([]MetricsGroup, error) {
	query := `
	SELECT algorithm, device, COUNT(*) FROM metrics
	GROUP BY algorithm, device
	ORDER BY algorithm, device
	`
	rows, err := pdb.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics groups: %w", err)
	}
	defer rows.Close()

	var groups []MetricsGroup
	for rows.Next() {
		var g MetricsGroup
		if err := rows.Scan(&g.Algorithm, &g.Device, &g.Images); err != nil {
			return nil, fmt.Errorf("failed to scan metrics group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AttributionRecord is a stored identification result.
type AttributionRecord struct {
	ID         int64
	File       string
	TrueDevice string
	Predicted  string
	PCE        float64
	Timestamp  time.Time
}

// Correct reports whether the predicted device is the true one.
func (r AttributionRecord) Correct() bool { return r.Predicted == r.TrueDevice }

// SaveAttribution inserts or updates the identification result of one file.
func (pdb *DB) SaveAttribution(ctx context.Context, rec *AttributionRecord) error {
	query := `
	INSERT INTO attributions (file, true_device, predicted, pce)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(file, true_device) DO UPDATE SET
		predicted = excluded.predicted,
		pce = excluded.pce,
		timestamp = CURRENT_TIMESTAMP
	`
	_, err := pdb.db.ExecContext(ctx, query, rec.File, rec.TrueDevice, rec.Predicted, rec.PCE)
	if err != nil {
		return fmt.Errorf("failed to save attribution: %w", err)
	}
	return nil
}

// QueryAttributions returns stored identification results, optionally
// filtered by true device.
func (pdb *DB) QueryAttributions(ctx context.Context, trueDevice string) ([]AttributionRecord, error) {
	query := `
	SELECT id, file, true_device, predicted, pce, timestamp
	FROM attributions
	`
	var args []any
	if trueDevice != "" {
		query += " WHERE true_device = ?"
		args = append(args, trueDevice)
	}
	query += " ORDER BY true_device, file"

	rows, err := pdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributions: %w", err)
	}
	defer rows.Close()

	var list []AttributionRecord
	for rows.Next() {
		var r AttributionRecord
		var ts string
		if err := rows.Scan(&r.ID, &r.File, &r.TrueDevice, &r.Predicted, &r.PCE, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan attribution: %w", err)
		}
		r.Timestamp = parseTimestamp(ts)
		list = append(list, r)
	}
	return list, rows.Err()
}

func encodePlane(p []float64) []byte {
	buf := make([]byte, 8*len(p))
	for i, v := range p {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodePlane(buf []byte, n int) ([]float64, error) {
	if len(buf) != 8*n {
		return nil, fmt.Errorf("corrupt pattern: %d bytes for %d values", len(buf), n)
	}
	p := make([]float64, n)
	for i := range p {
		p[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return p, nil
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp tries each of timestampFormats and returns zero time if
// none matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
