// Package layerstore persists the layer index of a G-code file in DuckDB so
// repeated queries on a large upload do not rescan it.
package layerstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"

	"github.com/marcboeker/go-duckdb"
	"github.com/print-resume/backend/internal/logging"
	"github.com/print-resume/backend/internal/models"
)

// Options tune the DuckDB connection.
type Options struct {
	Threads     int
	MemoryLimit string
}

// DefaultOptions are used for a zero Options value.
var DefaultOptions = Options{Threads: 2, MemoryLimit: "256MB"}

var schema = []string{
	`CREATE TABLE meta (
		file_id VARCHAR NOT NULL,
		lines   BIGINT NOT NULL
	)`,
	`CREATE TABLE markers (
		line_index BIGINT NOT NULL,
		height     DOUBLE NOT NULL,
		has_height BOOLEAN NOT NULL,
		dialect    VARCHAR NOT NULL
	)`,
	`CREATE TABLE motion (
		line_index BIGINT NOT NULL,
		z          DOUBLE NOT NULL
	)`,
}

// DuckStore is a layer index stored in one DuckDB file.
type DuckStore struct {
	db     *sql.DB
	dbPath string
}

var logger = logging.New("LayerStore")

func openConnector(dbPath string, opts Options) (*sql.DB, error) {
	if opts.Threads <= 0 {
		opts.Threads = DefaultOptions.Threads
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = DefaultOptions.MemoryLimit
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

// Create makes a new store at dbPath, replacing any existing file.
func Create(dbPath string, opts Options) (*DuckStore, error) {
	os.Remove(dbPath)

	db, err := openConnector(dbPath, opts)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			os.Remove(dbPath)
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	logger.Debugf("created %s", dbPath)
	return &DuckStore{db: db, dbPath: dbPath}, nil
}

// Open opens an existing store.
func Open(dbPath string, opts Options) (*DuckStore, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, err
	}
	db, err := openConnector(dbPath, opts)
	if err != nil {
		return nil, err
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM meta").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read layer index: %w", err)
	}
	if n != 1 {
		db.Close()
		return nil, fmt.Errorf("incomplete layer index %s", dbPath)
	}
	return &DuckStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (ds *DuckStore) Path() string {
	return ds.dbPath
}

// Write stores idx. It must be called once on a freshly created store.
func (ds *DuckStore) Write(ctx context.Context, idx *models.LayerIndex) error {
	conn, err := ds.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		if err := appendRows(dConn, "markers", len(idx.Markers), func(a *duckdb.Appender, i int) error {
			m := idx.Markers[i]
			var h float64
			if m.Height != nil {
				h = *m.Height
			}
			return a.AppendRow(int64(m.LineIndex), h, m.Height != nil, m.Dialect)
		}); err != nil {
			return err
		}

		return appendRows(dConn, "motion", len(idx.Motion), func(a *duckdb.Appender, i int) error {
			mv := idx.Motion[i]
			return a.AppendRow(int64(mv.LineIndex), mv.Z)
		})
	})
	if err != nil {
		return err
	}

	// meta is written last; Open treats a store without it as incomplete.
	if _, err := ds.db.ExecContext(ctx, "INSERT INTO meta VALUES (?, ?)", idx.FileID, int64(idx.Lines)); err != nil {
		return fmt.Errorf("failed to write meta: %w", err)
	}
	logger.Debugf("wrote %d markers, %d motion values", len(idx.Markers), len(idx.Motion))
	return nil
}

func appendRows(conn *duckdb.Conn, table string, n int, row func(a *duckdb.Appender, i int) error) error {
	appender, err := duckdb.NewAppenderFromConn(conn, "", table)
	if err != nil {
		return fmt.Errorf("failed to create %s appender: %w", table, err)
	}
	defer appender.Close()

	for i := 0; i < n; i++ {
		if err := row(appender, i); err != nil {
			return fmt.Errorf("failed to append %s row %d: %w", table, i, err)
		}
	}
	if err := appender.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", table, err)
	}
	return nil
}

// Index reads the whole layer index back.
func (ds *DuckStore) Index(ctx context.Context) (*models.LayerIndex, error) {
	idx := &models.LayerIndex{}
	var lines int64
	if err := ds.db.QueryRowContext(ctx, "SELECT file_id, lines FROM meta").Scan(&idx.FileID, &lines); err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}
	idx.Lines = int(lines)

	var err error
	if idx.Markers, err = ds.Layers(ctx); err != nil {
		return nil, err
	}
	if idx.Motion, err = ds.Motion(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Layers returns all markers in document order.
func (ds *DuckStore) Layers(ctx context.Context) ([]models.LayerMarker, error) {
	return ds.queryMarkers(ctx, "SELECT line_index, height, has_height, dialect FROM markers ORDER BY line_index")
}

// FirstMarkerAtOrAbove returns the first height-bearing marker in document
// order whose height is at least threshold, or nil if there is none.
func (ds *DuckStore) FirstMarkerAtOrAbove(ctx context.Context, threshold float64) (*models.LayerMarker, error) {
	markers, err := ds.queryMarkers(ctx, `
		SELECT line_index, height, has_height, dialect FROM markers
		WHERE has_height AND height >= ?
		ORDER BY line_index
		LIMIT 1`, threshold)
	if err != nil || len(markers) == 0 {
		return nil, err
	}
	return &markers[0], nil
}

// HeightRange returns the lowest and highest marker heights. ok is false
// when no marker carries a height.
func (ds *DuckStore) HeightRange(ctx context.Context) (lo, hi float64, ok bool, err error) {
	var n int64
	row := ds.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(MIN(height), 0), COALESCE(MAX(height), 0) FROM markers WHERE has_height")
	if err := row.Scan(&n, &lo, &hi); err != nil {
		return 0, 0, false, fmt.Errorf("failed to query height range: %w", err)
	}
	return lo, hi, n > 0, nil
}

func (ds *DuckStore) queryMarkers(ctx context.Context, query string, args ...interface{}) ([]models.LayerMarker, error) {
	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query markers: %w", err)
	}
	defer rows.Close()

	markers := make([]models.LayerMarker, 0)
	for rows.Next() {
		var (
			line      int64
			height    float64
			hasHeight bool
			m         models.LayerMarker
		)
		if err := rows.Scan(&line, &height, &hasHeight, &m.Dialect); err != nil {
			return nil, err
		}
		m.LineIndex = int(line)
		if hasHeight {
			h := height
			m.Height = &h
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// Motion returns all Z moves in document order.
func (ds *DuckStore) Motion(ctx context.Context) ([]models.MotionZValue, error) {
	rows, err := ds.db.QueryContext(ctx, "SELECT line_index, z FROM motion ORDER BY line_index")
	if err != nil {
		return nil, fmt.Errorf("failed to query motion: %w", err)
	}
	defer rows.Close()

	values := make([]models.MotionZValue, 0)
	for rows.Next() {
		var line int64
		var v models.MotionZValue
		if err := rows.Scan(&line, &v.Z); err != nil {
			return nil, err
		}
		v.LineIndex = int(line)
		values = append(values, v)
	}
	return values, rows.Err()
}

// Close closes the database.
func (ds *DuckStore) Close() error {
	return ds.db.Close()
}
