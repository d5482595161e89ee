package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/splax/apiwatch/internal/domain"
	"github.com/splax/apiwatch/internal/repository"
)

// timeLayout is the canonical timestamp format stored in the metric table.
// It sorts lexicographically and stays comparable with sqlite's datetime().
const timeLayout = "2006-01-02 15:04:05.000"

// noiseGuard keeps the collector's own surface out of aggregates even if a
// record slips past the ingestion filter.
const noiseGuard = ` AND route NOT LIKE '%/metrics%' AND route NOT LIKE '%favicon%'`

// Store implements the metric repositories on SQLite. All writes funnel
// through one *sql.DB; WAL mode lets aggregation reads proceed concurrently
// and busy_timeout bounds how long a statement waits on the write lock.
type Store struct {
	db  *sql.DB
	now func() time.Time

	// insertMu keeps timestamp assignment and the insert itself one atomic
	// step, so a record's timestamp never decreases as its id grows.
	insertMu sync.Mutex
}

// Open opens (creating if needed) the metric database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=%s&_pragma=%s",
		path,
		url.QueryEscape("journal_mode(WAL)"),
		url.QueryEscape("busy_timeout(5000)"),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connections.
func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ repository.MetricRepository    = (*Store)(nil)
	_ repository.RetentionRepository = (*Store)(nil)
)

// InsertMetric appends one record, assigning its id and timestamp. The caller
// does not retry on failure; the record is dropped.
func (s *Store) InsertMetric(ctx context.Context, record *domain.MetricRecord) error {
	const query = `INSERT INTO api_metrics (route, method, status, response_time, is_error, source_port, service_name, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	var sourcePort any
	if record.SourcePort != nil {
		sourcePort = *record.SourcePort
	}

	s.insertMu.Lock()
	defer s.insertMu.Unlock()
	ts := s.now().UTC()
	res, err := s.db.ExecContext(ctx, query,
		record.Route,
		record.Method,
		record.Status,
		record.ResponseTime,
		boolToInt(record.IsError),
		sourcePort,
		record.ServiceName,
		ts.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("metric insert id: %w", err)
	}
	record.ID = id
	record.Timestamp = ts
	return nil
}

// ListRecent returns the newest records first, optionally filtered by service.
func (s *Store) ListRecent(ctx context.Context, service string, limit int) ([]domain.MetricRecord, error) {
	query := `SELECT id, route, method, status, response_time, is_error, source_port, service_name, timestamp
		FROM api_metrics WHERE 1=1`
	args := make([]any, 0, 2)
	if service != "" {
		query += ` AND service_name = ?`
		args = append(args, service)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent metrics: %w", err)
	}
	defer rows.Close()

	records := make([]domain.MetricRecord, 0)
	for rows.Next() {
		var (
			rec        domain.MetricRecord
			isError    int
			sourcePort sql.NullInt64
			ts         string
		)
		if err := rows.Scan(&rec.ID, &rec.Route, &rec.Method, &rec.Status, &rec.ResponseTime, &isError, &sourcePort, &rec.ServiceName, &ts); err != nil {
			return nil, err
		}
		rec.IsError = isError == 1
		if sourcePort.Valid {
			port := int(sourcePort.Int64)
			rec.SourcePort = &port
		}
		rec.Timestamp = parseTimestamp(ts)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Summary aggregates volume, average latency and error rate over the window.
func (s *Store) Summary(ctx context.Context, window time.Duration, service string) (domain.Summary, error) {
	query := `SELECT COUNT(*), COALESCE(AVG(response_time), 0), COALESCE(SUM(CASE WHEN is_error = 1 THEN 1 ELSE 0 END), 0)
		FROM api_metrics WHERE timestamp >= ?` + noiseGuard
	args := []any{s.cutoff(window)}
	if service != "" {
		query += ` AND service_name = ?`
		args = append(args, service)
	}

	var (
		total  int64
		avg    float64
		errors int64
	)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total, &avg, &errors); err != nil {
		return domain.Summary{}, fmt.Errorf("summary query: %w", err)
	}
	summary := domain.Summary{TotalRequests: total}
	if total > 0 {
		summary.AvgResponseTime = int64(math.Round(avg))
		summary.ErrorRate = round2(float64(errors) * 100 / float64(total))
	}
	return summary, nil
}

// RouteStats returns one row per distinct (route, method) pair, busiest first.
func (s *Store) RouteStats(ctx context.Context, window time.Duration, service string) ([]domain.RouteStat, error) {
	query := `SELECT route, method,
			COUNT(*) AS hits,
			AVG(response_time),
			MAX(response_time),
			MIN(response_time),
			SUM(CASE WHEN is_error = 1 THEN 1 ELSE 0 END) * 100.0 / COUNT(*)
		FROM api_metrics WHERE timestamp >= ?` + noiseGuard
	args := []any{s.cutoff(window)}
	if service != "" {
		query += ` AND service_name = ?`
		args = append(args, service)
	}
	query += ` GROUP BY route, method ORDER BY hits DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("route stats query: %w", err)
	}
	defer rows.Close()

	stats := make([]domain.RouteStat, 0)
	for rows.Next() {
		var (
			stat         domain.RouteStat
			avg          float64
			errorPercent float64
		)
		if err := rows.Scan(&stat.Route, &stat.Method, &stat.Hits, &avg, &stat.MaxTime, &stat.MinTime, &errorPercent); err != nil {
			return nil, err
		}
		stat.AvgTime = int64(math.Round(avg))
		stat.ErrorPercent = round2(errorPercent)
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// LatencySeries returns up to limit points newest first. Callers reverse the
// slice to chart oldest-to-newest; fetching newest first bounds the scan.
func (s *Store) LatencySeries(ctx context.Context, window time.Duration, service string, limit int) ([]domain.LatencyPoint, error) {
	query := `SELECT strftime('%H:%M:%S', timestamp), response_time, route, method
		FROM api_metrics WHERE timestamp >= ?` + noiseGuard
	args := []any{s.cutoff(window)}
	if service != "" {
		query += ` AND service_name = ?`
		args = append(args, service)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("latency series query: %w", err)
	}
	defer rows.Close()

	points := make([]domain.LatencyPoint, 0, limit)
	for rows.Next() {
		var point domain.LatencyPoint
		if err := rows.Scan(&point.Time, &point.Latency, &point.Route, &point.Method); err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, rows.Err()
}

// ErrorBuckets counts error records grouped by minute and route, most recent
// first.
func (s *Store) ErrorBuckets(ctx context.Context, window time.Duration, service string, limit int) ([]domain.ErrorBucket, error) {
	query := `SELECT strftime('%H:%M', timestamp) AS minute, COUNT(*), route, MAX(status)
		FROM api_metrics WHERE is_error = 1 AND timestamp >= ?` + noiseGuard
	args := []any{s.cutoff(window)}
	if service != "" {
		query += ` AND service_name = ?`
		args = append(args, service)
	}
	query += ` GROUP BY minute, route ORDER BY MAX(timestamp) DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error buckets query: %w", err)
	}
	defer rows.Close()

	buckets := make([]domain.ErrorBucket, 0)
	for rows.Next() {
		var bucket domain.ErrorBucket
		if err := rows.Scan(&bucket.Time, &bucket.Count, &bucket.Route, &bucket.Status); err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket)
	}
	return buckets, rows.Err()
}

// ListServices returns the distinct service names with their request counts.
func (s *Store) ListServices(ctx context.Context) ([]domain.ServiceCount, error) {
	const query = `SELECT service_name, COUNT(*) AS requests
		FROM api_metrics GROUP BY service_name ORDER BY requests DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list services query: %w", err)
	}
	defer rows.Close()

	services := make([]domain.ServiceCount, 0)
	for rows.Next() {
		var svc domain.ServiceCount
		if err := rows.Scan(&svc.ServiceName, &svc.Requests); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// Stats describes the metric table as a whole.
func (s *Store) Stats(ctx context.Context) (domain.StoreStats, error) {
	const query = `SELECT COUNT(*), COUNT(DISTINCT route), COUNT(DISTINCT service_name),
			COALESCE(MIN(timestamp), ''), COALESCE(MAX(timestamp), '')
		FROM api_metrics`
	var stats domain.StoreStats
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.TotalRecords, &stats.UniqueRoutes, &stats.Services, &stats.OldestRecord, &stats.NewestRecord); err != nil {
		return domain.StoreStats{}, fmt.Errorf("stats query: %w", err)
	}
	return stats, nil
}

// PurgeOlderThan removes records older than the retention cutoff and reports
// how many were deleted.
func (s *Store) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	const query = `DELETE FROM api_metrics WHERE timestamp < ?`
	res, err := s.db.ExecContext(ctx, query, s.cutoff(age))
	if err != nil {
		return 0, fmt.Errorf("purge metrics: %w", err)
	}
	return res.RowsAffected()
}

// ClearService deletes all records for one service. Clearing a service with
// no stored records reports ErrNotFound.
func (s *Store) ClearService(ctx context.Context, service string) error {
	const query = `DELETE FROM api_metrics WHERE service_name = ?`
	res, err := s.db.ExecContext(ctx, query, service)
	if err != nil {
		return fmt.Errorf("clear service metrics: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear service metrics: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: service %s", repository.ErrNotFound, service)
	}
	return nil
}

// cutoff formats the inclusive lower bound for a trailing window.
func (s *Store) cutoff(window time.Duration) string {
	return s.now().UTC().Add(-window).Format(timeLayout)
}

func parseTimestamp(value string) time.Time {
	ts, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
