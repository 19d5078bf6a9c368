// Package storage is the persistence gateway: the seen-URL index with a
// full-text archive, and the daily stats snapshots that seed the next
// run's incremental analysis.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/deusflow/finbrief/internal/article"
	"github.com/deusflow/finbrief/internal/logger"
)

type Store struct {
	db *sql.DB
}

// DailyStats is one persisted analysis snapshot, keyed by calendar date.
type DailyStats struct {
	Date           time.Time
	SentimentScore float64
	Summary        string
	SectorStats    map[string]float64
}

func New(connectionString string) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("database connected")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		id SERIAL PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		source TEXT,
		category TEXT NOT NULL DEFAULT 'Other',
		content TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_articles_url ON articles(url);
	CREATE INDEX IF NOT EXISTS idx_articles_created_at ON articles(created_at);

	CREATE TABLE IF NOT EXISTS daily_stats (
		date DATE PRIMARY KEY,
		sentiment_score DOUBLE PRECISION NOT NULL,
		summary TEXT,
		sector_stats TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// IsKnownURL reports whether the URL was recorded by any previous run.
func (s *Store) IsKnownURL(url string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM articles WHERE url = $1)`, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check url: %w", err)
	}
	return exists, nil
}

// SaveArticle inserts or merges one article row. Re-saving the same URL is
// a no-op except for the merge rules: content is only overwritten by a
// longer body, and a real category never degrades back to the default.
func (s *Store) SaveArticle(a article.Article) error {
	category := a.Category
	if category == "" {
		category = article.DefaultCategory
	}

	query := `
		INSERT INTO articles (url, title, source, category, content)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (url) DO UPDATE SET
			content = CASE
				WHEN excluded.content IS NOT NULL
				     AND (articles.content IS NULL OR length(excluded.content) > length(articles.content))
				THEN excluded.content
				ELSE articles.content
			END,
			category = CASE
				WHEN excluded.category <> 'Other' THEN excluded.category
				ELSE articles.category
			END
	`

	if _, err := s.db.Exec(query, a.URL, a.Title, a.Source, category, a.FullText); err != nil {
		return fmt.Errorf("failed to save article: %w", err)
	}
	return nil
}

// CleanupOldArticles purges rows past the retention window and returns how
// many were removed.
func (s *Store) CleanupOldArticles(days int) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM articles WHERE created_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup articles: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// SaveDailyStats upserts the snapshot for the given day. Re-running on the
// same date overwrites; there is never more than one row per date.
func (s *Store) SaveDailyStats(day time.Time, score float64, summary string, sectors map[string]float64) error {
	var sectorJSON sql.NullString
	if len(sectors) > 0 {
		data, err := json.Marshal(sectors)
		if err != nil {
			return fmt.Errorf("failed to encode sector stats: %w", err)
		}
		sectorJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO daily_stats (date, sentiment_score, summary, sector_stats)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date) DO UPDATE SET
			sentiment_score = excluded.sentiment_score,
			summary = excluded.summary,
			sector_stats = excluded.sector_stats
	`

	if _, err := s.db.Exec(query, day.Format("2006-01-02"), score, summary, sectorJSON); err != nil {
		return fmt.Errorf("failed to save daily stats: %w", err)
	}
	return nil
}

// LastStats returns the most recent snapshot, or nil when the store is
// empty (cold start).
func (s *Store) LastStats() (*DailyStats, error) {
	row := s.db.QueryRow(
		`SELECT date, sentiment_score, COALESCE(summary, ''), sector_stats
		 FROM daily_stats ORDER BY date DESC LIMIT 1`)

	stats, err := scanStats(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last stats: %w", err)
	}
	return stats, nil
}

// RecentStats returns snapshots of the last N days in ascending date order.
func (s *Store) RecentStats(days int) ([]DailyStats, error) {
	rows, err := s.db.Query(
		`SELECT date, sentiment_score, COALESCE(summary, ''), sector_stats
		 FROM daily_stats
		 WHERE date >= CURRENT_DATE - $1::int
		 ORDER BY date ASC`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			logger.Warn("skipping unreadable stats row", "error", err)
			continue
		}
		out = append(out, *stats)
	}
	return out, rows.Err()
}

// RecentTitles returns article titles within the window, oldest first;
// input for trending-keyword analysis.
func (s *Store) RecentTitles(days int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT title FROM articles
		 WHERE created_at > NOW() - make_interval(days => $1)
		 ORDER BY created_at ASC`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			continue
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStats(row rowScanner) (*DailyStats, error) {
	var stats DailyStats
	var sectorJSON sql.NullString
	if err := row.Scan(&stats.Date, &stats.SentimentScore, &stats.Summary, &sectorJSON); err != nil {
		return nil, err
	}
	if sectorJSON.Valid {
		if err := json.Unmarshal([]byte(sectorJSON.String), &stats.SectorStats); err != nil {
			logger.Warn("unreadable sector stats JSON", "date", stats.Date, "error", err)
		}
	}
	return &stats, nil
}
