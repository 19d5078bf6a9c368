package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	ItemsSeen          int64
	DuplicatesFiltered int64
	ItemsExcluded      int64
	ContentFetched     int64
	ContentFailed      int64
	AIAttempts         int64
	AIFailures         int64

	// Timings
	LastRunDuration time.Duration

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

func (m *Metrics) AddItemsSeen(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsSeen += n
}

func (m *Metrics) IncrementDuplicatesFiltered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesFiltered++
}

func (m *Metrics) IncrementItemsExcluded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsExcluded++
}

func (m *Metrics) IncrementContentFetched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContentFetched++
}

func (m *Metrics) IncrementContentFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContentFailed++
}

func (m *Metrics) IncrementAIAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AIAttempts++
}

func (m *Metrics) IncrementAIFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AIFailures++
}

func (m *Metrics) RecordRun(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunDuration = duration
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"items_seen":           m.ItemsSeen,
		"duplicates_filtered":  m.DuplicatesFiltered,
		"items_excluded":       m.ItemsExcluded,
		"content_fetched":      m.ContentFetched,
		"content_failed":       m.ContentFailed,
		"ai_attempts":          m.AIAttempts,
		"ai_failures":          m.AIFailures,
		"last_run_duration_ms": m.LastRunDuration.Milliseconds(),
		"last_run_time":        m.LastRunTime.Format(time.RFC3339),
		"last_error_time":      m.LastErrorTime.Format(time.RFC3339),
		"last_error":           m.LastError,
		"is_healthy":           m.IsHealthy,
	}
}
