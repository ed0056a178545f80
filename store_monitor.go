package grantkit

import (
	"sync"
	"time"
)

// StoreMetrics provides statistics about the store's atomic mutation units.
type StoreMetrics struct {
	TotalUnits      int64         `json:"total_units"`
	SuccessfulUnits int64         `json:"successful_units"`
	FailedUnits     int64         `json:"failed_units"`
	AverageDuration time.Duration `json:"average_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	LastReset       time.Time     `json:"last_reset"`
}

// storeMonitor accumulates per-unit timing for SQLStore.Mutate. Shared by
// the outer store and its transaction-scoped copies.
type storeMonitor struct {
	mu            sync.Mutex
	totalCount    int64
	successCount  int64
	failureCount  int64
	totalDuration time.Duration
	maxDuration   time.Duration
	minDuration   time.Duration
	lastReset     time.Time
}

func newStoreMonitor() *storeMonitor {
	return &storeMonitor{
		minDuration: time.Hour, // Initialize to a large value
		lastReset:   time.Now(),
	}
}

func (m *storeMonitor) record(duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalCount++
	m.totalDuration += duration
	if success {
		m.successCount++
	} else {
		m.failureCount++
	}
	if duration > m.maxDuration {
		m.maxDuration = duration
	}
	if duration < m.minDuration {
		m.minDuration = duration
	}
}

func (m *storeMonitor) metrics() StoreMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg time.Duration
	if m.totalCount > 0 {
		avg = m.totalDuration / time.Duration(m.totalCount)
	}
	return StoreMetrics{
		TotalUnits:      m.totalCount,
		SuccessfulUnits: m.successCount,
		FailedUnits:     m.failureCount,
		AverageDuration: avg,
		MaxDuration:     m.maxDuration,
		MinDuration:     m.minDuration,
		LastReset:       m.lastReset,
	}
}

func (m *storeMonitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalCount = 0
	m.successCount = 0
	m.failureCount = 0
	m.totalDuration = 0
	m.maxDuration = 0
	m.minDuration = time.Hour
	m.lastReset = time.Now()
}
