package monitor

import (
	"sync"
	"time"
)

// maxConsecutiveErrors is how many failed passes in a row are tolerated
const maxConsecutiveErrors = 3

// RetentionMonitor tracks retention pass health and failures.
type RetentionMonitor struct {
	mu                sync.RWMutex
	staleAfter        time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastDeleted       int
	totalDeleted      int
	consecutiveErrors int
	lastError         string
}

// NewRetentionMonitor creates a monitor that reports unhealthy when no pass
// has succeeded within staleAfter.
func NewRetentionMonitor(staleAfter time.Duration) *RetentionMonitor {
	return &RetentionMonitor{staleAfter: staleAfter}
}

// RecordSuccess records a successful pass that removed deleted records.
func (rm *RetentionMonitor) RecordSuccess(deleted int) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	now := time.Now()
	rm.lastSuccess = now
	rm.lastAttempt = now
	rm.lastDeleted = deleted
	rm.totalDeleted += deleted
	rm.consecutiveErrors = 0
	rm.lastError = ""
}

// RecordFailure records a failed pass.
func (rm *RetentionMonitor) RecordFailure(err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastAttempt = time.Now()
	rm.consecutiveErrors++
	if err != nil {
		rm.lastError = err.Error()
	}
}

// IsHealthy returns true if retention is working properly.
// Unhealthy conditions:
//   - Attempted but never succeeded
//   - No success within the stale threshold
//   - More than 3 consecutive failures
//
// Before the first attempt the monitor is healthy; the server is still
// starting up.
func (rm *RetentionMonitor) IsHealthy() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.healthyLocked()
}

func (rm *RetentionMonitor) healthyLocked() bool {
	if rm.lastAttempt.IsZero() {
		return true
	}
	if rm.lastSuccess.IsZero() {
		return false
	}
	if rm.staleAfter > 0 && time.Since(rm.lastSuccess) > rm.staleAfter {
		return false
	}
	return rm.consecutiveErrors <= maxConsecutiveErrors
}

// RetentionStatus is the retention section of the health response.
type RetentionStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastDeleted       int    `json:"last_deleted"`
	TotalDeleted      int    `json:"total_deleted"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current retention status for health checks.
func (rm *RetentionMonitor) Status() RetentionStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	status := RetentionStatus{
		Healthy:      rm.healthyLocked(),
		LastDeleted:  rm.lastDeleted,
		TotalDeleted: rm.totalDeleted,
	}

	if !rm.lastSuccess.IsZero() {
		status.LastSuccess = rm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(rm.lastSuccess).Round(time.Second).String()
	}

	if !rm.lastAttempt.IsZero() {
		status.LastAttempt = rm.lastAttempt.Format(time.RFC3339)
	}

	if rm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = rm.consecutiveErrors
		status.LastError = rm.lastError
	}

	return status
}
