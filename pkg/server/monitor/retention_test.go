package monitor

import (
	"errors"
	"testing"
	"time"
)

func TestRetentionMonitor_RecordSuccess(t *testing.T) {
	rm := NewRetentionMonitor(time.Hour)
	rm.RecordSuccess(5)
	rm.RecordSuccess(2)

	status := rm.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.LastDeleted != 2 {
		t.Errorf("LastDeleted = %d, want 2", status.LastDeleted)
	}
	if status.TotalDeleted != 7 {
		t.Errorf("TotalDeleted = %d, want 7", status.TotalDeleted)
	}
	if status.ConsecutiveErrors != 0 || status.LastError != "" {
		t.Errorf("Unexpected error state: %d %q", status.ConsecutiveErrors, status.LastError)
	}
}

func TestRetentionMonitor_RecordFailure(t *testing.T) {
	rm := NewRetentionMonitor(time.Hour)
	rm.RecordFailure(errors.New("disk full"))

	status := rm.Status()
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "disk full" {
		t.Errorf("LastError = %q, want %q", status.LastError, "disk full")
	}
}

func TestRetentionMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*RetentionMonitor)
		expected bool
	}{
		{
			name:     "not attempted yet",
			setup:    func(*RetentionMonitor) {},
			expected: true,
		},
		{
			name: "attempted but never succeeded",
			setup: func(rm *RetentionMonitor) {
				rm.RecordFailure(errors.New("boom"))
			},
			expected: false,
		},
		{
			name: "recent success",
			setup: func(rm *RetentionMonitor) {
				rm.RecordSuccess(0)
			},
			expected: true,
		},
		{
			name: "stale success",
			setup: func(rm *RetentionMonitor) {
				rm.RecordSuccess(0)
				rm.mu.Lock()
				rm.lastSuccess = time.Now().Add(-2 * time.Hour)
				rm.mu.Unlock()
			},
			expected: false,
		},
		{
			name: "too many consecutive errors",
			setup: func(rm *RetentionMonitor) {
				rm.RecordSuccess(0)
				for i := 0; i < 4; i++ {
					rm.RecordFailure(errors.New("error"))
				}
			},
			expected: false,
		},
		{
			name: "recovered after errors",
			setup: func(rm *RetentionMonitor) {
				for i := 0; i < 4; i++ {
					rm.RecordFailure(errors.New("error"))
				}
				rm.RecordSuccess(1)
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := NewRetentionMonitor(time.Hour)
			tt.setup(rm)
			if got := rm.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
			if got := rm.Status().Healthy; got != tt.expected {
				t.Errorf("Status().Healthy = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRetentionMonitor_Status(t *testing.T) {
	rm := NewRetentionMonitor(time.Hour)
	rm.RecordSuccess(3)

	status := rm.Status()
	if status.LastSuccess == "" {
		t.Error("LastSuccess should be set")
	}
	if status.TimeSinceSuccess == "" {
		t.Error("TimeSinceSuccess should be set")
	}
	if status.LastAttempt == "" {
		t.Error("LastAttempt should be set")
	}
}
