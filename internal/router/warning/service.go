package warning

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
	"go.flowcatalyst.tech/dispatch/internal/router/notification"
)

// Service manages system warnings
type Service interface {
	// AddWarning adds a new warning
	AddWarning(category, severity, message, source string)

	// GetAllWarnings returns all warnings
	GetAllWarnings() []Warning

	// GetWarningsBySeverity returns warnings filtered by severity
	GetWarningsBySeverity(severity string) []Warning

	// GetUnacknowledgedWarnings returns unacknowledged warnings
	GetUnacknowledgedWarnings() []Warning

	// AcknowledgeWarning acknowledges a warning by ID
	AcknowledgeWarning(warningID string) bool

	// ClearAllWarnings removes all warnings
	ClearAllWarnings()

	// ClearOldWarnings removes warnings older than specified hours
	ClearOldWarnings(hoursOld int)
}

// InMemoryService stores warnings in memory with a bounded capacity.
// Oldest warnings are evicted when the cap is reached.
type InMemoryService struct {
	mu          sync.RWMutex
	warnings    map[string]*Warning
	maxWarnings int
	notifier    notification.Service
}

// NewInMemoryService creates a new in-memory warning service
func NewInMemoryService() *InMemoryService {
	return NewInMemoryServiceWithLimit(1000)
}

// NewInMemoryServiceWithLimit creates a new in-memory warning service with custom limit
func NewInMemoryServiceWithLimit(maxWarnings int) *InMemoryService {
	return &InMemoryService{
		warnings:    make(map[string]*Warning),
		maxWarnings: maxWarnings,
	}
}

// WithNotifier forwards new warnings to the given notification service.
func (s *InMemoryService) WithNotifier(notifier notification.Service) *InMemoryService {
	s.notifier = notifier
	return s
}

// AddWarning adds a new warning
func (s *InMemoryService) AddWarning(category, severity, message, source string) {
	s.mu.Lock()

	if len(s.warnings) >= s.maxWarnings {
		s.removeOldest()
	}

	warningID := uuid.New().String()
	w := &Warning{
		ID:           warningID,
		Category:     category,
		Severity:     severity,
		Message:      message,
		Timestamp:    time.Now(),
		Source:       source,
		Acknowledged: false,
	}
	s.warnings[warningID] = w

	s.updateGauges()
	notifier := s.notifier
	s.mu.Unlock()

	slog.Info("Warning added",
		"severity", severity,
		"category", category,
		"source", source,
		"message", message)

	if notifier != nil && notifier.IsEnabled() {
		notifier.NotifyWarning(&notification.Warning{
			ID:        w.ID,
			Category:  w.Category,
			Severity:  w.Severity,
			Message:   w.Message,
			Timestamp: w.Timestamp,
			Source:    w.Source,
		})
	}
}

// removeOldest removes the oldest warning (caller holds the lock)
func (s *InMemoryService) removeOldest() {
	var oldestID string
	var oldestTime time.Time

	for id, w := range s.warnings {
		if oldestID == "" || w.Timestamp.Before(oldestTime) {
			oldestID = id
			oldestTime = w.Timestamp
		}
	}

	if oldestID != "" {
		delete(s.warnings, oldestID)
	}
}

// updateGauges recomputes the per-severity gauge (caller holds the lock)
func (s *InMemoryService) updateGauges() {
	counts := map[string]int{
		SeverityCritical: 0,
		SeverityError:    0,
		SeverityWarning:  0,
		SeverityInfo:     0,
	}
	for _, w := range s.warnings {
		counts[w.Severity]++
	}
	for severity, count := range counts {
		metrics.ActiveWarnings.WithLabelValues(severity).Set(float64(count))
	}
}

// GetAllWarnings returns all warnings sorted by timestamp (newest first)
func (s *InMemoryService) GetAllWarnings() []Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedWarnings(nil)
}

// GetWarningsBySeverity returns warnings filtered by severity
func (s *InMemoryService) GetWarningsBySeverity(severity string) []Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := func(w *Warning) bool {
		return strings.EqualFold(w.Severity, severity)
	}
	return s.sortedWarnings(filter)
}

// GetUnacknowledgedWarnings returns unacknowledged warnings
func (s *InMemoryService) GetUnacknowledgedWarnings() []Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := func(w *Warning) bool {
		return !w.Acknowledged
	}
	return s.sortedWarnings(filter)
}

func (s *InMemoryService) sortedWarnings(filter func(*Warning) bool) []Warning {
	result := make([]Warning, 0, len(s.warnings))

	for _, w := range s.warnings {
		if filter == nil || filter(w) {
			result = append(result, *w)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	return result
}

// AcknowledgeWarning acknowledges a warning by ID
func (s *InMemoryService) AcknowledgeWarning(warningID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	warning, exists := s.warnings[warningID]
	if !exists {
		return false
	}

	warning.Acknowledged = true
	slog.Info("Warning acknowledged", "warningId", warningID)
	return true
}

// ClearAllWarnings removes all warnings
func (s *InMemoryService) ClearAllWarnings() {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.warnings)
	s.warnings = make(map[string]*Warning)
	s.updateGauges()
	slog.Info("Cleared all warnings", "count", count)
}

// ClearOldWarnings removes warnings older than specified hours
func (s *InMemoryService) ClearOldWarnings(hoursOld int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-time.Duration(hoursOld) * time.Hour)
	var toRemove []string

	for id, w := range s.warnings {
		if w.Timestamp.Before(threshold) {
			toRemove = append(toRemove, id)
		}
	}

	for _, id := range toRemove {
		delete(s.warnings, id)
	}

	s.updateGauges()
	slog.Info("Cleared old warnings", "count", len(toRemove), "hoursOld", hoursOld)
}

// Count returns the current number of warnings
func (s *InMemoryService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.warnings)
}
