// Package health runs named dependency checks at startup and on demand.
package health

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Checker is one dependency probe.
type Checker interface {
	Name() string
	IsCritical() bool
	HealthCheck(ctx context.Context) error
}

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult is the outcome of one checker.
type CheckResult struct {
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
	Healthy  bool   `json:"healthy"`
	Error    string `json:"error,omitempty"`
}

// Report aggregates every checker.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Manager holds the registered checkers.
type Manager struct {
	checkers []Checker
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers: make([]Checker, 0),
		logger:   logger,
	}
}

// AddChecker adds a health checker to the manager
func (h *Manager) AddChecker(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// StartupHealthCheck fails when any critical checker fails. Non-critical
// failures are logged.
func (h *Manager) StartupHealthCheck(ctx context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var criticalFailures []error
	for _, checker := range h.checkers {
		err := checker.HealthCheck(ctx)
		switch {
		case err == nil:
			h.logger.Info("Service health check passed",
				zap.String("service", checker.Name()),
				zap.Bool("critical", checker.IsCritical()))
		case checker.IsCritical():
			criticalFailures = append(criticalFailures, fmt.Errorf("%s: %w", checker.Name(), err))
			h.logger.Error("Critical service health check failed",
				zap.String("service", checker.Name()),
				zap.Error(err))
		default:
			h.logger.Warn("Non-critical service health check failed",
				zap.String("service", checker.Name()),
				zap.Error(err))
		}
	}

	if len(criticalFailures) > 0 {
		return fmt.Errorf("critical services failed health check: %v", criticalFailures)
	}

	h.logger.Info("All critical services healthy", zap.Int("total_checks", len(h.checkers)))
	return nil
}

// RuntimeHealthCheck runs every checker and summarizes. A failed critical
// checker makes the report unhealthy, a failed optional one degraded.
func (h *Manager) RuntimeHealthCheck(ctx context.Context) Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	report := Report{Status: StatusHealthy, Checks: make([]CheckResult, 0, len(h.checkers))}
	for _, checker := range h.checkers {
		res := CheckResult{Name: checker.Name(), Critical: checker.IsCritical(), Healthy: true}
		if err := checker.HealthCheck(ctx); err != nil {
			res.Healthy = false
			res.Error = err.Error()
			if checker.IsCritical() {
				report.Status = StatusUnhealthy
			} else if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
		report.Checks = append(report.Checks, res)
	}
	return report
}

// Pinger is satisfied by *sql.DB and *bun.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db       Pinger
	critical bool
}

// NewDatabaseChecker creates a database health checker
func NewDatabaseChecker(db Pinger, critical bool) *DatabaseChecker {
	return &DatabaseChecker{db: db, critical: critical}
}

func (d *DatabaseChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseChecker) IsCritical() bool { return d.critical }

func (d *DatabaseChecker) Name() string { return "audit_database" }

// PipelineChecker probes the AI backend. Backends that cannot report health
// pass.
type PipelineChecker struct {
	backend any
}

// NewPipelineChecker wraps a pipeline backend.
func NewPipelineChecker(backend any) *PipelineChecker {
	return &PipelineChecker{backend: backend}
}

func (p *PipelineChecker) HealthCheck(ctx context.Context) error {
	if p.backend == nil {
		return fmt.Errorf("pipeline backend is nil")
	}
	if checker, ok := p.backend.(interface{ Check(context.Context) error }); ok {
		return checker.Check(ctx)
	}
	return nil
}

// IsCritical is false: a broken backend degrades replies to error envelopes
// but connections and sessions keep working.
func (p *PipelineChecker) IsCritical() bool { return false }

func (p *PipelineChecker) Name() string { return "ai_pipeline" }

// FuncChecker adapts a function.
type FuncChecker struct {
	CheckName string
	Critical  bool
	Fn        func(ctx context.Context) error
}

func (f FuncChecker) Name() string                          { return f.CheckName }
func (f FuncChecker) IsCritical() bool                      { return f.Critical }
func (f FuncChecker) HealthCheck(ctx context.Context) error { return f.Fn(ctx) }
