package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func failing(name string, critical bool) Checker {
	return FuncChecker{CheckName: name, Critical: critical, Fn: func(ctx context.Context) error {
		return errors.New(name + " down")
	}}
}

func passing(name string, critical bool) Checker {
	return FuncChecker{CheckName: name, Critical: critical, Fn: func(ctx context.Context) error { return nil }}
}

func TestRuntimeHealthCheck(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		status   string
	}{
		{name: "no checkers", status: StatusHealthy},
		{name: "all passing", checkers: []Checker{passing("db", true), passing("ai", false)}, status: StatusHealthy},
		{name: "optional failing", checkers: []Checker{passing("db", true), failing("ai", false)}, status: StatusDegraded},
		{name: "critical failing", checkers: []Checker{failing("db", true), failing("ai", false)}, status: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(zap.NewNop())
			for _, c := range tt.checkers {
				m.AddChecker(c)
			}
			report := m.RuntimeHealthCheck(context.Background())
			assert.Equal(t, tt.status, report.Status)
			assert.Len(t, report.Checks, len(tt.checkers))
		})
	}
}

func TestStartupHealthCheck(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.AddChecker(failing("ai", false))
	assert.NoError(t, m.StartupHealthCheck(context.Background()))

	m.AddChecker(failing("db", true))
	err := m.StartupHealthCheck(context.Background())
	assert.ErrorContains(t, err, "db down")
}

type checkable struct{ err error }

func (c checkable) Check(ctx context.Context) error { return c.err }

func TestPipelineChecker(t *testing.T) {
	assert.NoError(t, NewPipelineChecker(struct{}{}).HealthCheck(context.Background()))
	assert.NoError(t, NewPipelineChecker(checkable{}).HealthCheck(context.Background()))
	assert.Error(t, NewPipelineChecker(checkable{err: errors.New("503")}).HealthCheck(context.Background()))
	assert.Error(t, NewPipelineChecker(nil).HealthCheck(context.Background()))
	assert.False(t, NewPipelineChecker(nil).IsCritical())
}
