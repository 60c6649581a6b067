// Package lifecycle is the state machine of Project Design Documents and Monitoring
// Reports. It is the only writer of their status columns.
package lifecycle

import (
	"context"
	"time"

	"ogcr-registry/internal/application/anchoring"
	"ogcr-registry/internal/application/conflicts"
	"ogcr-registry/internal/application/workflow"
	"ogcr-registry/internal/domain"
	"ogcr-registry/internal/infrastructure/locks"
	"ogcr-registry/internal/infrastructure/methodology"
	"ogcr-registry/internal/metrics"

	"gorm.io/gorm"
)

// MethodologyResolver is the registry lookup consumed by the state machine.
type MethodologyResolver interface {
	Resolve(ctx context.Context, id, version string) (*methodology.Resolution, error)
}

type Service struct {
	DB            *gorm.DB
	Locks         locks.Locker
	Anchors       *anchoring.Service
	Conflicts     *conflicts.Detector
	Methodologies MethodologyResolver
	Engines       *methodology.Engines
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// Result is returned by every mutating operation.
type Result = workflow.Result

// Register wires the ledger receipt handlers of projects and monitoring reports.
func (s *Service) Register() {
	s.Anchors.OnConfirm(domain.KindPDD, workflow.ConfirmRow(&domain.Project{}, "id"))
	s.Anchors.OnConfirm(domain.KindMRV, workflow.ConfirmRow(&domain.MonitoringReport{}, "id"))
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) run(ctx context.Context, t workflow.Transition) (*Result, error) {
	x := &workflow.Executor{DB: s.DB, Locks: s.Locks, Anchors: s.Anchors, Metrics: s.Metrics, Now: s.Now}
	return x.Run(ctx, t)
}
