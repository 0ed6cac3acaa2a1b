package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/metrics"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

// ProgramValidator lists programs and builds their graph reports.
// *program.Service satisfies it.
type ProgramValidator interface {
	ListPrograms(ctx context.Context) ([]string, error)
	ValidateProgram(ctx context.Context, programID string) (rules.GraphReport, error)
}

// AuditSummary aggregates one audit run
type AuditSummary struct {
	Programs    int
	Unreachable int
	Cycles      int
	Invalid     int
	Failed      int
}

// GraphAudit checks every program's circle graph
type GraphAudit struct {
	programs ProgramValidator
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewGraphAudit creates a new graph audit
func NewGraphAudit(programs ProgramValidator, m *metrics.Metrics, log logger.Logger) *GraphAudit {
	if log == nil {
		log = logger.Nop()
	}
	return &GraphAudit{programs: programs, metrics: m, log: log}
}

// Run validates all programs. A failing program is logged and counted; the
// remaining programs are still audited.
func (a *GraphAudit) Run(ctx context.Context) (AuditSummary, error) {
	ids, err := a.programs.ListPrograms(ctx)
	if err != nil {
		return AuditSummary{}, fmt.Errorf("failed to list programs: %w", err)
	}

	var summary AuditSummary
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		report, err := a.programs.ValidateProgram(ctx, id)
		if err != nil {
			summary.Failed++
			errs = append(errs, fmt.Errorf("program %s: %w", id, err))
			a.log.Error("graph audit failed", "program_id", id, "error", err)
			continue
		}
		summary.Programs++
		a.metrics.SetUnreachable(id, len(report.Unreachable))

		if len(report.Unreachable) > 0 {
			summary.Unreachable += len(report.Unreachable)
			a.log.Warn("unreachable circles", "program_id", id, "circles", report.Unreachable)
		}
		if report.HasCycle {
			summary.Cycles++
			a.log.Info("circle graph has a cycle", "program_id", id)
		}
		if len(report.Errors) > 0 {
			summary.Invalid++
			a.log.Warn("invalid circle graph", "program_id", id, "errors", report.Errors)
		}
	}
	return summary, errors.Join(errs...)
}
