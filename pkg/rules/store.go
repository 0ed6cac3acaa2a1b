package rules

import (
	"context"
	"fmt"
	"time"
)

// Store runs evaluation work inside one atomic unit. fn's writes are
// committed only when it returns nil.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view the engine reads and writes through.
type Tx interface {
	// FindProcessedEvent returns nil, nil when the event was never evaluated.
	FindProcessedEvent(ctx context.Context, sourceEventID string) (*ProcessedEvent, error)
	RecordProcessedEvent(ctx context.Context, ev ProcessedEvent) error

	// ConversionFacts aggregates the ledger for a contact-promoter pair.
	ConversionFacts(ctx context.Context, programID, contactID, promoterID string) (Facts, error)

	// PromoterCircle returns the promoter's current circle; ok is false when
	// the promoter has not joined the program yet.
	PromoterCircle(ctx context.Context, programID, promoterID string) (circleID string, ok bool, err error)
	SetPromoterCircle(ctx context.Context, programID, promoterID, circleID string, at time.Time) error

	DefaultCircle(ctx context.Context, programID string) (Circle, error)
	// GetCircle returns the circle with its functions in persisted order.
	GetCircle(ctx context.Context, circleID string) (Circle, error)

	// InsertCommission returns ErrDuplicateCommission when the
	// (SourceEventID, FunctionID) pair already exists.
	InsertCommission(ctx context.Context, c Commission) error
	FindCommission(ctx context.Context, sourceEventID, functionID string) (*Commission, error)
	GetCommission(ctx context.Context, commissionID string) (Commission, error)
}

// DefinitionStore manages circles and functions for the admin service.
type DefinitionStore interface {
	CreateCircle(ctx context.Context, c Circle) error
	// SetDefaultCircle clears the flag on every other circle of the program.
	SetDefaultCircle(ctx context.Context, programID, circleID string) error
	RenameCircle(ctx context.Context, circleID, name string) error
	// DeleteCircle removes the circle and its functions in one transaction,
	// failing with ErrCircleInUse while it is still referenced.
	DeleteCircle(ctx context.Context, circleID string) error
	GetCircle(ctx context.Context, circleID string) (Circle, error)
	ListCircles(ctx context.Context, programID string) ([]Circle, error)
	ListPrograms(ctx context.Context) ([]string, error)
	// SaveFunction appends a new function at the end of its circle's order or
	// replaces an existing one in place.
	SaveFunction(ctx context.Context, f Function) (Function, error)
	DeleteFunction(ctx context.Context, functionID string) error
	GetFunction(ctx context.Context, functionID string) (Function, error)
	CountPromotersInCircle(ctx context.Context, circleID string) (int, error)
	AssignPromoter(ctx context.Context, programID, promoterID, circleID string, at time.Time) error
	PromoterCircle(ctx context.Context, programID, promoterID string) (string, bool, error)
}

// CommissionReader lists persisted commissions for reporting collaborators.
type CommissionReader interface {
	ListCommissions(ctx context.Context, filter CommissionFilter) ([]Commission, error)
}

// CheckCircleDeletable returns ErrCircleInUse when promoters are attached to
// circleID or one of fns, taken from the program's other circles, switches to
// it.
func CheckCircleDeletable(circleID string, promoters int, fns []Function) error {
	if promoters > 0 {
		return fmt.Errorf("%w: %d promoters attached to circle %q", ErrCircleInUse, promoters, circleID)
	}
	for _, fn := range fns {
		if fn.CircleID == circleID {
			continue
		}
		if sw, ok := fn.Effect.(SwitchCircleEffect); ok && sw.TargetCircleID == circleID {
			return fmt.Errorf("%w: function %q switches to circle %q", ErrCircleInUse, fn.ID, circleID)
		}
	}
	return nil
}
