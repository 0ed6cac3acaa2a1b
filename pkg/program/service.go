// Package program manages circles, functions and promoter membership, and
// rejects rule configurations the engine could not evaluate.
package program

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/metrics"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

// ErrInvalidInput is returned when a request fails field validation
var ErrInvalidInput = errors.New("invalid input")

// ReportCache stores computed graph reports. *cache.Client satisfies it.
type ReportCache interface {
	GetJSON(ctx context.Context, key string, v any) error
	SetJSON(ctx context.Context, key string, v any, expiration time.Duration) error
	DeletePattern(ctx context.Context, pattern string) error
}

// CreateCircleInput holds the fields of a new circle
type CreateCircleInput struct {
	ID        string `json:"id" validate:"omitempty,max=128"`
	ProgramID string `json:"program_id" validate:"required,max=128"`
	Name      string `json:"name" validate:"required,max=255"`
	IsDefault bool   `json:"is_default"`
}

// Service handles program configuration
type Service struct {
	store    rules.DefinitionStore
	cache    ReportCache
	cacheTTL time.Duration
	validate *validator.Validate
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithReportCache caches graph reports for ttl
func WithReportCache(c ReportCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics publishes graph audit gauges
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a new program service
func NewService(store rules.DefinitionStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		validate: validator.New(),
		log:      logger.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCircle creates a circle, generating an id when none is given
func (s *Service) CreateCircle(ctx context.Context, in CreateCircleInput) (rules.Circle, error) {
	if err := s.validate.Struct(in); err != nil {
		return rules.Circle{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	c := rules.Circle{
		ID:        in.ID,
		ProgramID: in.ProgramID,
		Name:      in.Name,
		IsDefault: in.IsDefault,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateCircle(ctx, c); err != nil {
		return rules.Circle{}, fmt.Errorf("failed to create circle: %w", err)
	}
	s.invalidate(ctx, c.ProgramID)
	s.log.Info("circle created", "program_id", c.ProgramID, "circle_id", c.ID, "default", c.IsDefault)
	return c, nil
}

// RenameCircle changes a circle's name
func (s *Service) RenameCircle(ctx context.Context, circleID, name string) error {
	if err := s.validate.Var(name, "required,max=255"); err != nil {
		return fmt.Errorf("%w: name %v", ErrInvalidInput, err)
	}
	return s.store.RenameCircle(ctx, circleID, name)
}

// SetDefaultCircle makes circleID the program's default circle
func (s *Service) SetDefaultCircle(ctx context.Context, programID, circleID string) error {
	if err := s.store.SetDefaultCircle(ctx, programID, circleID); err != nil {
		return err
	}
	s.invalidate(ctx, programID)
	return nil
}

// GetCircle returns a circle with its functions
func (s *Service) GetCircle(ctx context.Context, circleID string) (rules.Circle, error) {
	return s.store.GetCircle(ctx, circleID)
}

// ListCircles returns the program's circles
func (s *Service) ListCircles(ctx context.Context, programID string) ([]rules.Circle, error) {
	return s.store.ListCircles(ctx, programID)
}

// ListPrograms returns every configured program
func (s *Service) ListPrograms(ctx context.Context) ([]string, error) {
	return s.store.ListPrograms(ctx)
}

// DeleteCircle removes a circle that no promoter is attached to and no
// switch effect of another circle targets.
func (s *Service) DeleteCircle(ctx context.Context, programID, circleID string) error {
	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return err
	}
	if circle.ProgramID != programID {
		return rules.ErrCircleNotFound
	}

	if err := s.store.DeleteCircle(ctx, circleID); err != nil {
		return err
	}
	s.invalidate(ctx, programID)
	s.log.Info("circle deleted", "program_id", programID, "circle_id", circleID)
	return nil
}

// SaveFunction validates fn and stores it. New functions are appended to the
// end of the circle's evaluation order.
func (s *Service) SaveFunction(ctx context.Context, fn rules.Function) (rules.Function, error) {
	circle, err := s.store.GetCircle(ctx, fn.CircleID)
	if err != nil {
		return rules.Function{}, err
	}
	if err := fn.Validate(); err != nil {
		return rules.Function{}, err
	}
	if sw, ok := fn.Effect.(rules.SwitchCircleEffect); ok {
		if err := s.checkTarget(ctx, circle.ProgramID, sw.TargetCircleID); err != nil {
			return rules.Function{}, err
		}
	}
	if fn.ID == "" {
		fn.ID = uuid.NewString()
	}
	if fn.CreatedAt.IsZero() {
		fn.CreatedAt = s.now()
	}

	saved, err := s.store.SaveFunction(ctx, fn)
	if err != nil {
		return rules.Function{}, fmt.Errorf("failed to save function: %w", err)
	}
	s.invalidate(ctx, circle.ProgramID)
	s.log.Info("function saved",
		"circle_id", saved.CircleID,
		"function_id", saved.ID,
		"trigger", saved.Trigger,
		"effect", saved.EffectType(),
		"position", saved.Position,
	)
	return saved, nil
}

func (s *Service) checkTarget(ctx context.Context, programID, targetID string) error {
	target, err := s.store.GetCircle(ctx, targetID)
	if errors.Is(err, rules.ErrCircleNotFound) {
		return &rules.InvalidTargetCircleError{TargetCircleID: targetID, ProgramID: programID, Reason: "circle does not exist"}
	}
	if err != nil {
		return err
	}
	if target.ProgramID != programID {
		return &rules.InvalidTargetCircleError{TargetCircleID: targetID, ProgramID: programID, Reason: "circle belongs to another program"}
	}
	return nil
}

// GetFunction returns a function by id
func (s *Service) GetFunction(ctx context.Context, functionID string) (rules.Function, error) {
	return s.store.GetFunction(ctx, functionID)
}

// DeleteFunction removes a function
func (s *Service) DeleteFunction(ctx context.Context, functionID string) error {
	fn, err := s.store.GetFunction(ctx, functionID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFunction(ctx, functionID); err != nil {
		return err
	}
	if circle, err := s.store.GetCircle(ctx, fn.CircleID); err == nil {
		s.invalidate(ctx, circle.ProgramID)
	}
	return nil
}

// AssignPromoter moves a promoter to circleID outside of rule evaluation
func (s *Service) AssignPromoter(ctx context.Context, programID, promoterID, circleID string) error {
	if err := s.validate.Var(promoterID, "required,max=128"); err != nil {
		return fmt.Errorf("%w: promoter_id %v", ErrInvalidInput, err)
	}
	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return err
	}
	if circle.ProgramID != programID {
		return rules.ErrCircleNotFound
	}
	if err := s.store.AssignPromoter(ctx, programID, promoterID, circleID, s.now()); err != nil {
		return fmt.Errorf("failed to assign promoter: %w", err)
	}
	s.log.Info("promoter assigned", "program_id", programID, "promoter_id", promoterID, "circle_id", circleID)
	return nil
}

// PromoterCircle returns the promoter's current circle
func (s *Service) PromoterCircle(ctx context.Context, programID, promoterID string) (string, bool, error) {
	return s.store.PromoterCircle(ctx, programID, promoterID)
}

// ValidateProgram reports reachability, cycles and invalid switch targets of
// the program's circle graph.
func (s *Service) ValidateProgram(ctx context.Context, programID string) (rules.GraphReport, error) {
	key := reportKey(programID)
	if s.cache != nil {
		var cached rules.GraphReport
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	circles, err := s.store.ListCircles(ctx, programID)
	if err != nil {
		return rules.GraphReport{}, err
	}
	report := rules.NewCircleGraph(programID, circles).Report()
	s.metrics.SetUnreachable(programID, len(report.Unreachable))

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, report, s.cacheTTL); err != nil {
			s.log.Warn("failed to cache graph report", "program_id", programID, "error", err)
		}
	}
	return report, nil
}

func (s *Service) invalidate(ctx context.Context, programID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePattern(ctx, reportKey(programID)); err != nil {
		s.log.Warn("failed to invalidate graph report", "program_id", programID, "error", err)
	}
}

func reportKey(programID string) string {
	return "graph:" + programID
}
