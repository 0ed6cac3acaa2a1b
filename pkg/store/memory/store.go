// Package memory is an in-process implementation of the rule stores for
// tests and embedding.
//
// Evaluation transactions write straight to the state and keep an undo
// journal that is replayed if fn fails. Conversion facts are indexed per
// (program, contact, promoter), so the cost of an evaluation does not grow
// with the ledger. Definition writes copy only circles and functions. All
// transactions are serialized and nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jordanlanch/commissionengine/pkg/rules"
)

type factsKey struct {
	programID  string
	contactID  string
	promoterID string
}

type promoterRef struct {
	programID  string
	promoterID string
}

type commissionRef struct {
	sourceEventID string
	functionID    string
}

type membership struct {
	circleID string
	at       time.Time
}

type state struct {
	circles         map[string]rules.Circle
	functions       map[string]rules.Function
	promoters       map[promoterRef]membership
	commissions     map[string]rules.Commission
	commissionPairs map[commissionRef]string
	commissionOrder []string
	events          map[string]rules.ProcessedEvent
	facts           map[factsKey]rules.Facts
}

func newState() *state {
	return &state{
		circles:         make(map[string]rules.Circle),
		functions:       make(map[string]rules.Function),
		promoters:       make(map[promoterRef]membership),
		commissions:     make(map[string]rules.Commission),
		commissionPairs: make(map[commissionRef]string),
		events:          make(map[string]rules.ProcessedEvent),
		facts:           make(map[factsKey]rules.Facts),
	}
}

// withDefinitions copies circles and functions and shares the ledger maps.
func (s *state) withDefinitions() *state {
	c := *s
	c.circles = make(map[string]rules.Circle, len(s.circles))
	c.functions = make(map[string]rules.Function, len(s.functions))
	for k, v := range s.circles {
		c.circles[k] = v
	}
	for k, v := range s.functions {
		v.Conditions = append([]rules.Condition(nil), v.Conditions...)
		c.functions[k] = v
	}
	return &c
}

// Store keeps all rule data in memory.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty store
func New() *Store {
	return &Store{state: newState()}
}

// RunInTx runs fn against the live state and undoes its writes when fn
// returns an error.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx rules.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{st: s.state}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// write swaps in fn's definition changes only if fn succeeds. Ledger maps
// are shared, so fn writes them only as its last step.
func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.withDefinitions()
	if err := fn(work); err != nil {
		return err
	}
	s.state = work
	return nil
}

// CreateCircle stores a new circle. A default circle replaces the program's
// previous default.
func (s *Store) CreateCircle(ctx context.Context, c rules.Circle) error {
	return s.write(func(st *state) error {
		if _, exists := st.circles[c.ID]; exists {
			return fmt.Errorf("circle %q: %w", c.ID, rules.ErrAlreadyExists)
		}
		c.Functions = nil
		st.circles[c.ID] = c
		if c.IsDefault {
			st.clearDefaults(c.ProgramID, c.ID)
		}
		return nil
	})
}

// SetDefaultCircle marks circleID as the program's only default circle
func (s *Store) SetDefaultCircle(ctx context.Context, programID, circleID string) error {
	return s.write(func(st *state) error {
		c, ok := st.circles[circleID]
		if !ok || c.ProgramID != programID {
			return rules.ErrCircleNotFound
		}
		c.IsDefault = true
		st.circles[circleID] = c
		st.clearDefaults(programID, circleID)
		return nil
	})
}

// RenameCircle changes a circle's display name
func (s *Store) RenameCircle(ctx context.Context, circleID, name string) error {
	return s.write(func(st *state) error {
		c, ok := st.circles[circleID]
		if !ok {
			return rules.ErrCircleNotFound
		}
		c.Name = name
		st.circles[circleID] = c
		return nil
	})
}

func (st *state) clearDefaults(programID, keep string) {
	for id, c := range st.circles {
		if id != keep && c.ProgramID == programID && c.IsDefault {
			c.IsDefault = false
			st.circles[id] = c
		}
	}
}

// DeleteCircle removes a circle and its functions unless a promoter or a
// switch effect still points at it
func (s *Store) DeleteCircle(ctx context.Context, circleID string) error {
	return s.write(func(st *state) error {
		c, ok := st.circles[circleID]
		if !ok {
			return rules.ErrCircleNotFound
		}
		var others []rules.Function
		for _, fn := range st.functions {
			if owner, ok := st.circles[fn.CircleID]; ok && owner.ProgramID == c.ProgramID {
				others = append(others, fn)
			}
		}
		if err := rules.CheckCircleDeletable(circleID, st.promoterCount(circleID), others); err != nil {
			return err
		}
		delete(st.circles, circleID)
		for id, fn := range st.functions {
			if fn.CircleID == circleID {
				delete(st.functions, id)
			}
		}
		return nil
	})
}

// GetCircle returns a circle with its functions in persisted order
func (s *Store) GetCircle(ctx context.Context, circleID string) (rules.Circle, error) {
	var out rules.Circle
	err := s.read(func(st *state) error {
		var err error
		out, err = st.circle(circleID)
		return err
	})
	return out, err
}

// ListCircles returns the program's circles ordered by creation
func (s *Store) ListCircles(ctx context.Context, programID string) ([]rules.Circle, error) {
	var out []rules.Circle
	err := s.read(func(st *state) error {
		for id, c := range st.circles {
			if c.ProgramID != programID {
				continue
			}
			full, err := st.circle(id)
			if err != nil {
				return err
			}
			out = append(out, full)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// ListPrograms returns every program that owns at least one circle
func (s *Store) ListPrograms(ctx context.Context) ([]string, error) {
	var out []string
	err := s.read(func(st *state) error {
		seen := make(map[string]bool)
		for _, c := range st.circles {
			if !seen[c.ProgramID] {
				seen[c.ProgramID] = true
				out = append(out, c.ProgramID)
			}
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

// SaveFunction appends f to its circle or replaces the stored function with
// the same id, keeping its position.
func (s *Store) SaveFunction(ctx context.Context, f rules.Function) (rules.Function, error) {
	err := s.write(func(st *state) error {
		if _, ok := st.circles[f.CircleID]; !ok {
			return rules.ErrCircleNotFound
		}
		if prior, ok := st.functions[f.ID]; ok {
			if prior.CircleID != f.CircleID {
				return fmt.Errorf("function %q belongs to circle %q", f.ID, prior.CircleID)
			}
			f.Position = prior.Position
			f.CreatedAt = prior.CreatedAt
		} else {
			f.Position = st.nextPosition(f.CircleID)
		}
		st.functions[f.ID] = f
		return nil
	})
	return f, err
}

func (st *state) nextPosition(circleID string) int {
	next := 0
	for _, fn := range st.functions {
		if fn.CircleID == circleID && fn.Position >= next {
			next = fn.Position + 1
		}
	}
	return next
}

// DeleteFunction removes a function
func (s *Store) DeleteFunction(ctx context.Context, functionID string) error {
	return s.write(func(st *state) error {
		if _, ok := st.functions[functionID]; !ok {
			return rules.ErrFunctionNotFound
		}
		delete(st.functions, functionID)
		return nil
	})
}

// GetFunction returns a function by id
func (s *Store) GetFunction(ctx context.Context, functionID string) (rules.Function, error) {
	var out rules.Function
	err := s.read(func(st *state) error {
		fn, ok := st.functions[functionID]
		if !ok {
			return rules.ErrFunctionNotFound
		}
		out = fn
		return nil
	})
	return out, err
}

// CountPromotersInCircle counts promoters currently attached to circleID
func (s *Store) CountPromotersInCircle(ctx context.Context, circleID string) (int, error) {
	n := 0
	err := s.read(func(st *state) error {
		n = st.promoterCount(circleID)
		return nil
	})
	return n, err
}

func (st *state) promoterCount(circleID string) int {
	n := 0
	for _, m := range st.promoters {
		if m.circleID == circleID {
			n++
		}
	}
	return n
}

// AssignPromoter attaches a promoter to a circle outside of evaluation
func (s *Store) AssignPromoter(ctx context.Context, programID, promoterID, circleID string, at time.Time) error {
	return s.write(func(st *state) error {
		st.promoters[promoterRef{programID, promoterID}] = membership{circleID: circleID, at: at}
		return nil
	})
}

// PromoterCircle returns the promoter's current circle
func (s *Store) PromoterCircle(ctx context.Context, programID, promoterID string) (string, bool, error) {
	var (
		id string
		ok bool
	)
	err := s.read(func(st *state) error {
		var m membership
		m, ok = st.promoters[promoterRef{programID, promoterID}]
		id = m.circleID
		return nil
	})
	return id, ok, err
}

// ListCommissions returns commissions matching filter in creation order
func (s *Store) ListCommissions(ctx context.Context, filter rules.CommissionFilter) ([]rules.Commission, error) {
	var out []rules.Commission
	err := s.read(func(st *state) error {
		for _, id := range st.commissionOrder {
			c := st.commissions[id]
			if filter.ProgramID != "" && c.ProgramID != filter.ProgramID {
				continue
			}
			if filter.PromoterID != "" && c.PromoterID != filter.PromoterID {
				continue
			}
			if filter.ContactID != "" && c.ContactID != filter.ContactID {
				continue
			}
			out = append(out, c)
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (st *state) circle(circleID string) (rules.Circle, error) {
	c, ok := st.circles[circleID]
	if !ok {
		return rules.Circle{}, rules.ErrCircleNotFound
	}
	c.Functions = nil
	for _, fn := range st.functions {
		if fn.CircleID == circleID {
			c.Functions = append(c.Functions, fn)
		}
	}
	sort.Slice(c.Functions, func(i, j int) bool {
		return c.Functions[i].Position < c.Functions[j].Position
	})
	return c, nil
}

type tx struct {
	st   *state
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) FindProcessedEvent(ctx context.Context, sourceEventID string) (*rules.ProcessedEvent, error) {
	ev, ok := t.st.events[sourceEventID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (t *tx) RecordProcessedEvent(ctx context.Context, ev rules.ProcessedEvent) error {
	if _, ok := t.st.events[ev.SourceEventID]; ok {
		return rules.ErrDuplicateEvent
	}
	key := factsKey{ev.ProgramID, ev.ContactID, ev.PromoterID}
	prior, indexed := t.st.facts[key]
	next := prior
	switch ev.Trigger {
	case rules.TriggerSignup:
		next.SignUps++
	case rules.TriggerPurchase:
		next.Purchases++
		next.Revenue = next.Revenue.Add(ev.Amount)
	}
	t.st.events[ev.SourceEventID] = ev
	t.st.facts[key] = next
	t.undo = append(t.undo, func() {
		delete(t.st.events, ev.SourceEventID)
		if indexed {
			t.st.facts[key] = prior
		} else {
			delete(t.st.facts, key)
		}
	})
	return nil
}

func (t *tx) ConversionFacts(ctx context.Context, programID, contactID, promoterID string) (rules.Facts, error) {
	return t.st.facts[factsKey{programID, contactID, promoterID}], nil
}

func (t *tx) PromoterCircle(ctx context.Context, programID, promoterID string) (string, bool, error) {
	m, ok := t.st.promoters[promoterRef{programID, promoterID}]
	return m.circleID, ok, nil
}

func (t *tx) SetPromoterCircle(ctx context.Context, programID, promoterID, circleID string, at time.Time) error {
	ref := promoterRef{programID, promoterID}
	prior, existed := t.st.promoters[ref]
	t.st.promoters[ref] = membership{circleID: circleID, at: at}
	t.undo = append(t.undo, func() {
		if existed {
			t.st.promoters[ref] = prior
		} else {
			delete(t.st.promoters, ref)
		}
	})
	return nil
}

func (t *tx) DefaultCircle(ctx context.Context, programID string) (rules.Circle, error) {
	for id, c := range t.st.circles {
		if c.ProgramID == programID && c.IsDefault {
			return t.st.circle(id)
		}
	}
	return rules.Circle{}, rules.ErrNoDefaultCircle
}

func (t *tx) GetCircle(ctx context.Context, circleID string) (rules.Circle, error) {
	return t.st.circle(circleID)
}

func (t *tx) InsertCommission(ctx context.Context, c rules.Commission) error {
	ref := commissionRef{c.SourceEventID, c.FunctionID}
	if _, ok := t.st.commissionPairs[ref]; ok {
		return rules.ErrDuplicateCommission
	}
	prior, replaced := t.st.commissions[c.ID]
	t.st.commissions[c.ID] = c
	t.st.commissionPairs[ref] = c.ID
	t.st.commissionOrder = append(t.st.commissionOrder, c.ID)
	t.undo = append(t.undo, func() {
		t.st.commissionOrder = t.st.commissionOrder[:len(t.st.commissionOrder)-1]
		delete(t.st.commissionPairs, ref)
		if replaced {
			t.st.commissions[c.ID] = prior
		} else {
			delete(t.st.commissions, c.ID)
		}
	})
	return nil
}

func (t *tx) FindCommission(ctx context.Context, sourceEventID, functionID string) (*rules.Commission, error) {
	id, ok := t.st.commissionPairs[commissionRef{sourceEventID, functionID}]
	if !ok {
		return nil, nil
	}
	c := t.st.commissions[id]
	return &c, nil
}

func (t *tx) GetCommission(ctx context.Context, commissionID string) (rules.Commission, error) {
	c, ok := t.st.commissions[commissionID]
	if !ok {
		return rules.Commission{}, fmt.Errorf("commission %q not found", commissionID)
	}
	return c, nil
}

var (
	_ rules.Store            = (*Store)(nil)
	_ rules.DefinitionStore  = (*Store)(nil)
	_ rules.CommissionReader = (*Store)(nil)
)
