package rules

import (
	"errors"
	"fmt"
	"sort"
)

// CircleGraph is the directed graph of a program's circles, with an edge
// for every SWITCH_CIRCLE effect. Cycles and self-loops are legal.
type CircleGraph struct {
	programID string
	defaults  []string
	circles   map[string]Circle
	order     []string
	edges     map[string][]string
	// foreign records switch targets that are missing or owned by another program.
	foreign []*InvalidTargetCircleError
}

// NewCircleGraph builds the graph from a program's circles. Circles of other
// programs are ignored as nodes, and targets pointing at them are recorded
// as invalid.
func NewCircleGraph(programID string, circles []Circle) *CircleGraph {
	g := &CircleGraph{
		programID: programID,
		circles:   make(map[string]Circle, len(circles)),
		edges:     make(map[string][]string, len(circles)),
	}
	for _, c := range circles {
		if c.ProgramID != programID {
			continue
		}
		g.circles[c.ID] = c
		g.order = append(g.order, c.ID)
		if c.IsDefault {
			g.defaults = append(g.defaults, c.ID)
		}
	}
	for _, id := range g.order {
		for _, fn := range g.circles[id].Functions {
			sw, ok := fn.Effect.(SwitchCircleEffect)
			if !ok {
				continue
			}
			if _, known := g.circles[sw.TargetCircleID]; !known {
				g.foreign = append(g.foreign, &InvalidTargetCircleError{
					TargetCircleID: sw.TargetCircleID,
					ProgramID:      programID,
					Reason:         fmt.Sprintf("referenced by function %s is not a circle of this program", fn.ID),
				})
				continue
			}
			g.edges[id] = appendUnique(g.edges[id], sw.TargetCircleID)
		}
	}
	return g
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// DefaultCircleID returns the program's DEFAULT circle, if exactly one exists
func (g *CircleGraph) DefaultCircleID() (string, bool) {
	if len(g.defaults) != 1 {
		return "", false
	}
	return g.defaults[0], true
}

// Successors returns the circles id can switch to
func (g *CircleGraph) Successors(id string) []string {
	return append([]string(nil), g.edges[id]...)
}

// ValidateReachability checks that the program has exactly one DEFAULT
// circle (when it has circles at all) and that every switch target is a
// circle of the same program.
func (g *CircleGraph) ValidateReachability() error {
	var errs []error
	switch {
	case len(g.circles) > 0 && len(g.defaults) == 0:
		errs = append(errs, fmt.Errorf("program %q: %w", g.programID, ErrNoDefaultCircle))
	case len(g.defaults) > 1:
		errs = append(errs, fmt.Errorf("program %q has %d default circles", g.programID, len(g.defaults)))
	}
	for _, e := range g.foreign {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// Reachable returns the circles reachable from the DEFAULT circle through
// switch effects, including the default itself, sorted by id.
func (g *CircleGraph) Reachable() []string {
	start, ok := g.DefaultCircleID()
	if !ok {
		return nil
	}
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.edges[id] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Unreachable returns circles no promoter can reach automatically from the
// DEFAULT circle. Admins may still assign promoters to them explicitly.
func (g *CircleGraph) Unreachable() []string {
	reachable := make(map[string]bool)
	for _, id := range g.Reachable() {
		reachable[id] = true
	}
	var out []string
	for _, id := range g.order {
		if !reachable[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// HasCycle reports whether any sequence of switches returns to a circle,
// self-loops included.
func (g *CircleGraph) HasCycle() bool {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.circles))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		for _, next := range g.edges[id] {
			switch color[next] {
			case grey:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}

// GraphReport summarises a program's circle graph
type GraphReport struct {
	ProgramID       string              `json:"program_id"`
	DefaultCircleID string              `json:"default_circle_id,omitempty"`
	Edges           map[string][]string `json:"edges"`
	Unreachable     []string            `json:"unreachable"`
	HasCycle        bool                `json:"has_cycle"`
	Errors          []string            `json:"errors,omitempty"`
}

// Report collects validation errors, reachability and cycle information
func (g *CircleGraph) Report() GraphReport {
	def, _ := g.DefaultCircleID()
	edges := make(map[string][]string, len(g.edges))
	for id, next := range g.edges {
		edges[id] = append([]string(nil), next...)
	}
	report := GraphReport{
		ProgramID:       g.programID,
		DefaultCircleID: def,
		Edges:           edges,
		Unreachable:     g.Unreachable(),
		HasCycle:        g.HasCycle(),
	}
	if err := g.ValidateReachability(); err != nil {
		for _, e := range unwrapJoined(err) {
			report.Errors = append(report.Errors, e.Error())
		}
	}
	return report
}

func unwrapJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
