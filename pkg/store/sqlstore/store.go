// Package sqlstore persists circles, functions, promoter pointers,
// commissions and the processed-event ledger in PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"

	"github.com/jordanlanch/commissionengine/pkg/database"
	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

// Store implements the rule stores on top of an ent SQL driver.
type Store struct {
	drv     *entsql.Driver
	reader  func() dialect.Driver
	dialect string
	log     logger.Logger
}

// New creates a store over a connected database client
func New(client *database.Client, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		drv:     client.Driver,
		reader:  client.Reader,
		dialect: client.Dialect,
		log:     log,
	}
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

// RunInTx runs fn in a database transaction, committing when fn returns nil.
// Serialization failures, deadlocks and busy databases are reported wrapped
// in rules.ErrTransient.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx rules.Tx) error) error {
	return s.withTx(ctx, func(ctx context.Context, t *sqlTx) error {
		return fn(ctx, t)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, t *sqlTx) error) error {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	t := &sqlTx{conn: tx, b: s.builder(), lock: s.dialect == dialect.Postgres}
	if err := fn(ctx, t); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.log.Warn("failed to roll back transaction", "error", rerr)
		}
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// queryRows runs a query built by q and calls scan for every row.
func queryRows(ctx context.Context, conn dialect.ExecQuerier, q entsql.Querier, scan func(*entsql.Rows) error) error {
	query, args := q.Query()
	rows := &entsql.Rows{}
	if err := conn.Query(ctx, query, args, rows); err != nil {
		return classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return classify(rows.Err())
}

func exec(ctx context.Context, conn dialect.ExecQuerier, q entsql.Querier) (int64, error) {
	query, args := q.Query()
	var res sql.Result
	if err := conn.Exec(ctx, query, args, &res); err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

// CreateCircle stores a new circle. A default circle replaces the program's
// previous default.
func (s *Store) CreateCircle(ctx context.Context, c rules.Circle) error {
	return s.withTx(ctx, func(ctx context.Context, t *sqlTx) error {
		if c.IsDefault {
			if err := t.clearDefault(ctx, c.ProgramID); err != nil {
				return err
			}
		}
		_, err := exec(ctx, t.conn, t.b.Insert(tableCircles).
			Columns("id", "program_id", "name", "is_default", "created_at").
			Values(c.ID, c.ProgramID, c.Name, c.IsDefault, c.CreatedAt.UTC()))
		if sqlgraph.IsUniqueConstraintError(err) {
			return fmt.Errorf("circle %q: %w", c.ID, rules.ErrAlreadyExists)
		}
		return err
	})
}

// SetDefaultCircle marks circleID as the program's only default circle
func (s *Store) SetDefaultCircle(ctx context.Context, programID, circleID string) error {
	return s.withTx(ctx, func(ctx context.Context, t *sqlTx) error {
		circle, err := t.circleRow(ctx, circleID)
		if err != nil {
			return err
		}
		if circle.ProgramID != programID {
			return rules.ErrCircleNotFound
		}
		if err := t.clearDefault(ctx, programID); err != nil {
			return err
		}
		_, err = exec(ctx, t.conn, t.b.Update(tableCircles).
			Set("is_default", true).
			Where(entsql.EQ("id", circleID)))
		return err
	})
}

// RenameCircle changes a circle's display name
func (s *Store) RenameCircle(ctx context.Context, circleID, name string) error {
	b := s.builder()
	n, err := exec(ctx, s.drv, b.Update(tableCircles).Set("name", name).Where(entsql.EQ("id", circleID)))
	if err != nil {
		return fmt.Errorf("failed to rename circle: %w", err)
	}
	if n == 0 {
		return rules.ErrCircleNotFound
	}
	return nil
}

// DeleteCircle removes a circle and its functions unless a promoter or a
// switch effect still points at it. On PostgreSQL the circle row is locked
// first, and the promoter foreign key catches an assignment that commits
// concurrently.
func (s *Store) DeleteCircle(ctx context.Context, circleID string) error {
	return s.withTx(ctx, func(ctx context.Context, t *sqlTx) error {
		circle, err := t.lockCircle(ctx, circleID)
		if err != nil {
			return err
		}
		promoters, err := t.promoterCount(ctx, circleID)
		if err != nil {
			return err
		}
		others, err := t.programFunctions(ctx, circle.ProgramID, circleID)
		if err != nil {
			return err
		}
		if err := rules.CheckCircleDeletable(circleID, promoters, others); err != nil {
			return err
		}

		if _, err := exec(ctx, t.conn, t.b.Delete(tableFunctions).Where(entsql.EQ("circle_id", circleID))); err != nil {
			return err
		}
		n, err := exec(ctx, t.conn, t.b.Delete(tableCircles).Where(entsql.EQ("id", circleID)))
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: circle %q gained a promoter: %w", rules.ErrCircleInUse, circleID, err)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return rules.ErrCircleNotFound
		}
		return nil
	})
}

// GetCircle returns a circle with its functions in persisted order
func (s *Store) GetCircle(ctx context.Context, circleID string) (rules.Circle, error) {
	t := &sqlTx{conn: s.drv, b: s.builder()}
	return t.GetCircle(ctx, circleID)
}

// ListCircles returns the program's circles with their functions
func (s *Store) ListCircles(ctx context.Context, programID string) ([]rules.Circle, error) {
	t := &sqlTx{conn: s.drv, b: s.builder()}
	var circles []rules.Circle
	err := queryRows(ctx, t.conn, t.b.Select(circleColumns...).
		From(t.b.Table(tableCircles)).
		Where(entsql.EQ("program_id", programID)).
		OrderBy("created_at", "id"),
		func(rows *entsql.Rows) error {
			c, err := scanCircle(rows)
			if err != nil {
				return err
			}
			circles = append(circles, c)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list circles: %w", err)
	}
	for i := range circles {
		if circles[i].Functions, err = t.functions(ctx, circles[i].ID); err != nil {
			return nil, err
		}
	}
	return circles, nil
}

// ListPrograms returns every program that owns at least one circle
func (s *Store) ListPrograms(ctx context.Context) ([]string, error) {
	b := s.builder()
	var out []string
	err := queryRows(ctx, s.drv, b.Select("program_id").
		From(b.Table(tableCircles)).
		Distinct().
		OrderBy("program_id"),
		func(rows *entsql.Rows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out = append(out, id)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	return out, nil
}

// SaveFunction appends f to its circle or replaces the stored function with
// the same id, keeping its position.
func (s *Store) SaveFunction(ctx context.Context, f rules.Function) (rules.Function, error) {
	err := s.withTx(ctx, func(ctx context.Context, t *sqlTx) error {
		if _, err := t.circleRow(ctx, f.CircleID); err != nil {
			return err
		}
		prior, err := t.function(ctx, f.ID)
		switch {
		case err == nil:
			if prior.CircleID != f.CircleID {
				return fmt.Errorf("function %q belongs to circle %q", f.ID, prior.CircleID)
			}
			f.Position = prior.Position
			f.CreatedAt = prior.CreatedAt
			def, err := json.Marshal(f)
			if err != nil {
				return err
			}
			_, err = exec(ctx, t.conn, t.b.Update(tableFunctions).
				Set("trigger_type", string(f.Trigger)).
				Set("status", string(f.Status)).
				Set("definition", string(def)).
				Where(entsql.EQ("id", f.ID)))
			return err
		case errors.Is(err, rules.ErrFunctionNotFound):
			if f.Position, err = t.nextPosition(ctx, f.CircleID); err != nil {
				return err
			}
			def, err := json.Marshal(f)
			if err != nil {
				return err
			}
			_, err = exec(ctx, t.conn, t.b.Insert(tableFunctions).
				Columns("id", "circle_id", "position", "trigger_type", "status", "definition", "created_at").
				Values(f.ID, f.CircleID, f.Position, string(f.Trigger), string(f.Status), string(def), f.CreatedAt.UTC()))
			return err
		default:
			return err
		}
	})
	return f, err
}

// DeleteFunction removes a function
func (s *Store) DeleteFunction(ctx context.Context, functionID string) error {
	b := s.builder()
	n, err := exec(ctx, s.drv, b.Delete(tableFunctions).Where(entsql.EQ("id", functionID)))
	if err != nil {
		return fmt.Errorf("failed to delete function: %w", err)
	}
	if n == 0 {
		return rules.ErrFunctionNotFound
	}
	return nil
}

// GetFunction returns a function by id
func (s *Store) GetFunction(ctx context.Context, functionID string) (rules.Function, error) {
	t := &sqlTx{conn: s.drv, b: s.builder()}
	return t.function(ctx, functionID)
}

// CountPromotersInCircle counts promoters currently attached to circleID
func (s *Store) CountPromotersInCircle(ctx context.Context, circleID string) (int, error) {
	t := &sqlTx{conn: s.drv, b: s.builder()}
	return t.promoterCount(ctx, circleID)
}

// AssignPromoter attaches a promoter to a circle outside of evaluation
func (s *Store) AssignPromoter(ctx context.Context, programID, promoterID, circleID string, at time.Time) error {
	t := &sqlTx{conn: s.drv, b: s.builder()}
	return t.SetPromoterCircle(ctx, programID, promoterID, circleID, at)
}

// PromoterCircle returns the promoter's current circle
func (s *Store) PromoterCircle(ctx context.Context, programID, promoterID string) (string, bool, error) {
	t := &sqlTx{conn: s.drv, b: s.builder()}
	return t.PromoterCircle(ctx, programID, promoterID)
}

// ListCommissions returns commissions matching filter in creation order.
// It reads from a replica when one is configured.
func (s *Store) ListCommissions(ctx context.Context, filter rules.CommissionFilter) ([]rules.Commission, error) {
	b := s.builder()
	var preds []*entsql.Predicate
	if filter.ProgramID != "" {
		preds = append(preds, entsql.EQ("program_id", filter.ProgramID))
	}
	if filter.PromoterID != "" {
		preds = append(preds, entsql.EQ("promoter_id", filter.PromoterID))
	}
	if filter.ContactID != "" {
		preds = append(preds, entsql.EQ("contact_id", filter.ContactID))
	}
	sel := b.Select(commissionColumns...).From(b.Table(tableCommissions)).OrderBy("created_at", "id")
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if filter.Limit > 0 {
		sel.Limit(filter.Limit)
	}

	var out []rules.Commission
	err := queryRows(ctx, s.reader(), sel, func(rows *entsql.Rows) error {
		c, err := scanCommission(rows)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	return out, nil
}

var (
	_ rules.Store            = (*Store)(nil)
	_ rules.DefinitionStore  = (*Store)(nil)
	_ rules.CommissionReader = (*Store)(nil)
)
