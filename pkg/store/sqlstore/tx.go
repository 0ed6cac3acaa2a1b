package sqlstore

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/jordanlanch/commissionengine/pkg/rules"
)

var (
	circleColumns     = []string{"id", "program_id", "name", "is_default", "created_at"}
	functionColumns   = []string{"id", "circle_id", "position", "definition", "created_at"}
	commissionColumns = []string{
		"id", "source_event_id", "function_id", "program_id", "contact_id", "promoter_id",
		"link_id", "conversion_type", "amount", "revenue", "external_id", "occurred_at", "created_at",
	}
	processedEventColumns = []string{
		"source_event_id", "program_id", "contact_id", "promoter_id", "trigger_type", "amount",
		"outcome", "circle_id", "function_id", "commission_id", "new_circle_id", "occurred_at", "processed_at",
	}
)

// sqlTx runs queries on a transaction, or on the driver for the
// non-transactional definition reads.
type sqlTx struct {
	conn dialect.ExecQuerier
	b    *entsql.DialectBuilder
	// lock adds FOR UPDATE to the promoter pointer read (PostgreSQL only)
	lock bool
}

func (t *sqlTx) FindProcessedEvent(ctx context.Context, sourceEventID string) (*rules.ProcessedEvent, error) {
	var found *rules.ProcessedEvent
	err := queryRows(ctx, t.conn, t.b.Select(processedEventColumns...).
		From(t.b.Table(tableProcessedEvents)).
		Where(entsql.EQ("source_event_id", sourceEventID)),
		func(rows *entsql.Rows) error {
			var (
				ev              rules.ProcessedEvent
				trigger, output string
				amount          int64
			)
			if err := rows.Scan(&ev.SourceEventID, &ev.ProgramID, &ev.ContactID, &ev.PromoterID, &trigger, &amount,
				&output, &ev.CircleID, &ev.FunctionID, &ev.CommissionID, &ev.NewCircleID, &ev.OccurredAt, &ev.ProcessedAt); err != nil {
				return err
			}
			ev.Trigger = rules.Trigger(trigger)
			ev.Outcome = rules.OutcomeKind(output)
			ev.Amount = rules.Money(amount)
			found = &ev
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query processed event: %w", err)
	}
	return found, nil
}

// RecordProcessedEvent inserts the ledger row. A concurrent evaluation of
// the same event is reported as transient so the engine re-runs and replays it.
func (t *sqlTx) RecordProcessedEvent(ctx context.Context, ev rules.ProcessedEvent) error {
	n, err := exec(ctx, t.conn, t.b.Insert(tableProcessedEvents).
		Columns(processedEventColumns...).
		Values(ev.SourceEventID, ev.ProgramID, ev.ContactID, ev.PromoterID, string(ev.Trigger), int64(ev.Amount),
			string(ev.Outcome), ev.CircleID, ev.FunctionID, ev.CommissionID, ev.NewCircleID,
			ev.OccurredAt.UTC(), ev.ProcessedAt.UTC()).
		OnConflict(entsql.ConflictColumns("source_event_id"), entsql.DoNothing()))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("event %q: %w: %w", ev.SourceEventID, rules.ErrTransient, rules.ErrDuplicateEvent)
	}
	return nil
}

func (t *sqlTx) ConversionFacts(ctx context.Context, programID, contactID, promoterID string) (rules.Facts, error) {
	var facts rules.Facts
	err := queryRows(ctx, t.conn, t.b.Select("trigger_type").
		AppendSelectExpr(entsql.Expr("COUNT(*)"), entsql.Expr("COALESCE(SUM(amount), 0)")).
		From(t.b.Table(tableProcessedEvents)).
		Where(entsql.And(
			entsql.EQ("program_id", programID),
			entsql.EQ("contact_id", contactID),
			entsql.EQ("promoter_id", promoterID),
		)).
		GroupBy("trigger_type"),
		func(rows *entsql.Rows) error {
			var (
				trigger string
				count   int64
				sum     int64
			)
			if err := rows.Scan(&trigger, &count, &sum); err != nil {
				return err
			}
			switch rules.Trigger(trigger) {
			case rules.TriggerSignup:
				facts.SignUps = count
			case rules.TriggerPurchase:
				facts.Purchases = count
				facts.Revenue = rules.Money(sum)
			}
			return nil
		})
	if err != nil {
		return rules.Facts{}, fmt.Errorf("failed to aggregate conversions: %w", err)
	}
	return facts, nil
}

func (t *sqlTx) PromoterCircle(ctx context.Context, programID, promoterID string) (string, bool, error) {
	sel := t.b.Select("circle_id").
		From(t.b.Table(tablePromoterCircles)).
		Where(entsql.And(
			entsql.EQ("program_id", programID),
			entsql.EQ("promoter_id", promoterID),
		))
	if t.lock {
		sel.ForUpdate()
	}
	var (
		circleID string
		ok       bool
	)
	err := queryRows(ctx, t.conn, sel, func(rows *entsql.Rows) error {
		ok = true
		return rows.Scan(&circleID)
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to query promoter circle: %w", err)
	}
	return circleID, ok, nil
}

func (t *sqlTx) SetPromoterCircle(ctx context.Context, programID, promoterID, circleID string, at time.Time) error {
	_, err := exec(ctx, t.conn, t.b.Insert(tablePromoterCircles).
		Columns("program_id", "promoter_id", "circle_id", "updated_at").
		Values(programID, promoterID, circleID, at.UTC()).
		OnConflict(entsql.ConflictColumns("program_id", "promoter_id"), entsql.ResolveWithNewValues()))
	if err != nil {
		return fmt.Errorf("failed to set promoter circle: %w", err)
	}
	return nil
}

func (t *sqlTx) DefaultCircle(ctx context.Context, programID string) (rules.Circle, error) {
	var (
		circle rules.Circle
		found  bool
	)
	err := queryRows(ctx, t.conn, t.b.Select(circleColumns...).
		From(t.b.Table(tableCircles)).
		Where(entsql.And(
			entsql.EQ("program_id", programID),
			entsql.EQ("is_default", true),
		)).
		Limit(1),
		func(rows *entsql.Rows) error {
			var err error
			circle, err = scanCircle(rows)
			found = err == nil
			return err
		})
	if err != nil {
		return rules.Circle{}, fmt.Errorf("failed to query default circle: %w", err)
	}
	if !found {
		return rules.Circle{}, rules.ErrNoDefaultCircle
	}
	if circle.Functions, err = t.functions(ctx, circle.ID); err != nil {
		return rules.Circle{}, err
	}
	return circle, nil
}

func (t *sqlTx) GetCircle(ctx context.Context, circleID string) (rules.Circle, error) {
	circle, err := t.circleRow(ctx, circleID)
	if err != nil {
		return rules.Circle{}, err
	}
	if circle.Functions, err = t.functions(ctx, circleID); err != nil {
		return rules.Circle{}, err
	}
	return circle, nil
}

func (t *sqlTx) InsertCommission(ctx context.Context, c rules.Commission) error {
	n, err := exec(ctx, t.conn, t.b.Insert(tableCommissions).
		Columns(commissionColumns...).
		Values(c.ID, c.SourceEventID, c.FunctionID, c.ProgramID, c.ContactID, c.PromoterID,
			c.LinkID, string(c.ConversionType), int64(c.Amount), int64(c.Revenue), c.ExternalID,
			c.OccurredAt.UTC(), c.CreatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("source_event_id", "function_id"), entsql.DoNothing()))
	if err != nil {
		return fmt.Errorf("failed to insert commission: %w", err)
	}
	if n == 0 {
		return rules.ErrDuplicateCommission
	}
	return nil
}

func (t *sqlTx) FindCommission(ctx context.Context, sourceEventID, functionID string) (*rules.Commission, error) {
	return t.commission(ctx, entsql.And(
		entsql.EQ("source_event_id", sourceEventID),
		entsql.EQ("function_id", functionID),
	))
}

func (t *sqlTx) GetCommission(ctx context.Context, commissionID string) (rules.Commission, error) {
	c, err := t.commission(ctx, entsql.EQ("id", commissionID))
	if err != nil {
		return rules.Commission{}, err
	}
	if c == nil {
		return rules.Commission{}, fmt.Errorf("commission %q not found", commissionID)
	}
	return *c, nil
}

func (t *sqlTx) commission(ctx context.Context, pred *entsql.Predicate) (*rules.Commission, error) {
	var found *rules.Commission
	err := queryRows(ctx, t.conn, t.b.Select(commissionColumns...).
		From(t.b.Table(tableCommissions)).
		Where(pred),
		func(rows *entsql.Rows) error {
			c, err := scanCommission(rows)
			if err != nil {
				return err
			}
			found = &c
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to query commission: %w", err)
	}
	return found, nil
}

func (t *sqlTx) circleRow(ctx context.Context, circleID string) (rules.Circle, error) {
	return t.readCircle(ctx, circleID, false)
}

func (t *sqlTx) readCircle(ctx context.Context, circleID string, forUpdate bool) (rules.Circle, error) {
	sel := t.b.Select(circleColumns...).
		From(t.b.Table(tableCircles)).
		Where(entsql.EQ("id", circleID))
	if forUpdate {
		sel.ForUpdate()
	}
	var (
		circle rules.Circle
		found  bool
	)
	err := queryRows(ctx, t.conn, sel, func(rows *entsql.Rows) error {
		var err error
		circle, err = scanCircle(rows)
		found = err == nil
		return err
	})
	if err != nil {
		return rules.Circle{}, fmt.Errorf("failed to query circle: %w", err)
	}
	if !found {
		return rules.Circle{}, rules.ErrCircleNotFound
	}
	return circle, nil
}

// lockCircle reads the circle row, holding it FOR UPDATE on PostgreSQL
func (t *sqlTx) lockCircle(ctx context.Context, circleID string) (rules.Circle, error) {
	return t.readCircle(ctx, circleID, t.lock)
}

func (t *sqlTx) promoterCount(ctx context.Context, circleID string) (int, error) {
	var n int
	err := queryRows(ctx, t.conn, t.b.Select().
		AppendSelectExpr(entsql.Expr("COUNT(*)")).
		From(t.b.Table(tablePromoterCircles)).
		Where(entsql.EQ("circle_id", circleID)),
		func(rows *entsql.Rows) error { return rows.Scan(&n) })
	if err != nil {
		return 0, fmt.Errorf("failed to count promoters: %w", err)
	}
	return n, nil
}

// programFunctions loads the functions of every circle of programID except
// skip
func (t *sqlTx) programFunctions(ctx context.Context, programID, skip string) ([]rules.Function, error) {
	var ids []string
	err := queryRows(ctx, t.conn, t.b.Select("id").
		From(t.b.Table(tableCircles)).
		Where(entsql.And(
			entsql.EQ("program_id", programID),
			entsql.NEQ("id", skip),
		)),
		func(rows *entsql.Rows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list circles: %w", err)
	}
	var out []rules.Function
	for _, id := range ids {
		fns, err := t.functions(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, fns...)
	}
	return out, nil
}

func (t *sqlTx) clearDefault(ctx context.Context, programID string) error {
	_, err := exec(ctx, t.conn, t.b.Update(tableCircles).
		Set("is_default", false).
		Where(entsql.And(
			entsql.EQ("program_id", programID),
			entsql.EQ("is_default", true),
		)))
	return err
}

// functions loads a circle's functions ordered by position
func (t *sqlTx) functions(ctx context.Context, circleID string) ([]rules.Function, error) {
	var out []rules.Function
	err := queryRows(ctx, t.conn, t.b.Select(functionColumns...).
		From(t.b.Table(tableFunctions)).
		Where(entsql.EQ("circle_id", circleID)).
		OrderBy("position"),
		func(rows *entsql.Rows) error {
			fn, err := scanFunction(rows)
			if err != nil {
				return err
			}
			out = append(out, fn)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load functions of circle %s: %w", circleID, err)
	}
	return out, nil
}

func (t *sqlTx) function(ctx context.Context, functionID string) (rules.Function, error) {
	var (
		fn    rules.Function
		found bool
	)
	err := queryRows(ctx, t.conn, t.b.Select(functionColumns...).
		From(t.b.Table(tableFunctions)).
		Where(entsql.EQ("id", functionID)),
		func(rows *entsql.Rows) error {
			var err error
			fn, err = scanFunction(rows)
			found = err == nil
			return err
		})
	if err != nil {
		return rules.Function{}, fmt.Errorf("failed to query function: %w", err)
	}
	if !found {
		return rules.Function{}, rules.ErrFunctionNotFound
	}
	return fn, nil
}

func (t *sqlTx) nextPosition(ctx context.Context, circleID string) (int, error) {
	next := 0
	err := queryRows(ctx, t.conn, t.b.Select("position").
		From(t.b.Table(tableFunctions)).
		Where(entsql.EQ("circle_id", circleID)).
		OrderBy(entsql.Desc("position")).
		Limit(1),
		func(rows *entsql.Rows) error {
			var last int
			if err := rows.Scan(&last); err != nil {
				return err
			}
			next = last + 1
			return nil
		})
	if err != nil {
		return 0, fmt.Errorf("failed to compute function position: %w", err)
	}
	return next, nil
}

func scanCircle(rows *entsql.Rows) (rules.Circle, error) {
	var c rules.Circle
	if err := rows.Scan(&c.ID, &c.ProgramID, &c.Name, &c.IsDefault, &c.CreatedAt); err != nil {
		return rules.Circle{}, err
	}
	return c, nil
}

// scanFunction decodes the stored definition; the row's columns win over
// the copies inside the JSON.
func scanFunction(rows *entsql.Rows) (rules.Function, error) {
	var (
		id, circleID, def string
		position          int
		createdAt         time.Time
	)
	if err := rows.Scan(&id, &circleID, &position, &def, &createdAt); err != nil {
		return rules.Function{}, err
	}
	fn, err := rules.DecodeStoredFunction([]byte(def))
	if err != nil {
		return rules.Function{}, fmt.Errorf("function %s: %w", id, err)
	}
	fn.ID, fn.CircleID, fn.Position, fn.CreatedAt = id, circleID, position, createdAt
	return fn, nil
}

func scanCommission(rows *entsql.Rows) (rules.Commission, error) {
	var (
		c               rules.Commission
		conversion      string
		amount, revenue int64
	)
	if err := rows.Scan(&c.ID, &c.SourceEventID, &c.FunctionID, &c.ProgramID, &c.ContactID, &c.PromoterID,
		&c.LinkID, &conversion, &amount, &revenue, &c.ExternalID, &c.OccurredAt, &c.CreatedAt); err != nil {
		return rules.Commission{}, err
	}
	c.ConversionType = rules.Trigger(conversion)
	c.Amount = rules.Money(amount)
	c.Revenue = rules.Money(revenue)
	return c, nil
}
