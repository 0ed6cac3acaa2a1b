package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apierrors "github.com/jordanlanch/commissionengine/pkg/api/errors"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

// Evaluator runs the rule engine for one event. Both *rules.Engine and
// *dispatch.Dispatcher satisfy it.
type Evaluator interface {
	Evaluate(ctx context.Context, event rules.TriggerEvent) (rules.Outcome, error)
}

// SignupRequest is the body of a signup conversion
type SignupRequest struct {
	SourceEventID string            `json:"source_event_id"`
	ProgramID     string            `json:"program_id"`
	ContactID     string            `json:"contact_id"`
	PromoterID    string            `json:"promoter_id"`
	LinkID        string            `json:"link_id"`
	ExternalID    string            `json:"external_id,omitempty"`
	OccurredAt    *time.Time        `json:"occurred_at,omitempty"`
	UTMParams     map[string]string `json:"utm_params,omitempty"`
	Facts         *rules.Facts      `json:"facts,omitempty"`
}

// PurchaseRequest is the body of a purchase conversion. Amount is in major
// units.
type PurchaseRequest struct {
	SignupRequest
	ItemID string      `json:"item_id,omitempty"`
	Amount rules.Money `json:"amount"`
}

func (r SignupRequest) event(trigger rules.Trigger) rules.TriggerEvent {
	ev := rules.TriggerEvent{
		SourceEventID: r.SourceEventID,
		ProgramID:     r.ProgramID,
		Trigger:       trigger,
		ContactID:     r.ContactID,
		PromoterID:    r.PromoterID,
		LinkID:        r.LinkID,
		ExternalID:    r.ExternalID,
		UTMParams:     r.UTMParams,
		Facts:         r.Facts,
	}
	if r.OccurredAt != nil {
		ev.OccurredAt = *r.OccurredAt
	}
	return ev
}

// EventHandler receives conversion events and returns the evaluation outcome
type EventHandler struct {
	evaluator Evaluator
	timeout   time.Duration
}

// NewEventHandler creates a new event handler
func NewEventHandler(evaluator Evaluator, timeout time.Duration) *EventHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EventHandler{evaluator: evaluator, timeout: timeout}
}

// Signup godoc
// @Summary Evaluate a signup conversion
// @Tags Events
// @Accept json
// @Produce json
// @Param body body SignupRequest true "Signup event"
// @Success 200 {object} rules.Outcome
// @Failure 400 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /events/signup [post]
func (h *EventHandler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	return h.evaluate(c, req.event(rules.TriggerSignup))
}

// Purchase godoc
// @Summary Evaluate a purchase conversion
// @Tags Events
// @Accept json
// @Produce json
// @Param body body PurchaseRequest true "Purchase event"
// @Success 200 {object} rules.Outcome
// @Failure 400 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /events/purchase [post]
func (h *EventHandler) Purchase(c echo.Context) error {
	var req PurchaseRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	ev := req.event(rules.TriggerPurchase)
	ev.ItemID = req.ItemID
	ev.Amount = req.Amount
	return h.evaluate(c, ev)
}

func (h *EventHandler) evaluate(c echo.Context, ev rules.TriggerEvent) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	outcome, err := h.evaluator.Evaluate(ctx, ev)
	if err != nil {
		var target *rules.InvalidTargetCircleError
		if errors.As(err, &target) {
			apierrors.CaptureMessage(c, target.Error())
		}
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}
