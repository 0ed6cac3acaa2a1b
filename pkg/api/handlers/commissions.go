package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	apierrors "github.com/jordanlanch/commissionengine/pkg/api/errors"
	"github.com/jordanlanch/commissionengine/pkg/models"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

const (
	defaultCommissionLimit = 100
	maxCommissionLimit     = 1000
)

// CommissionHandler lists commissions recorded by the engine
type CommissionHandler struct {
	reader rules.CommissionReader
}

// NewCommissionHandler creates a new commission handler
func NewCommissionHandler(reader rules.CommissionReader) *CommissionHandler {
	return &CommissionHandler{reader: reader}
}

// List godoc
// @Summary List commissions of a program
// @Tags Commissions
// @Produce json
// @Param program_id path string true "Program ID"
// @Param promoter_id query string false "Filter by promoter"
// @Param contact_id query string false "Filter by contact"
// @Param limit query int false "Max results (default 100, max 1000)"
// @Success 200 {object} models.CommissionListResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /programs/{program_id}/commissions [get]
func (h *CommissionHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	limit := defaultCommissionLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apierrors.ValidationError(c, fmt.Errorf("invalid limit %q", raw))
		}
		limit = min(n, maxCommissionLimit)
	}

	list, err := h.reader.ListCommissions(ctx, rules.CommissionFilter{
		ProgramID:  c.Param("program_id"),
		PromoterID: c.QueryParam("promoter_id"),
		ContactID:  c.QueryParam("contact_id"),
		Limit:      limit,
	})
	if err != nil {
		return apierrors.Respond(c, err)
	}
	if list == nil {
		list = []rules.Commission{}
	}

	return c.JSON(http.StatusOK, models.CommissionListResponse{
		Commissions: list,
		Count:       len(list),
	})
}
