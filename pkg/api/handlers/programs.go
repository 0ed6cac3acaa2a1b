package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apierrors "github.com/jordanlanch/commissionengine/pkg/api/errors"
	"github.com/jordanlanch/commissionengine/pkg/models"
	"github.com/jordanlanch/commissionengine/pkg/program"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

// ProgramHandler manages circles, functions and promoter assignments
type ProgramHandler struct {
	service *program.Service
}

// NewProgramHandler creates a new program handler
func NewProgramHandler(service *program.Service) *ProgramHandler {
	return &ProgramHandler{service: service}
}

// RenameCircleRequest is the body of a circle rename
type RenameCircleRequest struct {
	Name string `json:"name"`
}

// AssignPromoterRequest moves a promoter to a circle
type AssignPromoterRequest struct {
	CircleID string `json:"circle_id"`
}

// PromoterCircleResponse reports a promoter's current circle
type PromoterCircleResponse struct {
	ProgramID  string `json:"program_id"`
	PromoterID string `json:"promoter_id"`
	CircleID   string `json:"circle_id"`
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 10*time.Second)
}

// ListPrograms godoc
// @Summary List programs that have circles
// @Tags Programs
// @Produce json
// @Success 200 {array} string
// @Router /programs [get]
func (h *ProgramHandler) ListPrograms(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	programs, err := h.service.ListPrograms(ctx)
	if err != nil {
		return apierrors.Respond(c, err)
	}
	if programs == nil {
		programs = []string{}
	}
	return c.JSON(http.StatusOK, programs)
}

// CreateCircle godoc
// @Summary Create a circle in a program
// @Tags Circles
// @Accept json
// @Produce json
// @Param program_id path string true "Program ID"
// @Param body body program.CreateCircleInput true "Circle"
// @Success 201 {object} rules.Circle
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /programs/{program_id}/circles [post]
func (h *ProgramHandler) CreateCircle(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req program.CreateCircleInput
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	req.ProgramID = c.Param("program_id")

	circle, err := h.service.CreateCircle(ctx, req)
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, circle)
}

// ListCircles godoc
// @Summary List a program's circles with their functions
// @Tags Circles
// @Produce json
// @Param program_id path string true "Program ID"
// @Success 200 {object} models.CircleListResponse
// @Router /programs/{program_id}/circles [get]
func (h *ProgramHandler) ListCircles(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	circles, err := h.service.ListCircles(ctx, c.Param("program_id"))
	if err != nil {
		return apierrors.Respond(c, err)
	}
	if circles == nil {
		circles = []rules.Circle{}
	}
	return c.JSON(http.StatusOK, models.CircleListResponse{Circles: circles, Count: len(circles)})
}

// GetCircle godoc
// @Summary Get a circle
// @Tags Circles
// @Produce json
// @Param circle_id path string true "Circle ID"
// @Success 200 {object} rules.Circle
// @Failure 404 {object} models.ErrorResponse
// @Router /circles/{circle_id} [get]
func (h *ProgramHandler) GetCircle(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	circle, err := h.service.GetCircle(ctx, c.Param("circle_id"))
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusOK, circle)
}

// RenameCircle godoc
// @Summary Rename a circle
// @Tags Circles
// @Accept json
// @Produce json
// @Param circle_id path string true "Circle ID"
// @Param body body RenameCircleRequest true "New name"
// @Success 200 {object} models.SuccessResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /circles/{circle_id} [put]
func (h *ProgramHandler) RenameCircle(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req RenameCircleRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.service.RenameCircle(ctx, c.Param("circle_id"), req.Name); err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Message: "circle renamed"})
}

// SetDefaultCircle godoc
// @Summary Make a circle the program default
// @Tags Circles
// @Produce json
// @Param program_id path string true "Program ID"
// @Param circle_id path string true "Circle ID"
// @Success 200 {object} models.SuccessResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /programs/{program_id}/circles/{circle_id}/default [put]
func (h *ProgramHandler) SetDefaultCircle(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.service.SetDefaultCircle(ctx, c.Param("program_id"), c.Param("circle_id")); err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Message: "default circle updated"})
}

// DeleteCircle godoc
// @Summary Delete an unused circle
// @Tags Circles
// @Produce json
// @Param program_id path string true "Program ID"
// @Param circle_id path string true "Circle ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /programs/{program_id}/circles/{circle_id} [delete]
func (h *ProgramHandler) DeleteCircle(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.service.DeleteCircle(ctx, c.Param("program_id"), c.Param("circle_id")); err != nil {
		return apierrors.Respond(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateFunction godoc
// @Summary Append a function to a circle
// @Tags Functions
// @Accept json
// @Produce json
// @Param circle_id path string true "Circle ID"
// @Param body body rules.Function true "Function"
// @Success 201 {object} rules.Function
// @Failure 400 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Router /circles/{circle_id}/functions [post]
func (h *ProgramHandler) CreateFunction(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	fn, err := decodeFunction(c)
	if err != nil {
		return respondDecode(c, err)
	}
	fn.ID = ""
	fn.CircleID = c.Param("circle_id")

	saved, err := h.service.SaveFunction(ctx, fn)
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusCreated, saved)
}

// UpdateFunction godoc
// @Summary Replace a function in place
// @Tags Functions
// @Accept json
// @Produce json
// @Param function_id path string true "Function ID"
// @Param body body rules.Function true "Function"
// @Success 200 {object} rules.Function
// @Failure 404 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Router /functions/{function_id} [put]
func (h *ProgramHandler) UpdateFunction(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	existing, err := h.service.GetFunction(ctx, c.Param("function_id"))
	if err != nil {
		return apierrors.Respond(c, err)
	}
	fn, err := decodeFunction(c)
	if err != nil {
		return respondDecode(c, err)
	}
	fn.ID = existing.ID
	fn.CircleID = existing.CircleID
	fn.Position = existing.Position
	fn.CreatedAt = existing.CreatedAt

	saved, err := h.service.SaveFunction(ctx, fn)
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusOK, saved)
}

// DeleteFunction godoc
// @Summary Delete a function
// @Tags Functions
// @Param function_id path string true "Function ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Router /functions/{function_id} [delete]
func (h *ProgramHandler) DeleteFunction(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.service.DeleteFunction(ctx, c.Param("function_id")); err != nil {
		return apierrors.Respond(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AssignPromoter godoc
// @Summary Move a promoter to a circle
// @Tags Promoters
// @Accept json
// @Produce json
// @Param program_id path string true "Program ID"
// @Param promoter_id path string true "Promoter ID"
// @Param body body AssignPromoterRequest true "Target circle"
// @Success 200 {object} PromoterCircleResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /programs/{program_id}/promoters/{promoter_id}/circle [put]
func (h *ProgramHandler) AssignPromoter(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req AssignPromoterRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	programID, promoterID := c.Param("program_id"), c.Param("promoter_id")
	if err := h.service.AssignPromoter(ctx, programID, promoterID, req.CircleID); err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusOK, PromoterCircleResponse{
		ProgramID:  programID,
		PromoterID: promoterID,
		CircleID:   req.CircleID,
	})
}

// PromoterCircle godoc
// @Summary Get a promoter's current circle
// @Tags Promoters
// @Produce json
// @Param program_id path string true "Program ID"
// @Param promoter_id path string true "Promoter ID"
// @Success 200 {object} PromoterCircleResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /programs/{program_id}/promoters/{promoter_id}/circle [get]
func (h *ProgramHandler) PromoterCircle(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	programID, promoterID := c.Param("program_id"), c.Param("promoter_id")
	circleID, ok, err := h.service.PromoterCircle(ctx, programID, promoterID)
	if err != nil {
		return apierrors.Respond(c, err)
	}
	if !ok {
		return apierrors.NotFoundError(c, "promoter")
	}
	return c.JSON(http.StatusOK, PromoterCircleResponse{
		ProgramID:  programID,
		PromoterID: promoterID,
		CircleID:   circleID,
	})
}

// Graph godoc
// @Summary Validate a program's circle graph
// @Tags Programs
// @Produce json
// @Param program_id path string true "Program ID"
// @Success 200 {object} rules.GraphReport
// @Router /programs/{program_id}/graph [get]
func (h *ProgramHandler) Graph(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	report, err := h.service.ValidateProgram(ctx, c.Param("program_id"))
	if err != nil {
		return apierrors.Respond(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// decodeFunction reads the body directly so effect decoding errors keep their
// type.
func decodeFunction(c echo.Context) (rules.Function, error) {
	var fn rules.Function
	err := json.NewDecoder(c.Request().Body).Decode(&fn)
	return fn, err
}

func respondDecode(c echo.Context, err error) error {
	if errors.Is(err, rules.ErrInvalidFunction) {
		return apierrors.Respond(c, err)
	}
	return apierrors.ValidationError(c, err)
}
