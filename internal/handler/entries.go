package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jfellner/zeiterfassung/internal/model"
	"github.com/jfellner/zeiterfassung/internal/service"
	"github.com/jfellner/zeiterfassung/internal/workflow"
)

// EntryHandler exposes the approval workflow over HTTP. All methods assume
// JWT authentication and role validation ran in middleware; the actor is
// rebuilt from the context claims on every request.
type EntryHandler struct {
	Svc *service.EntryService
}

// NewEntryHandler constructs an EntryHandler around the workflow service.
func NewEntryHandler(svc *service.EntryService) *EntryHandler {
	if svc == nil {
		panic("nil service passed to NewEntryHandler")
	}
	return &EntryHandler{Svc: svc}
}

// actorFromContext rebuilds the acting user from the JWT claims stored by
// the auth middleware. The sub claim arrives as float64 from the JSON
// decoder.
func actorFromContext(c echo.Context) (workflow.Actor, bool) {
	var a workflow.Actor
	switch v := c.Get("user_id").(type) {
	case float64:
		a.ID = uint64(v)
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return a, false
		}
		a.ID = n
	default:
		return a, false
	}
	role, ok := c.Get("role").(string)
	if !ok || a.ID == 0 {
		return a, false
	}
	a.Role = role
	return a, true
}

// writeError translates workflow errors into HTTP responses. All workflow
// errors are terminal; retry policy, if any, belongs to the client.
func writeError(c echo.Context, err error) error {
	var (
		lockedErr     *workflow.LockedError
		permErr       *workflow.PermissionError
		validationErr *workflow.ValidationError
		notFoundErr   *workflow.NotFoundError
	)
	switch {
	case errors.As(err, &lockedErr):
		return c.JSON(http.StatusLocked, echo.Map{"error": lockedErr.Error()})
	case errors.As(err, &permErr):
		return c.JSON(http.StatusForbidden, echo.Map{"error": permErr.Error()})
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": validationErr.Error()})
	case errors.As(err, &notFoundErr):
		return c.JSON(http.StatusNotFound, echo.Map{"error": notFoundErr.Error()})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// entryResp decorates a TimeEntry with the derived is_absence flag, which
// exists only on the wire.
type entryResp struct {
	model.TimeEntry
	IsAbsence bool `json:"is_absence"`
}

func toResp(e *model.TimeEntry) entryResp {
	return entryResp{TimeEntry: *e, IsAbsence: e.Type.IsAbsence()}
}

func toRespList(entries []model.TimeEntry) []entryResp {
	out := make([]entryResp, len(entries))
	for i := range entries {
		out[i] = toResp(&entries[i])
	}
	return out
}

const dateLayout = "2006-01-02"

// ----- DTOs -----

type createEntryReq struct {
	UserID            uint64   `json:"user_id"` // optional, defaults to the actor
	Date              string   `json:"date"`
	Type              string   `json:"type"`
	Hours             float64  `json:"hours"`
	StartTime         *string  `json:"start_time"`
	EndTime           *string  `json:"end_time"`
	Note              *string  `json:"note"`
	Surcharge         *float64 `json:"surcharge"`
	ResponsibleUserID *uint64  `json:"responsible_user_id"`
	LateReason        *string  `json:"late_reason"`
}

type updateEntryReq struct {
	Date              *string  `json:"date"`
	Type              *string  `json:"type"`
	Hours             *float64 `json:"hours"`
	StartTime         *string  `json:"start_time"`
	EndTime           *string  `json:"end_time"`
	Note              *string  `json:"note"`
	Surcharge         *float64 `json:"surcharge"`
	ResponsibleUserID *uint64  `json:"responsible_user_id"`
	LateReason        *string  `json:"late_reason"`
	Reason            string   `json:"reason"` // mandatory for non-owner edits
}

type rejectReq struct {
	Reason string `json:"reason"`
}

type deleteReq struct {
	Reason string `json:"reason"`
}

type bulkSubmitReq struct {
	IDs []string `json:"ids"`
}

// Create handles POST /v1/entries.
func (h *EntryHandler) Create(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createEntryReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "date must be YYYY-MM-DD"})
	}

	draft := model.TimeEntry{
		Date:              date,
		Type:              model.EntryType(req.Type),
		Hours:             req.Hours,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		Note:              req.Note,
		Surcharge:         req.Surcharge,
		ResponsibleUserID: req.ResponsibleUserID,
		LateReason:        req.LateReason,
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	created, err := h.Svc.Create(ctx, draft, req.UserID, actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toResp(created))
}

// Update handles PATCH /v1/entries/:id.
func (h *EntryHandler) Update(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req updateEntryReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	patch := workflow.EntryPatch{
		Hours:             req.Hours,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		Note:              req.Note,
		Surcharge:         req.Surcharge,
		ResponsibleUserID: req.ResponsibleUserID,
		LateReason:        req.LateReason,
	}
	if req.Date != nil {
		d, err := time.Parse(dateLayout, *req.Date)
		if err != nil {
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "date must be YYYY-MM-DD"})
		}
		patch.Date = &d
	}
	if req.Type != nil {
		t := model.EntryType(*req.Type)
		patch.Type = &t
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	updated, err := h.Svc.Update(ctx, id, patch, req.Reason, actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResp(updated))
}

// Confirm handles POST /v1/entries/:id/confirm.
func (h *EntryHandler) Confirm(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	confirmed, err := h.Svc.Confirm(ctx, id, actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResp(confirmed))
}

// Reject handles POST /v1/entries/:id/reject.
func (h *EntryHandler) Reject(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req rejectReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	rejected, err := h.Svc.Reject(ctx, id, actor, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResp(rejected))
}

// Delete handles DELETE /v1/entries/:id. The body (optional for drafts)
// carries the deletion reason.
func (h *EntryHandler) Delete(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req deleteReq
	_ = c.Bind(&req) // body is optional; an empty reason is handled downstream

	ctx, cancel := reqContext(c)
	defer cancel()

	hard, err := h.Svc.Delete(ctx, id, actor, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	if hard {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, echo.Map{"soft_deleted": true})
}

// Submit handles POST /v1/entries/submit, the bulk submission of drafts.
// Malformed ids are dropped per item, never failing the batch; the response
// carries the ids that were actually updated.
func (h *EntryHandler) Submit(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req bulkSubmitReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ids := make([]uint64, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil || id == 0 {
			continue
		}
		ids = append(ids, id)
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	submitted, err := h.Svc.BulkSubmit(ctx, ids, actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"submitted_ids": submitted})
}

// Get handles GET /v1/entries/:id.
func (h *EntryHandler) Get(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	e, err := h.Svc.Get(ctx, id, actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResp(e))
}

// List handles GET /v1/entries?user_id=&from=&to=&include_deleted=.
func (h *EntryHandler) List(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var ownerID uint64
	if raw := c.QueryParam("user_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user_id"})
		}
		ownerID = n
	}
	from, to := c.QueryParam("from"), c.QueryParam("to")
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, d); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "from/to must be YYYY-MM-DD"})
		}
	}
	includeDeleted := c.QueryParam("include_deleted") == "true"

	ctx, cancel := reqContext(c)
	defer cancel()

	entries, err := h.Svc.List(ctx, ownerID, from, to, includeDeleted, actor)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toRespList(entries))
}

// History handles GET /v1/entries/:id/history.
func (h *EntryHandler) History(c echo.Context) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	rows, err := h.Svc.History(ctx, id, actor)
	if err != nil {
		return writeError(c, err)
	}
	if rows == nil {
		rows = []model.EntryChangeHistory{}
	}
	return c.JSON(http.StatusOK, rows)
}

func reqContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}
