package forms

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"trainee-forms/forms-backend/internal/auth"
	"trainee-forms/forms-backend/pkg/workflows"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterTraineeRoutes registers the self-service routes. The group must
// carry auth.RequireTrainee.
func (h *Handler) RegisterTraineeRoutes(rg *gin.RouterGroup) {
	forms := rg.Group("/forms/:variant")
	{
		forms.POST("", h.Create)
		forms.GET("", h.List)
		forms.GET("/:id", h.Get)
		forms.PUT("/:id", h.Update)
		forms.PUT("/:id/status", h.Transition)
		forms.GET("/:id/pdf", h.PDF)
	}
}

// RegisterAdminRoutes registers the administration routes. The group must
// carry auth.RequireAdmin.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	forms := rg.Group("/forms/:variant")
	{
		forms.GET("", h.AdminList)
		forms.GET("/count", h.AdminCount)
		forms.GET("/:id", h.AdminGet)
		forms.PUT("/:id/status", h.AdminTransition)
		forms.PUT("/:id/assign", h.Assign)
		forms.GET("/:id/submissions", h.Submissions)
	}
}

// formResponse is a form with the states its reader may move it to.
type formResponse struct {
	*Form
	AllowedTransitions []workflows.LifecycleState `json:"allowedTransitions"`
}

type statusRequest struct {
	State  string        `json:"state" binding:"required"`
	Detail *StatusDetail `json:"detail"`
}

type assignRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" binding:"required"`
}

func (h *Handler) Create(c *gin.Context) {
	variant, ok := h.variant(c)
	if !ok {
		return
	}
	content, ok := h.content(c)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(c)

	form, err := h.service.CreateDraft(c.Request.Context(), CreateRequest{
		TraineeID: id.TraineeID,
		Variant:   variant,
		Content:   content,
		Actor:     trainee(id),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, form)
}

func (h *Handler) List(c *gin.Context) {
	variant, ok := h.variant(c)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(c)

	forms, err := h.service.ListForTrainee(c.Request.Context(), id.TraineeID, variant)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, forms)
}

func (h *Handler) Get(c *gin.Context) {
	variant, formID, ok := h.formParams(c)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(c)

	form, err := h.service.Get(c.Request.Context(), variant, formID, id.TraineeID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, formResponse{Form: form, AllowedTransitions: allowedTransitions(form, RoleTrainee)})
}

func (h *Handler) Update(c *gin.Context) {
	variant, formID, ok := h.formParams(c)
	if !ok {
		return
	}
	content, ok := h.content(c)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(c)

	form, err := h.service.UpdateDraft(c.Request.Context(), variant, formID, id.TraineeID, content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

func (h *Handler) Transition(c *gin.Context) {
	id, _ := auth.IdentityFrom(c)
	h.transition(c, id.TraineeID, trainee(id))
}

func (h *Handler) AdminTransition(c *gin.Context) {
	id, _ := auth.IdentityFrom(c)
	h.transition(c, "", admin(id))
}

func (h *Handler) transition(c *gin.Context, traineeID string, actor Person) {
	variant, formID, ok := h.formParams(c)
	if !ok {
		return
	}
	if !h.authorized(c, variant, actor) {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := workflows.ParseLifecycleState(req.State)
	if err != nil {
		h.writeError(c, &ValidationError{Field: stateField, Message: err.Error()})
		return
	}

	form, err := h.service.Transition(c.Request.Context(), TransitionRequest{
		FormID:    formID,
		Variant:   variant,
		TraineeID: traineeID,
		Target:    target,
		Detail:    req.Detail,
		Actor:     actor,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

func (h *Handler) AdminGet(c *gin.Context) {
	variant, formID, ok := h.formParams(c)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(c)
	if !h.authorized(c, variant, admin(id)) {
		return
	}

	form, err := h.service.Get(c.Request.Context(), variant, formID, "")
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, formResponse{Form: form, AllowedTransitions: allowedTransitions(form, RoleAdmin)})
}

func (h *Handler) AdminList(c *gin.Context) {
	variant, states, ok := h.adminFilter(c)
	if !ok {
		return
	}
	page, err := queryInt(c, "page")
	if err != nil {
		h.writeError(c, &ValidationError{Field: "page", Message: err.Error()})
		return
	}
	size, err := queryInt(c, "size")
	if err != nil {
		h.writeError(c, &ValidationError{Field: "size", Message: err.Error()})
		return
	}

	forms, err := h.service.ListByStates(c.Request.Context(), variant, states, page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, forms)
}

func (h *Handler) AdminCount(c *gin.Context) {
	variant, states, ok := h.adminFilter(c)
	if !ok {
		return
	}

	count, err := h.service.CountByStates(c.Request.Context(), variant, states)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

// adminFilter reads the variant and the repeatable, comma separated state
// query of an admin listing.
func (h *Handler) adminFilter(c *gin.Context) (workflows.FormVariant, []workflows.LifecycleState, bool) {
	variant, ok := h.variant(c)
	if !ok {
		return "", nil, false
	}
	id, _ := auth.IdentityFrom(c)
	if !h.authorized(c, variant, admin(id)) {
		return "", nil, false
	}

	var states []workflows.LifecycleState
	for _, param := range c.QueryArray("state") {
		for name := range strings.SplitSeq(param, ",") {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			state, err := workflows.ParseLifecycleState(name)
			if err != nil {
				h.writeError(c, &ValidationError{Field: "state", Message: err.Error()})
				return "", nil, false
			}
			states = append(states, state)
		}
	}
	return variant, states, true
}

func queryInt(c *gin.Context, name string) (int, error) {
	value := c.Query(name)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func (h *Handler) Assign(c *gin.Context) {
	variant, formID, ok := h.formParams(c)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(c)
	actor := admin(id)
	if !h.authorized(c, variant, actor) {
		return
	}

	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	form, err := h.service.AssignAdmin(c.Request.Context(), AssignRequest{
		FormID:  formID,
		Variant: variant,
		Admin:   Person{Name: req.Name, Email: req.Email, Role: RoleAdmin},
		Actor:   actor,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

func (h *Handler) Submissions(c *gin.Context) {
	variant, formID, ok := h.formParams(c)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(c)
	if !h.authorized(c, variant, admin(id)) {
		return
	}

	snapshots, err := h.service.ListSnapshots(c.Request.Context(), variant, formID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

func (h *Handler) PDF(c *gin.Context) {
	variant, formID, ok := h.formParams(c)
	if !ok {
		return
	}
	id, _ := auth.IdentityFrom(c)

	reader, err := h.service.RenderPDF(c.Request.Context(), variant, formID, id.TraineeID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	size, err := reader.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = reader.Seek(0, io.SeekStart)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, size, "application/pdf", reader, map[string]string{
		"Content-Disposition": fmt.Sprintf(`inline; filename="%s.pdf"`, formID),
	})
}

// authorized checks that LTFT admin actions are made by LTFT admins.
func (h *Handler) authorized(c *gin.Context, variant workflows.FormVariant, actor Person) bool {
	if actor.Role != RoleAdmin || variant != workflows.LTFT {
		return true
	}
	id, _ := auth.IdentityFrom(c)
	if id != nil && id.HasRole(auth.LTFTAdminRole) {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	return false
}

func (h *Handler) variant(c *gin.Context) (workflows.FormVariant, bool) {
	variant, err := workflows.ParseFormVariant(c.Param("variant"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return "", false
	}
	return variant, true
}

func (h *Handler) formParams(c *gin.Context) (workflows.FormVariant, uuid.UUID, bool) {
	variant, ok := h.variant(c)
	if !ok {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return "", uuid.Nil, false
	}
	return variant, id, true
}

func (h *Handler) content(c *gin.Context) (datatypes.JSON, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if len(body) == 0 {
		return nil, true
	}
	if !json.Valid(body) {
		h.writeError(c, &ValidationError{Field: "content", Message: "must be valid JSON"})
		return nil, false
	}
	return datatypes.JSON(body), true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message, "field": validation.Field})
	case errors.Is(err, ErrFormNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrNotEditable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Form request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func trainee(id *auth.Identity) Person {
	return Person{Name: id.Name(), Email: id.Email, Role: RoleTrainee}
}

func admin(id *auth.Identity) Person {
	return Person{Name: id.Name(), Email: id.Email, Role: RoleAdmin}
}
