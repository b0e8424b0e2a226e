package structures

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

// RegisterRoutes: 参照は認証済みユーザー、変更は管理者のみ
func RegisterRoutes(read gin.IRoutes, write gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	read.GET("/structures", h.List)
	read.GET("/structures/:id", h.Get)
	write.POST("/structures", h.Create)
	write.PUT("/structures/:id", h.Update)
	write.DELETE("/structures/:id", h.Delete)
}

type errDTO struct {
	Error *APIError `json:"error"`
}

func errBody(err error) errDTO {
	if api, ok := err.(*APIError); ok {
		return errDTO{Error: api}
	}
	return errDTO{Error: ErrInternal("internal error")}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errBody(ErrInvalid("invalid id")))
		return 0, false
	}
	return id, true
}

func (h *Handler) List(c *gin.Context) {
	resp, err := h.svc.List(c.Request.Context(), c.Query("all"))
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	resp, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateStructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody(ErrInvalid("invalid json")))
		return
	}
	resp, err := h.svc.Create(c.Request.Context(), req.Name)
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err))
		return
	}
	c.Header("Location", "/structures/"+strconv.FormatInt(resp.ID, 10))
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req UpdateStructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody(ErrInvalid("invalid json")))
		return
	}
	resp, err := h.svc.Update(c.Request.Context(), id, req.Name, req.IsDisabled)
	if err != nil {
		c.JSON(toHTTPStatus(err), errBody(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		c.JSON(toHTTPStatus(err), errBody(err))
		return
	}
	c.Status(http.StatusNoContent)
}
