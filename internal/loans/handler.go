package loans

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"KURA-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

// RegisterRoutes: r は認証済みのグループを想定
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// GET /equipment/:id/availability?start=&end=&quantity=
	r.GET("/equipment/:id/availability", h.CheckAvailability)

	r.POST("/loans", h.CreateLoan)
	r.GET("/loans", h.ListLoans)
	r.GET("/loans/:loan_id", h.GetLoan)
	r.PATCH("/loans/:loan_id", h.TransitionLoan)
	r.DELETE("/loans/:loan_id", h.DeleteLoan)
}

// ---------- handlers ----------

func actorFrom(c *gin.Context) (Actor, bool) {
	p, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody(CodeForbidden, "unauthenticated"))
		return Actor{}, false
	}
	return Actor{ID: p.ID, Role: p.Role, StructureID: p.StructureID}, true
}

func parseQueryTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := parseDate(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GET /equipment/:id/availability
func (h *Handler) CheckAvailability(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid equipment id"))
		return
	}
	start, err := parseQueryTime(c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid start"))
		return
	}
	end, err := parseQueryTime(c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid end"))
		return
	}
	qty := 1
	if v := c.Query("quantity"); v != "" {
		if qty, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid quantity"))
			return
		}
	}

	res, err := h.svc.CheckAvailability(c.Request.Context(), id, start, end, qty)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	if res == nil {
		c.JSON(http.StatusNotFound, errorBody(CodeNotFound, "equipment not found"))
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /loans
func (h *Handler) CreateLoan(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req CreateLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}

	res, err := h.svc.CreateLoan(c.Request.Context(), req, actor)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}

	c.Header("Location", "/loans/"+res.ID)
	c.JSON(http.StatusCreated, res)
}

// GET /loans?structure_id=&side=&status=&historical=&limit=&offset=
// structure_id 省略時は自分の組織
func (h *Handler) ListLoans(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	f := LoanFilter{Side: c.Query("side")}
	if v := c.Query("structure_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid structure_id"))
			return
		}
		f.StructureID = &id
	}
	if v := c.Query("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	if v := c.Query("historical"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.Historical = b
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}

	res, err := h.svc.ListLoans(c.Request.Context(), f, actor)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /loans/:loan_id?historical=true
func (h *Handler) GetLoan(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	historical, _ := strconv.ParseBool(c.Query("historical"))
	res, err := h.svc.GetLoan(c.Request.Context(), c.Param("loan_id"), historical, actor)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// PATCH /loans/:loan_id
// 受け付けるのは status と decision_note だけ
func (h *Handler) TransitionLoan(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req TransitionRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "only status and decision_note can be changed"))
		return
	}
	if req.Status == "" {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "status is required"))
		return
	}

	res, err := h.svc.TransitionLoan(c.Request.Context(), c.Param("loan_id"), req, actor)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// DELETE /loans/:loan_id
func (h *Handler) DeleteLoan(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	res, err := h.svc.DeleteLoan(c.Request.Context(), c.Param("loan_id"), actor)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- error DTO ----------

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	if api, ok := err.(*APIError); ok {
		return errorBody(api.Code, api.Message)
	}
	return errorBody(CodeInternal, "internal error")
}
