package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct{ svc AuthService }

// RegisterRoutes: ログイン・登録は認証なし、アカウント管理は admin 配下に置く
func RegisterRoutes(public gin.IRoutes, admin gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	public.POST("/login", h.Login)
	public.POST("/register", h.Register)
	admin.DELETE("/accounts/:id", h.DeleteAccount)
	admin.PATCH("/accounts/:id", h.ChangeMembership)
}

type LoginRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.ID, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id or password"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"message": "Login successful",
	})
}

type RegisterRequest struct {
	ID          string `json:"id" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Role        string `json:"role" binding:"required"`
	StructureID int64  `json:"structure_id" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.svc.Register(c.Request.Context(), RegisterInput{
		ID:          req.ID,
		Password:    req.Password,
		Role:        req.Role,
		StructureID: req.StructureID,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "registered"})
}

func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type ChangeMembershipRequest struct {
	Role        string `json:"role" binding:"required"`
	StructureID int64  `json:"structure_id" binding:"required"`
}

func (h *AuthHandler) ChangeMembership(c *gin.Context) {
	var req ChangeMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.svc.ChangeMembership(c.Request.Context(), c.Param("id"), req.Role, req.StructureID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownRole), errors.Is(err, ErrUnknownStructure):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
