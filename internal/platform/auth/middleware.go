package auth

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"KURA-backend/internal/roles"
)

const (
	CtxUserIDKey      = "user_id"
	CtxRoleKey        = "role"
	CtxStructureIDKey = "structure_id"
)

// RequireAuth: Authorization: Bearer <token> を検証して context に sub/role/structure_id を詰める。
// WebSocket 用に ?token= も受け付ける
func RequireAuth(tokens *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}

		p, err := tokens.Parse(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(CtxUserIDKey, p.ID)
		c.Set(CtxRoleKey, p.Role)
		c.Set(CtxStructureIDKey, p.StructureID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if h == "" {
		t := strings.TrimSpace(c.Query("token"))
		return t, t != ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	t := strings.TrimSpace(parts[1])
	return t, t != ""
}

// RequireActiveAccount: RequireAuth の後に置く。アカウントを読み直し、
// 現在のロールと所属組織で context を上書きする。削除・無効化済みなら 401
func RequireActiveAccount(store AccountStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetString(CtxUserIDKey)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		a, err := store.GetByID(c.Request.Context(), id)
		if err != nil {
			log.Printf("[ERROR] auth: load account %s: %v", id, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if a == nil || a.IsDisabled {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account is no longer active"})
			return
		}
		c.Set(CtxRoleKey, a.Role)
		c.Set(CtxStructureIDKey, a.StructureID)
		c.Next()
	}
}

// CurrentUser は RequireAuth が詰めた値を取り出す
func CurrentUser(c *gin.Context) (Principal, bool) {
	id := c.GetString(CtxUserIDKey)
	if id == "" {
		return Principal{}, false
	}
	return Principal{
		ID:          id,
		Role:        c.GetString(CtxRoleKey),
		StructureID: c.GetInt64(CtxStructureIDKey),
	}, true
}

// RequireAdmin: 管理者ロール以外は 403
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if !roles.IsAdmin(p.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
