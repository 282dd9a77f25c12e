package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codedocs/server/cmd/server/internal/users"
)

// HandleRegister POST /api/v1/register
func HandleRegister(manager *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Email    string `json:"email"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		u, err := manager.Register(c.Request.Context(), req.Username, req.Email, req.Password)
		if errors.Is(err, users.ErrExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "username is taken"})
			return
		} else if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := manager.GenerateToken(u)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user": u, "token": token})
	}
}

// HandleLogin POST /api/v1/login
func HandleLogin(manager *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		u, err := manager.Authenticate(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		token, err := manager.GenerateToken(u)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": u, "token": token})
	}
}
