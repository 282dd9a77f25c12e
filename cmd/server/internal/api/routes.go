package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/codedocs/server/cmd/server/internal/document"
	"github.com/codedocs/server/cmd/server/internal/middleware"
	"github.com/codedocs/server/cmd/server/internal/room"
	"github.com/codedocs/server/cmd/server/internal/users"
)

// Deps bundles what the API surface needs.
type Deps struct {
	Users *users.Manager
	Store document.Store
	Hub   *room.Hub
	Log   *slog.Logger
}

// RegisterRoutes wires the REST endpoints and the websocket entry.
func RegisterRoutes(r *gin.Engine, d Deps) {
	v1 := r.Group("/api/v1")
	v1.POST("/register", HandleRegister(d.Users))
	v1.POST("/login", HandleLogin(d.Users))

	authed := v1.Group("")
	authed.Use(middleware.AuthRequired(d.Users))
	authed.GET("/files", HandleListFiles(d.Store))
	authed.POST("/files", HandleCreateFile(d.Store))
	authed.DELETE("/files/:id", HandleDeleteFile(d.Store))
	authed.POST("/files/:id/link", HandleShareLink(d.Store))
	authed.DELETE("/users/me", HandleDeleteAccount(d.Users, d.Store))

	r.GET("/ws/files/:link", HandleRoomSocket(d.Hub, d.Users, d.Log))
}
