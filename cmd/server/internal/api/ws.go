package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/codedocs/server/cmd/server/internal/document"
	"github.com/codedocs/server/cmd/server/internal/room"
	"github.com/codedocs/server/cmd/server/internal/users"
)

// HandleRoomSocket GET /ws/files/:link
// Upgrades to a websocket and joins the caller to the document's room.
// Rejections are delivered as close codes in the 4000 range so clients
// can tell a bad link from a missing document.
func HandleRoomSocket(hub *room.Hub, manager *users.Manager, log *slog.Logger) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		closeWith := func(code int, msg string) {
			deadline := time.Now().Add(5 * time.Second)
			ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, msg), deadline)
			ws.Close()
		}

		claims, err := manager.ParseToken(token)
		if token == "" || err != nil {
			closeWith(4401, "authentication required")
			return
		}
		docID, err := document.DecodeLink(c.Param("link"))
		if err != nil {
			closeWith(4400, "unable to decode file link")
			return
		}
		u, err := manager.GetUser(c.Request.Context(), claims.UserID)
		if err != nil {
			closeWith(4404, "user not found")
			return
		}

		if err := room.ServeConn(c.Request.Context(), hub, ws, docID, u); err != nil {
			log.Debug("room connection rejected", "file_id", docID, "error", err)
		}
	}
}
