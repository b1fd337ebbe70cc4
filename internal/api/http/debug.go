// Package http exposes a local observation endpoint over the running
// sync engine: a state snapshot for poking at the client without a UI.
package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/chatsync/internal/service"
)

type DebugController struct {
	sync *service.SyncService
}

func NewDebugController(sync *service.SyncService) *DebugController {
	return &DebugController{sync: sync}
}

func (c *DebugController) State(ctx *gin.Context) {
	roomID := c.sync.OpenedRoom()
	snap := c.sync.CallSnapshot()

	ctx.JSON(http.StatusOK, gin.H{
		"open_room":    roomID,
		"messages":     len(c.sync.Messages(roomID)),
		"typing_users": c.sync.TypingUsers(),
		"presence":     c.sync.Presence(),
		"missed_calls": c.sync.MissedCalls(),
		"call": gin.H{
			"state":  snap.State.String(),
			"kind":   snap.Kind,
			"peer":   snap.PeerID,
			"room":   snap.RoomID,
			"reason": snap.Reason,
		},
	})
}

func (c *DebugController) Messages(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"messages": c.sync.Messages(ctx.Param("roomID"))})
}

func SetupRouter(debugController *DebugController) *gin.Engine {
	router := gin.Default()

	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"http://localhost:3000"}
	config.AllowHeaders = []string{"Content-Type", "Origin", "Accept"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	debug := router.Group("/debug")
	debug.GET("/state", debugController.State)
	debug.GET("/rooms/:roomID/messages", debugController.Messages)

	return router
}
