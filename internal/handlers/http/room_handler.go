package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/javaarchive/togetherfin/internal/core/domain"
	"github.com/javaarchive/togetherfin/internal/core/services"
	"github.com/javaarchive/togetherfin/internal/infrastructure/middleware"
	"github.com/javaarchive/togetherfin/internal/infrastructure/relay"
	apperrors "github.com/javaarchive/togetherfin/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxUploadBytes bounds a single ciphertext blob upload.
const maxUploadBytes = 32 << 20

// FilePutNotifier fans a file availability notification out to room members.
type FilePutNotifier interface {
	NotifyFilePut(roomID domain.RoomID, key domain.ContentID)
}

// StoreMetrics is the subset of the Prometheus collector the handler feeds.
type StoreMetrics interface {
	SetStoreFiles(roomID, channel string, count int)
	AddStoreEvictions(channel string, count int)
	AddUploadBytes(n int)
	AddDownloadBytes(n int)
}

type RoomHandler struct {
	roomService *services.RoomService
	stores      *relay.Manager
	notifier    FilePutNotifier
	metrics     StoreMetrics
	logger      *zap.SugaredLogger
}

func NewRoomHandler(roomService *services.RoomService, stores *relay.Manager, notifier FilePutNotifier, metrics StoreMetrics, logger *zap.SugaredLogger) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
		stores:      stores,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	sessionAuth := middleware.NewSessionAuthMiddleware(h.roomService)

	api := router.Group("/api")
	{
		api.GET("/check", h.Check)
		api.PUT("/room", h.OpenRoom)
		api.POST("/hostcode", h.CheckHostCode)
		api.GET("/room/:id", h.GetRoom)
		api.GET("/room/:id/file/:key", h.DownloadFile)
		api.PUT("/room/:id/file/:key", sessionAuth, h.UploadFile)
		api.DELETE("/room/:id", sessionAuth, h.CloseRoom)
	}
}

func (h *RoomHandler) Check(c *gin.Context) {
	c.String(http.StatusOK, "api ok")
}

type OpenRoomRequest struct {
	ID        string `json:"id" binding:"required,min=1,max=128"`
	Challenge string `json:"challenge" binding:"required,max=8192"`
	Owner     string `json:"owner"`
}

func (h *RoomHandler) OpenRoom(c *gin.Context) {
	var req OpenRoomRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request format"})
		return
	}

	_, sessionKey, err := h.roomService.OpenRoom(c.Request.Context(), domain.RoomID(req.ID), req.Challenge, req.Owner)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidHostCode):
			c.JSON(http.StatusUnauthorized, gin.H{
				"ok":    false,
				"error": "Invalid host code. These are required to host rooms on this instance. Contact the administrator to obtain one.",
			})
		case errors.Is(err, domain.ErrRoomOwned):
			c.JSON(http.StatusConflict, gin.H{
				"ok":    false,
				"error": "Room already exists and is owned by someone else.",
			})
		default:
			h.logger.Errorw("failed to open room", "room_id", req.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to open room"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"sessionKey": sessionKey,
	})
}

type HostCodeRequest struct {
	Code string `json:"code" binding:"required,max=256"`
}

func (h *RoomHandler) CheckHostCode(c *gin.Context) {
	var req HostCodeRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request format"})
		return
	}

	if !h.roomService.HostCodesEnabled() {
		c.JSON(http.StatusBadRequest, gin.H{
			"ok":    false,
			"error": "Host codes are not enabled on this instance. You should not need one to start a room.",
		})
		return
	}
	if !h.roomService.CheckHostCode(req.Code) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"ok":    false,
			"error": "Invalid host code. These are required to host rooms on this instance. Contact the administrator to obtain one.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.roomService.GetRoom(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "room not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"id":        room.ID,
		"challenge": room.Challenge,
	})
}

func (h *RoomHandler) CloseRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	if err := h.roomService.CloseRoom(c.Request.Context(), roomID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "room not found"})
		return
	}
	h.stores.Drop(roomID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// UploadFile accepts one ciphertext blob from the room's host. The body is
// stored untouched; the Content-Type header is recorded as an opaque hint.
func (h *RoomHandler) UploadFile(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	key := domain.ContentID(c.Param("key"))

	if _, err := h.roomService.GetRoom(c.Request.Context(), roomID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "room not found"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "failed to read body"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": "file too large"})
		return
	}

	store := h.stores.ForRoom(roomID)
	res := store.Put(key, data, c.ContentType())

	if h.metrics != nil {
		h.metrics.AddUploadBytes(len(data))
		h.metrics.AddStoreEvictions(string(domain.ChannelSpecial), res.EvictedSpecial)
		h.metrics.AddStoreEvictions(string(domain.ChannelDefault), res.EvictedDefault)
		h.metrics.SetStoreFiles(string(roomID), string(domain.ChannelSpecial), store.Len(domain.ChannelSpecial))
		h.metrics.SetStoreFiles(string(roomID), string(domain.ChannelDefault), store.Len(domain.ChannelDefault))
	}

	if h.notifier != nil {
		h.notifier.NotifyFilePut(roomID, key)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DownloadFile serves a ciphertext blob by id. Deliberately unauthenticated:
// blobs are opaque without the room key, and guests hold no credentials.
func (h *RoomHandler) DownloadFile(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	key := domain.ContentID(c.Param("key"))

	store, ok := h.stores.Lookup(roomID)
	if !ok {
		appErr := apperrors.NewNotFoundError("file")
		c.JSON(appErr.HTTPStatus, gin.H{"ok": false, "error": appErr.Message})
		return
	}

	file, err := store.Get(key)
	if err != nil {
		appErr := apperrors.NewNotFoundError("file")
		c.JSON(appErr.HTTPStatus, gin.H{"ok": false, "error": appErr.Message})
		return
	}

	if h.metrics != nil {
		h.metrics.AddDownloadBytes(len(file.Data))
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, file.Data)
}
