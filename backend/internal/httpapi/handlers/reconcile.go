package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"reconcileServer/backend/internal/collab"
	"reconcileServer/backend/internal/httpapi/middleware"
	"reconcileServer/backend/internal/reconcile"
	"reconcileServer/backend/internal/resolution"
	"reconcileServer/backend/internal/store"
)

type HistoryStore interface {
	ListResolutions(ctx context.Context, docID string, limit int) ([]store.ResolutionRecord, error)
}

type ReconcileHandler struct {
	svc     collab.Service
	history HistoryStore // 可为空
}

func NewReconcileHandler(svc collab.Service, history HistoryStore) *ReconcileHandler {
	return &ReconcileHandler{svc: svc, history: history}
}

// Register 挂在已经过 AuthMiddleware 的路由组上
func (h *ReconcileHandler) Register(r gin.IRoutes) {
	r.GET("/docs/:docId/reconciliations", h.ListPending)
	r.POST("/docs/:docId/reconciliations/:entryId/resolve", h.Resolve)
	r.DELETE("/docs/:docId/reconciliations/:entryId", h.Dismiss)
	r.GET("/docs/:docId/resolutions", h.ListResolved)
	r.GET("/docs/:docId/sections", h.TrackedSections)
	r.GET("/docs/:docId/sections/:sectionId/stats", h.SectionStats)
	r.GET("/docs/:docId/sections/:sectionId/history", h.SectionHistory)
}

func (h *ReconcileHandler) ListPending(c *gin.Context) {
	docID := c.Param("docId")
	overlays, err := h.svc.PendingOverlays(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "overlays": overlays})
}

type resolveRequest struct {
	Choice string `json:"choice" binding:"required"`
}

func (h *ReconcileHandler) Resolve(c *gin.Context) {
	userID, _, ok := middleware.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User context missing"})
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	docID, entryID := c.Param("docId"), c.Param("entryId")
	res, resolved, err := h.svc.Resolve(c.Request.Context(), docID, entryID, resolution.Choice(req.Choice), userID)
	switch {
	case errors.Is(err, resolution.ErrUnknownChoice):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, collab.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Printf("resolve failed doc=%s entry=%s: %v", docID, entryID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !resolved {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not pending", "entryId": entryID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "resolution": res})
}

func (h *ReconcileHandler) Dismiss(c *gin.Context) {
	docID, entryID := c.Param("docId"), c.Param("entryId")
	removed, err := h.svc.Dismiss(c.Request.Context(), docID, entryID)
	if errors.Is(err, collab.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "entryId": entryID, "removed": removed})
}

func (h *ReconcileHandler) ListResolved(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "resolution history disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	docID := c.Param("docId")
	records, err := h.history.ListResolutions(c.Request.Context(), docID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "resolutions": records})
}

func (h *ReconcileHandler) SectionStats(c *gin.Context) {
	docID, sectionID := c.Param("docId"), c.Param("sectionId")
	stats, err := h.svc.SectionStats(c.Request.Context(), docID, sectionID)
	if errors.Is(err, collab.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ReconcileHandler) SectionHistory(c *gin.Context) {
	docID, sectionID := c.Param("docId"), c.Param("sectionId")
	hist, err := h.svc.SectionHistory(c.Request.Context(), docID, sectionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if hist == nil {
		hist = []reconcile.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "sectionId": sectionID, "history": hist})
}

func (h *ReconcileHandler) TrackedSections(c *gin.Context) {
	docID := c.Param("docId")
	sections, err := h.svc.TrackedSections(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "sections": sections})
}
