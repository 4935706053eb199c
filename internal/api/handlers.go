package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ledgersync/expsync/internal/cache"
	"github.com/ledgersync/expsync/internal/expenses"
	"github.com/ledgersync/expsync/internal/schema"
	expsync "github.com/ledgersync/expsync/internal/sync"
)

// SyncRequest is the body of POST /sync/expenses.
type SyncRequest struct {
	Expenses []schema.SyncOperation `json:"expenses" binding:"required"`
}

// SyncResponse is the reply to POST /sync/expenses.
type SyncResponse struct {
	Results []expsync.Result `json:"results"`
	Summary expsync.Summary  `json:"summary"`
}

func (h *handler) syncExpenses(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid sync request: expenses must be an array")
		return
	}

	results := h.sync.Reconcile(c.Request.Context(), UserID(c), req.Expenses)
	c.JSON(http.StatusOK, SyncResponse{Results: results, Summary: expsync.Summarize(results)})
}

func (h *handler) updatedSince(c *gin.Context) {
	var watermark time.Time
	if raw := c.Query("lastSyncTime"); raw != "" {
		t, err := schema.ParseDate(raw)
		if err != nil {
			badRequest(c, "Invalid lastSyncTime %q", raw)
			return
		}
		watermark = t
	}

	list, err := h.sync.UpdatedSince(c.Request.Context(), UserID(c), watermark)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expenses": list})
}

func (h *handler) lastSync(c *gin.Context) {
	t, err := h.sync.LastSyncTime(c.Request.Context(), UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lastSyncTime": t})
}

func (h *handler) syncStats(c *gin.Context) {
	userID := UserID(c)
	stats, err := cache.Remember(c.Request.Context(), h.cache, h.logger, cache.Key(userID, "sync", "stats"),
		func(ctx context.Context) (*expsync.Stats, error) {
			return h.sync.Stats(ctx, userID)
		})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handler) createExpense(c *gin.Context) {
	var in expenses.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body: %v", err)
		return
	}

	e, err := h.expenses.Create(c.Request.Context(), UserID(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *handler) listExpenses(c *gin.Context) {
	page, ok := intQuery(c, "page")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	result, err := h.expenses.List(c.Request.Context(), UserID(c), expenses.Query{
		Category:  c.Query("category"),
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) expenseSummary(c *gin.Context) {
	summary, err := h.expenses.Summary(c.Request.Context(), UserID(c), c.Query("startDate"), c.Query("endDate"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) getExpense(c *gin.Context) {
	e, err := h.expenses.Get(c.Request.Context(), UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handler) updateExpense(c *gin.Context) {
	var p expenses.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "Invalid request body: %v", err)
		return
	}

	e, err := h.expenses.Update(c.Request.Context(), UserID(c), c.Param("id"), p)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *handler) deleteExpense(c *gin.Context) {
	e, err := h.expenses.Delete(c.Request.Context(), UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// intQuery parses an optional integer query parameter. Zero means absent.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "%s must be an integer", name)
		return 0, false
	}
	return n, true
}
