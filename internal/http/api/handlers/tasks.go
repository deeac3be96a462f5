package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/topasig/PolicyBroker/internal/tasks"
)

// TaskLookup reads recorded background task outcomes.
type TaskLookup interface {
	Get(taskID string) (tasks.Record, bool)
}

// TaskHandler exposes background task outcomes.
type TaskHandler struct {
	store TaskLookup
}

// NewTaskHandler constructs a TaskHandler.
func NewTaskHandler(store TaskLookup) *TaskHandler {
	return &TaskHandler{store: store}
}

func (h *TaskHandler) Get(c *gin.Context) {
	if h == nil || h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "task not found"})
		return
	}
	taskID := strings.TrimSpace(c.Param("id"))
	record, ok := h.store.Get(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "task not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}
