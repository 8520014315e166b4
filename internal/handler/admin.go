package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"traitfusion-api/internal/cache"
	"traitfusion-api/internal/repository"
	"traitfusion-api/internal/service"
	"traitfusion-api/pkg/apierror"
	"traitfusion-api/pkg/response"
)

// AdminHandler handles operator HTTP requests. Every endpoint needs the
// engine role.
type AdminHandler struct {
	store     repository.Store
	cache     cache.Cache
	storeType string
	roles     *service.Roles
	locker    *service.ItemLocker
	scheduler *service.Scheduler
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	store repository.Store,
	attrCache cache.Cache,
	storeType string,
	roles *service.Roles,
	locker *service.ItemLocker,
	scheduler *service.Scheduler,
) *AdminHandler {
	return &AdminHandler{
		store:     store,
		cache:     attrCache,
		storeType: storeType,
		roles:     roles,
		locker:    locker,
		scheduler: scheduler,
		startTime: time.Now(),
	}
}

func (h *AdminHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if err := h.roles.Require(service.RoleEngine, caller(r)); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.storeType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	storeStats, err := h.store.GetStats(ctx)
	if err == nil {
		storeStats["status"] = "connected"
		stats["store"] = storeStats
	} else {
		stats["store"] = map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	if h.cache != nil {
		stats["cache"] = h.cache.Stats()
	}
	stats["locked_items"] = h.locker.Len()
	stats["roles"] = h.roles.List()

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// RunJob handles POST /api/v1/admin/jobs/{job}
func (h *AdminHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if h.scheduler == nil {
		response.Error(w, apierror.ServiceUnavailable("scheduler not configured"))
		return
	}

	var run func(ctx context.Context) (int64, error)
	switch job := chi.URLParam(r, "job"); job {
	case "daily-reset":
		run = h.scheduler.RunDailyReset
	case "oracle-janitor":
		run = h.scheduler.RunJanitor
	default:
		response.Error(w, apierror.NotFound("unknown job "+job))
		return
	}

	affected, err := run(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"job":      chi.URLParam(r, "job"),
		"affected": affected,
	})
}
