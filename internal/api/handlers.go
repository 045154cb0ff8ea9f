package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/proxyforge/proxyforge/internal/engine"
	"github.com/proxyforge/proxyforge/internal/model"
	"github.com/proxyforge/proxyforge/internal/reconcile"
	"github.com/proxyforge/proxyforge/internal/store"
)

type handlers struct {
	engine   *engine.Engine
	notifier Notifier
	logger   *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createConfigRequest is the body for POST /api/v1/configs.
type createConfigRequest struct {
	GroupID        *string `json:"groupId,omitempty"`
	Tier           string  `json:"tier,omitempty"`
	Classification string  `json:"classification,omitempty"`
	Name           string  `json:"name"`
	Content        string  `json:"content"`
	RequiresFile   *bool   `json:"requiresFile,omitempty"`
}

func (h *handlers) createOrUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req createConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	requiresFile := true
	if req.RequiresFile != nil {
		requiresFile = *req.RequiresFile
	}

	id, err := h.engine.CreateOrUpdateConfig(engine.ConfigInput{
		GroupID:        req.GroupID,
		Tier:           model.StorageTier(req.Tier),
		Classification: model.ConfigClass(req.Classification),
		Name:           req.Name,
		Content:        req.Content,
		RequiresFile:   requiresFile,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to admit config: %v", err))
		return
	}

	h.notifier.Notify()
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *handlers) listConfigs(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{}
	if v := r.URL.Query().Get("group"); v != "" {
		filter.GroupID = &v
	}
	if v := r.URL.Query().Get("classification"); v != "" {
		class := model.ConfigClass(v)
		filter.Classification = &class
	}
	if v := r.URL.Query().Get("active"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.ActiveOnly = b
		}
	}

	recs, err := h.engine.ListConfigs(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list configs: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": recs, "totalSize": len(recs)})
}

func (h *handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetConfig(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrConfigNotFound) {
		writeError(w, http.StatusNotFound, "config not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get config: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) deactivateConfig(w http.ResponseWriter, r *http.Request) {
	h.setConfigActive(w, r, false)
}

func (h *handlers) reactivateConfig(w http.ResponseWriter, r *http.Request) {
	h.setConfigActive(w, r, true)
}

func (h *handlers) setConfigActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")
	var err error
	if active {
		err = h.engine.Reactivate(id)
	} else {
		err = h.engine.Deactivate(id)
	}
	if errors.Is(err, store.ErrConfigNotFound) {
		writeError(w, http.StatusNotFound, "config not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to update config: %v", err))
		return
	}
	h.notifier.Notify()
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
}

func (h *handlers) mergeDuplicates(w http.ResponseWriter, r *http.Request) {
	var groupID *string
	if v := r.URL.Query().Get("group"); v != "" {
		groupID = &v
	}
	removed, err := h.engine.MergeDuplicates(groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("merge failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *handlers) reconcile(w http.ResponseWriter, r *http.Request) {
	var scopeID *string
	if v := r.URL.Query().Get("group"); v != "" {
		scopeID = &v
	}
	opts := reconcile.DefaultOptions()
	if v := r.URL.Query().Get("force"); v != "" {
		opts.Force, _ = strconv.ParseBool(v)
	}
	if v := r.URL.Query().Get("sweep"); v != "" {
		opts.Sweep, _ = strconv.ParseBool(v)
	}

	summary, err := h.engine.Reconcile(r.Context(), scopeID, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("reconciliation failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) sweep(w http.ResponseWriter, r *http.Request) {
	var scopeID *string
	if v := r.URL.Query().Get("group"); v != "" {
		scopeID = &v
	}
	removed, err := h.engine.Sweep(r.Context(), scopeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("sweep failed: %v", err))
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type createGroupRequest struct {
	Name string `json:"name"`
}

func (h *handlers) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	group, err := h.engine.CreateGroup(req.Name)
	if errors.Is(err, store.ErrInvalidGroupName) {
		writeError(w, http.StatusBadRequest, "group name must not contain path separators or dot segments")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create group: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *handlers) listGroups(w http.ResponseWriter, _ *http.Request) {
	groups, err := h.engine.ListGroups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list groups: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "totalSize": len(groups)})
}

func (h *handlers) startGroup(w http.ResponseWriter, r *http.Request) {
	h.setGroupStatus(w, r, model.GroupStatusRunning)
}

func (h *handlers) stopGroup(w http.ResponseWriter, r *http.Request) {
	h.setGroupStatus(w, r, model.GroupStatusStopped)
}

func (h *handlers) setGroupStatus(w http.ResponseWriter, r *http.Request, status model.GroupStatus) {
	id := chi.URLParam(r, "id")
	err := h.engine.SetGroupStatus(id, status)
	if errors.Is(err, store.ErrGroupNotFound) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to update group: %v", err))
		return
	}
	h.notifier.Notify()
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
