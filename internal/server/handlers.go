package server

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/applauncher/internal/manager"
	"github.com/loykin/applauncher/internal/metrics"
	"github.com/loykin/applauncher/internal/profile"
)

type nameReq struct {
	Name string `json:"name"`
}

type appReq struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Arguments string `json:"arguments"`
}

type moveReq struct {
	To *int `json:"to"`
}

type indexResp struct {
	Index int `json:"index"`
}

// StatusResp is the body of GET /status.
type StatusResp struct {
	Launching bool     `json:"launching"`
	Running   []string `json:"running"`
	Profiles  int      `json:"profiles"`
}

// ResourceResp is one entry of GET /resources.
type ResourceResp struct {
	Profile string `json:"profile"`
	Entry   string `json:"entry"`
	metrics.Usage
}

// detached keeps batch operations running when the client goes away, so a
// toggle never stops half way.
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (r *Router) handleListProfiles(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Profiles())
}

func (r *Router) handleGetProfile(c *gin.Context) {
	get := r.mgr.Profile
	if detect, _ := strconv.ParseBool(c.Query("detect")); detect {
		get = r.mgr.Detect
	}
	v, err := get(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleAddProfile(c *gin.Context) {
	var req nameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.mgr.AddProfile(detached(c), req.Name); err != nil {
		writeError(c, err)
		return
	}
	v, err := r.mgr.Profile(req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, v)
}

func (r *Router) handleRenameProfile(c *gin.Context) {
	var req nameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.mgr.RenameProfile(detached(c), c.Param("name"), req.Name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRemoveProfile(c *gin.Context) {
	if err := r.mgr.RemoveProfile(detached(c), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleAddApp(c *gin.Context) {
	var req appReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeAbsPath(req.Path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path: must be absolute path without traversal"})
		return
	}
	i, err := r.mgr.AddApplication(detached(c), c.Param("name"), profile.Application{
		Name:      req.Name,
		Path:      req.Path,
		Arguments: req.Arguments,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, indexResp{Index: i})
}

func (r *Router) handleUpdateApp(c *gin.Context) {
	i, ok := indexParam(c, "index")
	if !ok {
		return
	}
	var u mng.AppUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if u.Path != nil && !isSafeAbsPath(*u.Path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path: must be absolute path without traversal"})
		return
	}
	av, err := r.mgr.UpdateApplication(detached(c), c.Param("name"), i, u)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, av)
}

func (r *Router) handleRemoveApp(c *gin.Context) {
	i, ok := indexParam(c, "index")
	if !ok {
		return
	}
	if err := r.mgr.RemoveApplication(detached(c), c.Param("name"), i); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleMoveApp(c *gin.Context) {
	from, ok := indexParam(c, "index")
	if !ok {
		return
	}
	var req moveReq
	if err := c.ShouldBindJSON(&req); err != nil || req.To == nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "body must be {\"to\": <index>}"})
		return
	}
	if err := r.mgr.MoveApplication(detached(c), c.Param("name"), from, *req.To); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopApp(c *gin.Context) {
	i, ok := indexParam(c, "index")
	if !ok {
		return
	}
	res, err := r.mgr.StopEntry(detached(c), c.Param("name"), i)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleLaunch(c *gin.Context) {
	res, err := r.mgr.Launch(detached(c), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleStop(c *gin.Context) {
	res, err := r.mgr.Stop(detached(c), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleStopAll(c *gin.Context) {
	res := r.mgr.StopAll(detached(c))
	if res == nil {
		res = []mng.Result{}
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleStatus(c *gin.Context) {
	running := r.mgr.RunningProfiles()
	if running == nil {
		running = []string{}
	}
	writeJSON(c, http.StatusOK, StatusResp{
		Launching: r.mgr.Launching(),
		Running:   running,
		Profiles:  len(r.mgr.Profiles()),
	})
}

// handleEvents streams engine events as SSE until the client disconnects.
func (r *Router) handleEvents(c *gin.Context) {
	if r.bus == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "events not enabled"})
		return
	}
	ch, cancel := r.bus.Subscribe(0)
	defer cancel()
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Type", "text/event-stream")
	// headers go out now so clients know the subscription is live
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "no readable history sink configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
		return
	}
	if limit > 1000 {
		limit = 1000
	}
	evs, err := r.hist.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, evs)
}

func (r *Router) handleResources(c *gin.Context) {
	if r.resources == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "resource sampling not enabled"})
		return
	}
	all := r.resources.All()
	out := make([]ResourceResp, 0, len(all))
	for k, u := range all {
		out = append(out, ResourceResp{Profile: k.Profile, Entry: k.Entry, Usage: u})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Profile != out[j].Profile {
			return out[i].Profile < out[j].Profile
		}
		return out[i].Entry < out[j].Entry
	})
	writeJSON(c, http.StatusOK, out)
}
