package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/transport/observer"
)

func (rt *app) routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.handleMetrics)

	if !envBool("VS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		rt.logger.Printf("admin endpoints disabled (VS_ENABLE_ADMIN_HTTP=false)")
		return
	}
	// Local-only admin endpoints.
	mux.HandleFunc("/admin/v1/state", loopbackOnly(rt.handleState))
	mux.HandleFunc("/admin/v1/viewers", loopbackOnly(rt.handleViewers))
	mux.HandleFunc("/admin/v1/viewers/move", loopbackOnly(rt.handleViewerMove))
	mux.HandleFunc("/admin/v1/viewers/distance", loopbackOnly(rt.handleViewerDistance))
	mux.HandleFunc("/admin/v1/chunks/reload", loopbackOnly(rt.handleReload))
	mux.HandleFunc("/admin/v1/purge", loopbackOnly(rt.handlePurge))
	mux.HandleFunc("/admin/v1/observer/bootstrap", rt.observer.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", rt.observer.WSHandler())
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeErr(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]any{"ok": false, "error": msg})
}

func (rt *app) handleState(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(rw, http.StatusOK, struct {
		Stats    any          `json:"stats"`
		Resident []chunks.Pos `json:"resident"`
	}{
		Stats:    rt.provider.Stats(),
		Resident: rt.provider.ResidentPositions(),
	})
}

type viewerRequest struct {
	ID       string      `json:"id"`
	Pos      *[3]float64 `json:"pos,omitempty"`
	Chunk    *[3]int     `json:"chunk,omitempty"`
	Distance *[3]int     `json:"distance,omitempty"`
}

type viewerView struct {
	ID       string        `json:"id"`
	Located  bool          `json:"located"`
	Pos      [3]float64    `json:"pos"`
	Distance chunks.Pos    `json:"distance"`
	Bounds   chunks.Bounds `json:"bounds"`
	Relevant int           `json:"relevant"`
}

func (rt *app) viewerView(id string) (viewerView, bool) {
	reg, ok := rt.provider.Relevance().Region(id)
	if !ok {
		return viewerView{}, false
	}
	out := viewerView{
		ID:       id,
		Distance: reg.Distance(),
		Bounds:   reg.Bounds(),
		Relevant: len(reg.Relevant()),
	}
	if v, ok := rt.viewers.Get(id); ok {
		x, y, z, located := v.Location()
		out.Pos = [3]float64{x, y, z}
		out.Located = located
	}
	return out, true
}

// handleViewers lists (GET), adds (POST) or removes (DELETE ?id=) viewers.
func (rt *app) handleViewers(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var out []viewerView
		for _, id := range rt.viewers.IDs() {
			if v, ok := rt.viewerView(id); ok {
				out = append(out, v)
			}
		}
		writeJSON(rw, http.StatusOK, out)
	case http.MethodPost:
		var req viewerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(rw, http.StatusBadRequest, "bad json: "+err.Error())
			return
		}
		id := strings.TrimSpace(req.ID)
		if id == "" {
			id = uuid.NewString()
		}
		v, _ := rt.viewers.GetOrCreate(id)
		if req.Chunk != nil {
			v.MoveToChunk(chunks.Pos{X: req.Chunk[0], Y: req.Chunk[1], Z: req.Chunk[2]})
		} else if req.Pos != nil {
			v.MoveTo(req.Pos[0], req.Pos[1], req.Pos[2])
		}
		distance := rt.tune.DefaultDistance()
		if req.Distance != nil {
			distance = chunks.Pos{X: req.Distance[0], Y: req.Distance[1], Z: req.Distance[2]}
		}
		rt.provider.AddViewer(v, distance, rt.observer)
		view, _ := rt.viewerView(id)
		writeJSON(rw, http.StatusOK, view)
	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		removed := rt.provider.RemoveViewer(id)
		rt.viewers.Remove(id)
		if !removed {
			writeErr(rw, http.StatusNotFound, "unknown viewer")
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "id": id})
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (rt *app) handleViewerMove(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req viewerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(rw, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	v, ok := rt.viewers.Get(req.ID)
	if !ok {
		writeErr(rw, http.StatusNotFound, "unknown viewer")
		return
	}
	switch {
	case req.Chunk != nil:
		v.MoveToChunk(chunks.Pos{X: req.Chunk[0], Y: req.Chunk[1], Z: req.Chunk[2]})
	case req.Pos != nil:
		v.MoveTo(req.Pos[0], req.Pos[1], req.Pos[2])
	default:
		writeErr(rw, http.StatusBadRequest, "pos or chunk required")
		return
	}
	view, _ := rt.viewerView(req.ID)
	writeJSON(rw, http.StatusOK, view)
}

func (rt *app) handleViewerDistance(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req viewerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Distance == nil {
		writeErr(rw, http.StatusBadRequest, "distance required")
		return
	}
	d := chunks.Pos{X: req.Distance[0], Y: req.Distance[1], Z: req.Distance[2]}
	if d.X < 0 || d.Y < 0 || d.Z < 0 {
		writeErr(rw, http.StatusBadRequest, "distance must be non-negative")
		return
	}
	if !rt.provider.UpdateDistance(req.ID, d) {
		writeErr(rw, http.StatusNotFound, "unknown viewer")
		return
	}
	view, _ := rt.viewerView(req.ID)
	writeJSON(rw, http.StatusOK, view)
}

func (rt *app) handleReload(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var pos chunks.Pos
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		writeErr(rw, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": rt.provider.Reload(pos), "pos": pos})
}

func (rt *app) handlePurge(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := rt.provider.PurgeWorld(ctx); err != nil {
		writeErr(rw, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
}
