package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"robominions.dev/internal/protocol"
	"robominions.dev/internal/sim/actions"
	"robominions.dev/internal/sim/voxel"
	"robominions.dev/internal/sim/world"
	"robominions.dev/internal/transport/ws"
)

type serverDeps struct {
	WorldID string
	World   *world.World
	WS      *ws.Server
	Index   runtimeIndex // may be nil
	Logger  *log.Logger

	EnableAdmin bool
	EnablePprof bool
}

func buildMux(d serverDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		select {
		case <-d.World.Done():
			http.Error(rw, "world stopped", http.StatusServiceUnavailable)
			return
		default:
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, d)
	})

	if d.EnableAdmin {
		// Local-only admin endpoints. Commands here run on the world loop directly.
		mux.HandleFunc("/admin/v1/state", adminOnly(http.MethodGet, func(rw http.ResponseWriter, r *http.Request) {
			resp := struct {
				WorldID string             `json:"world_id"`
				Tick    uint64             `json:"tick"`
				Metrics world.WorldMetrics `json:"metrics"`
				WS      ws.Stats           `json:"ws"`
			}{
				WorldID: d.WorldID,
				Tick:    d.World.CurrentTick(),
				Metrics: d.World.Metrics(),
				WS:      d.WS.Stats(),
			}
			writeJSON(rw, http.StatusOK, resp)
		}))
		mux.HandleFunc("/admin/v1/snapshot", adminOnly(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			tick, err := d.World.RequestSnapshot(ctx)
			if err != nil {
				writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
		}))
		mux.HandleFunc("/admin/v1/robots", adminOnly(http.MethodGet, func(rw http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			views, err := d.World.RequestRobots(ctx)
			if err != nil {
				writeAdminError(rw, err)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"robots": views})
		}))
		mux.HandleFunc("/admin/v1/robots/spawn", adminOnly(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
			var body struct {
				Name string  `json:"name"`
				Kind string  `json:"kind"`
				Pos  *[3]int `json:"pos"`
			}
			if !readJSON(rw, r, &body) {
				return
			}
			var pos *voxel.Vec3i
			if body.Pos != nil {
				pos = &voxel.Vec3i{X: body.Pos[0], Y: body.Pos[1], Z: body.Pos[2]}
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			owner, err := d.World.RequestSpawn(ctx, strings.TrimSpace(body.Name), body.Kind, pos)
			if err != nil {
				writeAdminError(rw, err)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "owner": owner})
		}))
		mux.HandleFunc("/admin/v1/robots/command", adminOnly(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
			var body struct {
				Name   string                 `json:"name"`
				Action protocol.ActionRequest `json:"action"`
			}
			if !readJSON(rw, r, &body) {
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			ok, err := d.World.RequestCommand(ctx, strings.TrimSpace(body.Name), actions.FromProtocol(body.Action))
			if err != nil {
				writeAdminError(rw, err)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "success": ok})
		}))
		mux.HandleFunc("/admin/v1/robots/remove", adminOnly(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
			var body struct {
				Name string `json:"name"`
			}
			if !readJSON(rw, r, &body) {
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			removed, err := d.World.RequestRemove(ctx, strings.TrimSpace(body.Name))
			if err != nil {
				writeAdminError(rw, err)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "removed": removed})
		}))
		mux.HandleFunc("/admin/v1/items/drop", adminOnly(http.MethodPost, func(rw http.ResponseWriter, r *http.Request) {
			var body struct {
				Pos      [3]int `json:"pos"`
				Material string `json:"material"`
				Count    int    `json:"count"`
			}
			if !readJSON(rw, r, &body) {
				return
			}
			m, ok := protocol.ParseMaterial(body.Material)
			if !ok {
				http.Error(rw, fmt.Sprintf("bad material %q", body.Material), http.StatusBadRequest)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			owner, picked, err := d.World.DropItem(ctx, voxel.Vec3i{X: body.Pos[0], Y: body.Pos[1], Z: body.Pos[2]}, m, body.Count)
			if err != nil {
				writeAdminError(rw, err)
				return
			}
			resp := map[string]any{"ok": true, "picked_up": picked}
			if picked {
				resp["owner"] = owner
			}
			writeJSON(rw, http.StatusOK, resp)
		}))
	} else {
		d.Logger.Printf("admin endpoints disabled (RM_ENABLE_ADMIN_HTTP=false)")
	}
	if d.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", d.WS.Handler())
	return mux
}

func adminOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func readJSON(rw http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(rw, "bad json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeAdminError(rw http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, world.ErrUnknownName), errors.Is(err, world.ErrNoRobot):
		code = http.StatusNotFound
	case errors.Is(err, world.ErrNotRunning), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	writeJSON(rw, code, map[string]any{"ok": false, "error": err.Error()})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
