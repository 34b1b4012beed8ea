package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// httpCmd drives the server's loopback admin endpoints.
func httpCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	player := fs.String("name", "", "player name (spawn, command, remove)")
	kind := fs.String("kind", "", "robot kind (spawn)")
	pos := fs.String("pos", "", "x,y,z (spawn: optional; drop: required)")
	move := fs.String("move", "", "move direction (command)")
	turn := fs.String("turn", "", "turn direction (command)")
	mine := fs.String("mine", "", "mine direction (command)")
	place := fs.String("place", "", "place direction (command)")
	material := fs.String("material", "", "material (command with -place, drop)")
	count := fs.Int("count", 1, "stack size (drop)")
	_ = fs.Parse(args)

	method, path, body, err := buildAdminRequest(name, adminArgs{
		Name: *player, Kind: *kind, Pos: *pos,
		Move: *move, Turn: *turn, Mine: *mine, Place: *place,
		Material: *material, Count: *count,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + path
	req, _ := http.NewRequest(method, u, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

type adminArgs struct {
	Name, Kind, Pos         string
	Move, Turn, Mine, Place string
	Material                string
	Count                   int
}

func buildAdminRequest(cmd string, a adminArgs) (method, path string, body map[string]any, err error) {
	switch cmd {
	case "state":
		return http.MethodGet, "/admin/v1/state", nil, nil
	case "robots":
		return http.MethodGet, "/admin/v1/robots", nil, nil
	case "snapshot":
		return http.MethodPost, "/admin/v1/snapshot", nil, nil
	}

	if cmd != "drop" && strings.TrimSpace(a.Name) == "" {
		return "", "", nil, fmt.Errorf("%s: missing -name", cmd)
	}
	switch cmd {
	case "spawn":
		body = map[string]any{"name": a.Name}
		if a.Kind != "" {
			body["kind"] = a.Kind
		}
		if a.Pos != "" {
			p, err := parseVec3(a.Pos)
			if err != nil {
				return "", "", nil, fmt.Errorf("spawn: bad -pos: %w", err)
			}
			body["pos"] = p
		}
		return http.MethodPost, "/admin/v1/robots/spawn", body, nil
	case "remove":
		return http.MethodPost, "/admin/v1/robots/remove", map[string]any{"name": a.Name}, nil
	case "command":
		action := map[string]string{}
		for k, v := range map[string]string{
			"move_direction":  a.Move,
			"turn_direction":  a.Turn,
			"mine_direction":  a.Mine,
			"place_direction": a.Place,
		} {
			if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
				action[k] = v
			}
		}
		if a.Place != "" {
			action["place_material"] = strings.ToUpper(strings.TrimSpace(a.Material))
		}
		if len(action) == 0 {
			return "", "", nil, fmt.Errorf("command: need one of -move, -turn, -mine, -place")
		}
		return http.MethodPost, "/admin/v1/robots/command", map[string]any{"name": a.Name, "action": action}, nil
	case "drop":
		p, err := parseVec3(a.Pos)
		if err != nil {
			return "", "", nil, fmt.Errorf("drop: bad -pos: %w", err)
		}
		if strings.TrimSpace(a.Material) == "" {
			return "", "", nil, fmt.Errorf("drop: missing -material")
		}
		return http.MethodPost, "/admin/v1/items/drop", map[string]any{"pos": p, "material": a.Material, "count": a.Count}, nil
	}
	return "", "", nil, fmt.Errorf("unknown command %q", cmd)
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
