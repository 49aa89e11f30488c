// Package project classifies a captured workspace by framework, so a
// snapshot can be labeled without the caller naming the project type.
package project

import (
	"encoding/json"
	"strings"
)

// Known project type labels, most specific first.
const (
	TypeNextJS  = "nextjs"
	TypeVite    = "vite"
	TypeReact   = "react"
	TypeNode    = "node"
	TypeStatic  = "static"
	TypeUnknown = ""
)

// packageJSON is the subset of package.json that drives detection.
type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (p packageJSON) has(name string) bool {
	if _, ok := p.Dependencies[name]; ok {
		return true
	}
	_, ok := p.DevDependencies[name]
	return ok
}

// Detect classifies a snapshot file map. It looks for a package.json at any
// depth (shallowest wins) and falls back to static when only markup is
// present.
func Detect(files map[string]string) string {
	raw, ok := findPackageJSON(files)
	if !ok {
		for path := range files {
			if strings.HasSuffix(path, "index.html") {
				return TypeStatic
			}
		}
		return TypeUnknown
	}

	var pkg packageJSON
	if err := json.Unmarshal([]byte(raw), &pkg); err != nil {
		return TypeNode
	}

	switch {
	case pkg.has("next"):
		return TypeNextJS
	case pkg.has("vite"):
		return TypeVite
	case pkg.has("react"):
		return TypeReact
	default:
		return TypeNode
	}
}

// findPackageJSON returns the package.json content closest to the workdir
// root. Nested packages (workspaces, installed examples) lose to the top
// level.
func findPackageJSON(files map[string]string) (string, bool) {
	best := ""
	bestDepth := -1
	for path, content := range files {
		if !strings.HasSuffix(path, "/package.json") && path != "package.json" {
			continue
		}
		depth := strings.Count(path, "/")
		if bestDepth == -1 || depth < bestDepth {
			best = content
			bestDepth = depth
		}
	}
	return best, bestDepth != -1
}
