package state

import (
	"fmt"
	"strings"
)

// splitPath turns "a/b/c" into ["a","b","c"], dropping empty segments so
// that "", "/", "/a/", and "a//b" all behave sensibly.
func splitPath(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	raw := strings.Split(path, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// find walks the tree along path and returns the node there. An empty
// path (or "/") returns the root.
func find(root map[string]interface{}, path string) (interface{}, error) {
	parts := splitPath(path)
	var cur interface{} = root
	for i, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("state: part %d of path %q traverses a non-mapping node", i, path)
		}
		v, ok := m[p]
		if !ok {
			return nil, fmt.Errorf("state: path %q not found (missing %q)", path, p)
		}
		cur = v
	}
	return cur, nil
}

// findParent walks the tree to the parent of the final path segment and
// returns (parent map, last segment). The parent must already exist and
// be a mapping node; this never creates anything (used by write, which
// requires the parent to exist).
func findParent(root map[string]interface{}, path string) (map[string]interface{}, string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("state: can't write to the root as a leaf")
	}
	parent, err := find(root, strings.Join(parts[:len(parts)-1], "/"))
	if err != nil {
		return nil, "", err
	}
	m, ok := parent.(map[string]interface{})
	if !ok {
		return nil, "", fmt.Errorf("state: parent of path %q is not a mapping node", path)
	}
	return m, parts[len(parts)-1], nil
}

// findOrCreate walks the tree along path, creating missing mapping nodes
// as it goes. It fails if a non-mapping node is traversed partway
// through the path.
func findOrCreate(root map[string]interface{}, path string) (map[string]interface{}, error) {
	parts := splitPath(path)
	cur := root
	for i, p := range parts {
		next, ok := cur[p]
		if !ok {
			created := make(map[string]interface{})
			cur[p] = created
			cur = created
			continue
		}
		m, ok := next.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("state: part %d of path %q is not a mapping node, can't overwrite it with a sub-state block", i, path)
		}
		cur = m
	}
	return cur, nil
}

// pack wraps value in a nested map matching the given path, i.e.
// pack(["a","b"], v) == {"a": {"b": v}}. pack(nil, v) == v.
func pack(parts []string, value interface{}) interface{} {
	if len(parts) == 0 {
		return value
	}
	return map[string]interface{}{parts[0]: pack(parts[1:], value)}
}
