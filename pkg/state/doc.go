// Package state implements coco's hierarchical, path-addressed state
// store: a tree of nested JSON-shaped mappings with atomic persistence,
// content hashing, and named snapshot save/restore.
//
// The tree is kept in memory as nested map[string]interface{} /
// []interface{} / scalar values (the shape encoding/json and yaml.v3
// naturally produce), guarded by a single RWMutex. Every successful
// mutation is followed by an atomic write of the full tree to
// storage_path/state.json (temp file + rename), matching
// original_source/coco/state.py's PersistentState.update() contract.
package state
