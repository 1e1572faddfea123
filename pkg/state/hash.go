package state

import (
	"crypto/md5" //nolint:gosec // content-addressing digest, not a security boundary
	"encoding/hex"
	"encoding/json"
)

// HashBytes returns the hex-encoded 128-bit MD5 digest of the canonical
// JSON serialisation of value: keys sorted and compact separators, same
// as original_source/coco/state.py's hash_dict (json.dumps(sort_keys=True,
// separators=(",", ":"))). encoding/json already sorts map[string]any
// keys at every nesting level and emits no superfluous whitespace, so a
// plain Marshal gives the canonical form for free.
func HashBytes(value interface{}) (string, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(serialized) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}
