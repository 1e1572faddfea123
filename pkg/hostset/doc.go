// Package hostset defines Host and Group, the addressing primitives the
// rest of coco forwards requests against.
package hostset
