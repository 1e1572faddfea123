// Package cocoerr defines the error taxonomy shared by every coco
// component: InvalidUsage, ConfigError, InternalError, CheckFailure and
// BackendError. InvalidUsage, InternalError and CheckFailure carry the
// HTTP status they map to at the frontend; ConfigError is fatal at
// startup and BackendError is a per-host reply entry, so neither has one
// (HTTPStatus maps them to 500).
package cocoerr
