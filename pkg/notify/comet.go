package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/coco/pkg/cocoerr"
	"github.com/cuemby/coco/pkg/config"
	"github.com/cuemby/coco/pkg/log"
	"github.com/rs/zerolog"
)

// Registrar registers coco's startup and configuration with an external
// schema-tracking broker ("comet" in the source). Disabled registrars
// are safe to call unconditionally; every method is a no-op.
type Registrar struct {
	enabled bool
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewRegistrar builds a Registrar from the config's comet_broker block.
func NewRegistrar(cfg config.CometBrokerConfig) *Registrar {
	return &Registrar{
		enabled: cfg.Enabled,
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  log.WithComponent("notify"),
	}
}

// RegisterStart announces controller startup, mirroring
// comet.Manager.register_start in the source.
func (r *Registrar) RegisterStart(ctx context.Context, version string) error {
	if !r.enabled {
		return nil
	}
	return r.post(ctx, "/start", map[string]interface{}{
		"start_time": time.Now().UTC(),
		"version":    version,
	})
}

// RegisterConfig announces the resolved configuration, mirroring
// comet.Manager.register_config in the source.
func (r *Registrar) RegisterConfig(ctx context.Context, cfg *config.Config) error {
	if !r.enabled {
		return nil
	}
	return r.post(ctx, "/config", cfg)
}

func (r *Registrar) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return cocoerr.WrapInternalError("comet: encode payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return cocoerr.WrapInternalError("comet: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("comet registration failed")
		return cocoerr.WrapInternalError("comet: registration failed", err)
	}
	defer resp.Body.Close()
	return nil
}
