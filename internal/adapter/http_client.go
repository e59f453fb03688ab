package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MKhiriev/go-doc-sync/models"
)

var (
	ErrUnauthorized       = errors.New("client unauthorized")
	ErrIncompatibleServer = errors.New("server protocol version is not supported")
)

// ProtocolVersion is the replication protocol generation this build
// speaks.
const ProtocolVersion = 1

// HTTPClientConfig configures the REST client for a sync server.
type HTTPClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type httpServerAdapter struct {
	client *resty.Client
}

// NewHTTPServerAdapter builds a [ServerAdapter] over the server's plain
// HTTP endpoints.
func NewHTTPServerAdapter(cfg HTTPClientConfig) ServerAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)
	if cfg.Token != "" {
		cli.SetHeader("Authorization", "Bearer "+cfg.Token)
	}

	return &httpServerAdapter{client: cli}
}

func (h *httpServerAdapter) ServerInfo(ctx context.Context) (models.AppInfo, error) {
	resp, err := h.client.R().SetContext(ctx).Get("/api/version")
	if err != nil {
		return models.AppInfo{}, fmt.Errorf("version request: %w", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return models.AppInfo{}, err
	}

	var info models.AppInfo
	if err = json.Unmarshal(resp.Body(), &info); err != nil {
		return models.AppInfo{}, fmt.Errorf("decode version response: %w", err)
	}
	return info, nil
}

func (h *httpServerAdapter) CheckCompatibility(ctx context.Context) error {
	info, err := h.ServerInfo(ctx)
	if err != nil {
		return err
	}
	if info.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: server speaks v%d, client speaks v%d",
			ErrIncompatibleServer, info.ProtocolVersion, ProtocolVersion)
	}
	return nil
}

func mapHTTPError(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	body := strings.TrimSpace(string(resp.Body()))
	if body == "" {
		body = http.StatusText(resp.StatusCode())
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode(), body)
}
