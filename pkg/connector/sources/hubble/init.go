package hubble

import (
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource("hubble", func(cfg *config.BaseConfig) (core.Source, error) {
		return NewHubbleSource("hubble", cfg)
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:         "hubble",
		Type:         "source",
		Description:  "Incremental REST source speaking the MongoDB-style find dialect",
		Version:      "1.0.0",
		Author:       "Hubble",
		Capabilities: []string{"incremental", "batch", "schema_discovery"},
		ConfigSchema: map[string]interface{}{
			"security.credentials.api_token": "API bearer token (required)",
			"extraction.start_date":          "ISO-8601 seed for the high-water mark (optional)",
			"extraction.page_size":           "records per page, 1-1000 (default 200)",
			"extraction.inter_page_delay":    "pause between pages, 0-30s (default 500ms)",
			"extraction.request_timeout":     "per-request timeout, 10-300s (default 60s)",
			"extraction.max_retries":         "attempt budget per page, 1-10 (default 5)",
			"extraction.streams":             "list of {name, endpoint_url} stream specs (required)",
		},
	})
}
