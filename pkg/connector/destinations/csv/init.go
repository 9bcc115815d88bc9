package csv

import (
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/connector/registry"
)

func init() {
	registry.RegisterDestination("csv", func(cfg *config.BaseConfig) (core.Destination, error) {
		return NewCSVDestination("csv", cfg)
	})

	registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "csv",
		Type:        "destination",
		Description: "CSV file destination with schema-derived columns",
		Version:     "1.0.0",
		Author:      "Hubble",
		Capabilities: []string{
			"streaming",
			"batch",
		},
		ConfigSchema: map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"required":    true,
				"description": "Output file path",
			},
			"delimiter": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"default":     ",",
				"description": "Field delimiter, a single character",
			},
		},
	})
}
