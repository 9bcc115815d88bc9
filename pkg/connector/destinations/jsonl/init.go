package jsonl

import (
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/connector/registry"
)

func init() {
	registry.RegisterDestination("jsonl", func(cfg *config.BaseConfig) (core.Destination, error) {
		return NewJSONLDestination("jsonl", cfg)
	})

	registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "jsonl",
		Type:        "destination",
		Description: "Line-delimited JSON file destination with optional compression",
		Version:     "1.0.0",
		Author:      "Hubble",
		Capabilities: []string{
			"streaming",
			"batch",
			"nested_objects",
			"compression",
		},
		ConfigSchema: map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"required":    true,
				"description": "Output file path; the compression extension is appended automatically",
			},
			"compression": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"default":     "none",
				"description": "Compression algorithm for the output file",
				"enum":        []string{"none", "gzip", "snappy", "lz4", "zstd", "s2", "deflate"},
			},
		},
	})
}
