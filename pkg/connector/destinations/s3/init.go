package s3

import (
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/connector/registry"
)

func init() {
	registry.RegisterDestination("s3", func(cfg *config.BaseConfig) (core.Destination, error) {
		return NewS3Destination("s3", cfg)
	})

	registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "s3",
		Type:        "destination",
		Description: "S3 destination writing date-partitioned compressed JSONL objects",
		Version:     "1.0.0",
		Author:      "Hubble",
		Capabilities: []string{
			"streaming",
			"batch",
			"compression",
			"partitioning",
		},
		ConfigSchema: map[string]interface{}{
			"bucket": map[string]interface{}{
				"type":        "string",
				"required":    true,
				"description": "Target S3 bucket",
			},
			"prefix": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"description": "Key prefix for all objects",
			},
			"region": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"default":     "us-east-1",
				"description": "AWS region",
			},
			"endpoint": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"description": "Custom endpoint for S3-compatible stores",
			},
			"compression": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"default":     "none",
				"description": "Compression algorithm for object bodies",
				"enum":        []string{"none", "gzip", "snappy", "lz4", "zstd", "s2", "deflate"},
			},
			"object_rows": map[string]interface{}{
				"type":        "integer",
				"required":    false,
				"default":     10000,
				"description": "Maximum records per uploaded object",
			},
		},
	})
}
