package mongodb

import (
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/connector/registry"
)

func init() {
	registry.RegisterDestination("mongodb", func(cfg *config.BaseConfig) (core.Destination, error) {
		return NewMongoDBDestination("mongodb", cfg)
	})

	registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "mongodb",
		Type:        "destination",
		Description: "MongoDB destination with per-stream collections and _id-keyed upserts",
		Version:     "1.0.0",
		Author:      "Hubble",
		Capabilities: []string{
			"streaming",
			"batch",
			"upsert",
		},
		ConfigSchema: map[string]interface{}{
			"uri": map[string]interface{}{
				"type":        "string",
				"required":    true,
				"description": "MongoDB connection URI",
			},
			"database": map[string]interface{}{
				"type":        "string",
				"required":    true,
				"description": "Target database name",
			},
			"collection": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"description": "Fixed target collection; defaults to one collection per stream",
			},
		},
	})
}
