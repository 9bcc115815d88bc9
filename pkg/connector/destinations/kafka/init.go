package kafka

import (
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/connector/registry"
)

func init() {
	registry.RegisterDestination("kafka", func(cfg *config.BaseConfig) (core.Destination, error) {
		return NewKafkaDestination("kafka", cfg)
	})

	registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        "kafka",
		Type:        "destination",
		Description: "Kafka topic destination with JSON-serialized records",
		Version:     "1.0.0",
		Author:      "Hubble",
		Capabilities: []string{
			"streaming",
			"batch",
		},
		ConfigSchema: map[string]interface{}{
			"brokers": map[string]interface{}{
				"type":        "string",
				"required":    true,
				"description": "Comma-separated broker addresses",
			},
			"topic": map[string]interface{}{
				"type":        "string",
				"required":    true,
				"description": "Topic to publish records to",
			},
			"acks": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"default":     "all",
				"description": "Producer acknowledgement level: all, 1, or 0",
			},
			"compression": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"default":     "none",
				"description": "Producer compression codec: none, gzip, snappy, or lz4",
			},
			"tls": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"default":     "false",
				"description": "Enable TLS when set to true",
			},
			"sasl_mechanism": map[string]interface{}{
				"type":        "string",
				"required":    false,
				"description": "SASL mechanism: PLAIN, SCRAM-SHA-256, or SCRAM-SHA-512",
			},
		},
	})
}
