// Package connector provides the framework the extraction engine's sources
// and destinations are built on.
//
// The sub-packages split the concerns:
//
//   - core defines the Source and Destination interfaces along with the
//     stream, schema, and state types they exchange.
//
//   - base provides BaseConnector, which handles configuration, logging,
//     health reporting, rate limiting, and circuit breaking so concrete
//     connectors only implement their data path. Connectors embed it.
//
//   - sources contains the hubble REST extraction source.
//
//   - destinations contains the sinks: csv, jsonl, s3, kafka, and mongodb.
//
//   - registry maps connector names to factories. Connectors register
//     themselves in init functions, and callers create instances through
//     registry.CreateSource and registry.CreateDestination.
//
// All connectors are configured with config.BaseConfig and report
// structured errors from pkg/errors, so hosts can distinguish transient
// failures from fatal ones.
package connector
