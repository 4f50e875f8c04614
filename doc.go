// Package bifrost bridges log analysis requests on a message bus to an AI
// backend and back. A request carries the raw log text; bifrost normalizes
// it, renders the analysis prompt, calls the configured analyzer (a local
// Ollama server or Amazon Bedrock), persists the outcome and publishes a
// result event keyed by log id.
//
// Manager owns the whole loop. Fill a Config (or LoadConfig from YAML plus
// BIFROST_* environment overrides), build a Manager with NewManager and call
// Start. Stop drains the record in flight and releases every client:
//
//	cfg, err := bifrost.LoadConfig("bifrost.yaml")
//	if err != nil {
//		return err
//	}
//	mgr, err := bifrost.NewManager(bifrost.Dependencies{Config: cfg, Logger: logger})
//	if err != nil {
//		return err
//	}
//	if err := mgr.Start(ctx); err != nil {
//		return err
//	}
//	defer mgr.Stop(context.Background())
//
// # Delivery
//
// Records are consumed one at a time and committed only after their side
// effects completed: the result was published, or the record was forwarded to
// the dead-letter topic. Undecodable records go to the DLQ with reason
// "deserialization", failed analyses with reason "processing". Cancelling
// the pipeline leaves the record in flight uncommitted so it is redelivered.
//
// # Transports
//
// Kafka is the production transport. The same pipeline runs on RabbitMQ,
// NATS or in-process Go channels, which the tests use.
//
// # Storage
//
// Analysis records are kept in SQLite, PostgreSQL or memory, selected by
// Config.StoreDriver.
package bifrost
