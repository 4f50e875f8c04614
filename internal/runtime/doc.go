/*
Package runtime runs analysis requests off the bus and results back onto it.

# Consuming

RequestConsumer subscribes to the request topics through a transport.Driver
and feeds one record at a time to a Processor. Each record passes the
default middleware chain (correlation id, logging, job hooks, recoverer)
before the Processor sees the decoded AnalysisRequestEvent. The consumer
acks a record once its side effects are done:

  - the Processor returned a succeeded Outcome, or
  - the record was forwarded to the dead-letter topic.

A record that fails to decode is dead-lettered with reason
"deserialization"; a failed Outcome or a recovered panic with reason
"processing". When the consume context is cancelled the record in flight is
nacked instead, so the broker redelivers it.

# Producing

ResultProducer publishes AnalysisResultEvent keyed by log id so every result
for one log lands on one partition. DLQProducer publishes DLQMessage
envelopes unkeyed. Both copy correlation and request ids from the context
headers onto the bus message.

# Observability

Metrics holds the Prometheus collectors; a nil *Metrics is valid. JobHooks
lets callers observe each record as it starts and finishes;
LoggingHooks and MetricsHooks are the built-in implementations.
*/
package runtime
