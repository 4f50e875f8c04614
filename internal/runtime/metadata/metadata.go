package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// Header keys carried on bus messages next to the JSON body. The body stays
// the source of truth; headers exist so brokers, tracing and operators can
// route and grep without decoding payloads.
const (
	KeyCorrelationID = "correlation_id"
	KeyRequestID     = "request_id"
	KeyLogID         = "log_id"
	KeyEventSchema   = "event_message_schema"

	// KeyPartitionKey is read by keyed publishers to pick the broker partition.
	KeyPartitionKey = "bifrost_partition_key"

	// KeyPartition and KeyOffset are stamped by transports without native
	// offsets (the in-memory channel driver) so DLQ entries still point back
	// at the source record.
	KeyPartition = "bifrost_partition"
	KeyOffset    = "bifrost_offset"

	// KeyFailureReason tags DLQ messages with "deserialization" or "processing".
	KeyFailureReason = "bifrost_failure_reason"
)

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a cloned metadata map containing the provided key/value pair.
// Empty values are skipped so optional ids never show up as blank headers.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// ToWatermill converts the metadata into a fresh Watermill map.
func (m Metadata) ToWatermill() message.Metadata {
	wm := make(message.Metadata, len(m))
	for k, v := range m {
		wm[k] = v
	}
	return wm
}

// FromWatermill copies Watermill metadata into a Metadata map.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}
