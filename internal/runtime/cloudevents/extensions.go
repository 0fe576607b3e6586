package cloudevents

// Extension and header names shared by producers and consumers.
const (
	// ExtCorrelationID links an envelope to the request that produced it.
	ExtCorrelationID = "correlationid"

	// ExtPartitionKey records the effective partitioning key of the envelope.
	// It follows the CloudEvents partitioning extension.
	ExtPartitionKey = "partitionkey"
)

// Binary-mode header names written next to the structured payload so
// brokers and tooling can route on attributes without decoding.
const (
	HeaderID          = "ce_id"
	HeaderType        = "ce_type"
	HeaderSource      = "ce_source"
	HeaderSpecVersion = "ce_specversion"
	HeaderContentType = "content-type"

	// ContentTypeStructuredJSON is the content type of a structured-mode JSON envelope.
	ContentTypeStructuredJSON = "application/cloudevents+json"
)

// Headers returns the binary-mode headers describing e.
func Headers[P any](e Event[P]) map[string]string {
	return map[string]string{
		HeaderID:          e.ID(),
		HeaderType:        e.Type,
		HeaderSource:      e.Source,
		HeaderSpecVersion: e.SpecVersion,
		HeaderContentType: ContentTypeStructuredJSON,
	}
}
