package cloudevents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customer struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	CustomerID int64  `json:"customerId"`
}

func newCustomerEvent(t *testing.T) Event[customer] {
	t.Helper()
	evt, err := Build(customer{FirstName: "Ann", LastName: "Smith", CustomerID: 42}, Attributes("com.example.customer.created", "/customers"))
	require.NoError(t, err)
	return evt
}

func TestEventWithSubject(t *testing.T) {
	evt := newCustomerEvent(t).WithSubject("customer-42")

	require.NotNil(t, evt.Subject)
	assert.Equal(t, "customer-42", *evt.Subject)
}

func TestEventWithExtensionDoesNotAlias(t *testing.T) {
	base := newCustomerEvent(t).WithExtension("tenant", "a")
	derived := base.WithExtension("tenant", "b")

	assert.Equal(t, "a", base.GetExtensionString("tenant"))
	assert.Equal(t, "b", derived.GetExtensionString("tenant"))
	assert.Equal(t, base.ID(), derived.ID())
}

func TestGetExtension(t *testing.T) {
	evt := newCustomerEvent(t)
	assert.Nil(t, evt.GetExtension("missing"))
	assert.Equal(t, "", evt.GetExtensionString("missing"))

	evt = evt.WithExtension("count", 3)
	assert.Equal(t, 3, evt.GetExtension("count"))
	assert.Equal(t, "3", evt.GetExtensionString("count"))
}

func TestValidate(t *testing.T) {
	evt := newCustomerEvent(t)
	require.NoError(t, evt.Validate())

	tests := []struct {
		name   string
		mutate func(*Event[customer])
	}{
		{"missing specversion", func(e *Event[customer]) { e.SpecVersion = "" }},
		{"wrong specversion", func(e *Event[customer]) { e.SpecVersion = "0.3" }},
		{"missing type", func(e *Event[customer]) { e.Type = "" }},
		{"missing source", func(e *Event[customer]) { e.Source = "" }},
		{"missing id", func(e *Event[customer]) { e.id = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broken := evt
			tt.mutate(&broken)
			assert.Error(t, broken.Validate())
		})
	}
}

func TestMarshalJSONStructuredMode(t *testing.T) {
	evt := newCustomerEvent(t).WithExtension(ExtCorrelationID, "req-1")
	evt.Time = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, evt.ID(), raw["id"])
	assert.Equal(t, "1.0", raw["specversion"])
	assert.Equal(t, "com.example.customer.created", raw["type"])
	assert.Equal(t, "/customers", raw["source"])
	assert.Equal(t, "2024-03-01T12:00:00Z", raw["time"])
	assert.Equal(t, "req-1", raw[ExtCorrelationID])
	assert.NotContains(t, raw, "subject")

	payload, ok := raw["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Smith", payload["lastName"])
	assert.EqualValues(t, 42, payload["customerId"])
}

func TestUnmarshalJSONRoundTrip(t *testing.T) {
	original := newCustomerEvent(t).WithSubject("customer-42").WithExtension(ExtCorrelationID, "req-7")
	original.Time = time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Event[customer]
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.ID(), decoded.ID())
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.Source, decoded.Source)
	assert.Equal(t, original.Data, decoded.Data)
	assert.True(t, original.Time.Equal(decoded.Time))
	require.NotNil(t, decoded.Subject)
	assert.Equal(t, "customer-42", *decoded.Subject)
	assert.Equal(t, "req-7", decoded.GetExtensionString(ExtCorrelationID))
	assert.NoError(t, decoded.Validate())
}

func TestUnmarshalJSONInvalid(t *testing.T) {
	var evt Event[customer]
	assert.Error(t, json.Unmarshal([]byte(`{"id":5}`), &evt))
	assert.Error(t, json.Unmarshal([]byte(`{"time":"yesterday"}`), &evt))
	assert.Error(t, json.Unmarshal([]byte(`{"data":{"customerId":"x"}}`), &evt))
}

func TestAttributesOmitsUnsetOptionals(t *testing.T) {
	attrs := newCustomerEvent(t).Attributes()
	assert.NotContains(t, attrs, AttrSubject)
	assert.NotContains(t, attrs, AttrDataContentType)
	assert.NotContains(t, attrs, AttrTime)
	assert.NotContains(t, attrs, AttrData)
	assert.Len(t, attrs, 4)
}

func TestHeaders(t *testing.T) {
	evt := newCustomerEvent(t)
	h := Headers(evt)
	assert.Equal(t, evt.ID(), h[HeaderID])
	assert.Equal(t, evt.Type, h[HeaderType])
	assert.Equal(t, evt.Source, h[HeaderSource])
	assert.Equal(t, SpecVersion, h[HeaderSpecVersion])
	assert.Equal(t, ContentTypeStructuredJSON, h[HeaderContentType])
}

func TestParseAndFormatTime(t *testing.T) {
	ts, err := ParseTime("2024-01-02T03:04:05.123456789Z")
	require.NoError(t, err)
	assert.Equal(t, 123456789, ts.Nanosecond())

	ts, err = ParseTime("2024-01-02T03:04:05+02:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T01:04:05Z", FormatTime(ts))

	_, err = ParseTime("not-a-time")
	assert.Error(t, err)
	assert.Equal(t, "", FormatTime(time.Time{}))
}
