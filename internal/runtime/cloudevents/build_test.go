package cloudevents

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
)

func TestBuildAssignsFreshRandomID(t *testing.T) {
	attrs := Attributes("com.example.customer.created", "/customers")
	attrs[AttrID] = "caller-chosen"

	first, err := Build(customer{LastName: "Smith"}, attrs)
	require.NoError(t, err)
	second, err := Build(customer{LastName: "Smith"}, attrs)
	require.NoError(t, err)

	assert.NotEqual(t, "caller-chosen", first.ID())
	assert.NotEqual(t, first.ID(), second.ID())
	parsed, err := uuid.Parse(first.ID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestBuildLeavesPayloadUntouched(t *testing.T) {
	payload := customer{FirstName: "Ann", LastName: "Smith", CustomerID: 42}
	evt, err := Build(payload, Attributes("t", "s"))
	require.NoError(t, err)
	assert.Equal(t, payload, evt.Data)
	assert.True(t, evt.Time.IsZero())
	assert.Nil(t, evt.Extensions)
}

func TestBuildMapsOptionalAttributes(t *testing.T) {
	attrs := Attributes("t", "s")
	attrs[AttrSubject] = "customer-42"
	attrs[AttrDataContentType] = "application/json"
	attrs[AttrTime] = "2024-05-06T07:08:09Z"
	attrs["tenant"] = "acme"

	evt, err := Build(customer{}, attrs)
	require.NoError(t, err)
	require.NotNil(t, evt.Subject)
	assert.Equal(t, "customer-42", *evt.Subject)
	require.NotNil(t, evt.DataContentType)
	assert.Equal(t, "application/json", *evt.DataContentType)
	assert.Equal(t, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), evt.Time)
	assert.Equal(t, "acme", evt.GetExtension("tenant"))

	stamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))
	attrs[AttrTime] = stamp
	evt, err = Build(customer{}, attrs)
	require.NoError(t, err)
	assert.True(t, stamp.Equal(evt.Time))
	assert.Equal(t, time.UTC, evt.Time.Location())
}

func TestBuildRejectsInvalidAttributes(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]any
	}{
		{"nil attributes", nil},
		{"missing type", map[string]any{AttrSource: "s", AttrSpecVersion: SpecVersion}},
		{"missing source", map[string]any{AttrType: "t", AttrSpecVersion: SpecVersion}},
		{"missing specversion", map[string]any{AttrType: "t", AttrSource: "s"}},
		{"empty type", map[string]any{AttrType: "", AttrSource: "s", AttrSpecVersion: SpecVersion}},
		{"non-string source", map[string]any{AttrType: "t", AttrSource: 7, AttrSpecVersion: SpecVersion}},
		{"unsupported specversion", map[string]any{AttrType: "t", AttrSource: "s", AttrSpecVersion: "0.3"}},
		{"bad time", map[string]any{AttrType: "t", AttrSource: "s", AttrSpecVersion: SpecVersion, AttrTime: "soon"}},
		{"time of wrong type", map[string]any{AttrType: "t", AttrSource: "s", AttrSpecVersion: SpecVersion, AttrTime: 12}},
		{"subject of wrong type", map[string]any{AttrType: "t", AttrSource: "s", AttrSpecVersion: SpecVersion, AttrSubject: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(customer{}, tt.attrs)
			require.Error(t, err)
			assert.ErrorIs(t, err, errspkg.ErrInvalidAttributes)
		})
	}
}
