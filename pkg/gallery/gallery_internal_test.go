package gallery

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
)

func TestDecodePayloadRoundTrips(t *testing.T) {
	fields := map[string]*qdrant.Value{
		"customer_id":   {Kind: &qdrant.Value_StringValue{StringValue: "cust_42"}},
		"enrollment_ts": {Kind: &qdrant.Value_DoubleValue{DoubleValue: 1700000000.0}},
		"vip_tier":      {Kind: &qdrant.Value_StringValue{StringValue: "gold"}},
	}

	p := decodePayload(fields)
	assert.Equal(t, "cust_42", p.CustomerID)
	assert.Equal(t, 1700000000.0, p.EnrollmentTS)
	assert.Equal(t, "gold", p.VIPTier)
}

func TestDecodePayloadMissingFieldsZeroValue(t *testing.T) {
	p := decodePayload(map[string]*qdrant.Value{})
	assert.Empty(t, p.CustomerID)
	assert.Zero(t, p.EnrollmentTS)
	assert.Empty(t, p.VIPTier)
}
