package positioning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics(t *testing.T) {
	pos, req, resp := Topics("", "unit-7")
	assert.Equal(t, "patrol/devices/unit-7/position", pos)
	assert.Equal(t, "patrol/devices/unit-7/permissions/request", req)
	assert.Equal(t, "patrol/devices/unit-7/permissions/response", resp)

	pos, _, _ = Topics("field", "unit-7")
	assert.Equal(t, "field/unit-7/position", pos)
}

func TestDecodeFix(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "Valid fix",
			payload: `{"latitude":14.5995,"longitude":120.9842,"accuracy":5,"speed":1.2,"timestamp":"2026-02-01T08:00:00Z"}`,
		},
		{
			name:    "Missing timestamp uses receive time",
			payload: `{"latitude":14.5995,"longitude":120.9842,"accuracy":5}`,
		},
		{
			name:    "Latitude out of range",
			payload: `{"latitude":91,"longitude":120.9842,"accuracy":5}`,
			wantErr: true,
		},
		{
			name:    "Longitude out of range",
			payload: `{"latitude":14.5,"longitude":-181,"accuracy":5}`,
			wantErr: true,
		},
		{
			name:    "Negative accuracy",
			payload: `{"latitude":14.5,"longitude":120.9,"accuracy":-1}`,
			wantErr: true,
		},
		{
			name:    "Bad timestamp",
			payload: `{"latitude":14.5,"longitude":120.9,"accuracy":5,"timestamp":"yesterday"}`,
			wantErr: true,
		},
		{
			name:    "Not JSON",
			payload: `lat=14.5`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFix([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeFixFields(t *testing.T) {
	p, err := DecodeFix([]byte(`{"latitude":14.5995,"longitude":120.9842,"accuracy":5,"heading":90,"timestamp":"2026-02-01T16:00:00+08:00"}`))
	require.NoError(t, err)

	assert.Equal(t, 14.5995, p.Latitude)
	assert.Equal(t, 120.9842, p.Longitude)
	assert.Equal(t, 5.0, p.Accuracy)
	assert.Nil(t, p.Speed)
	require.NotNil(t, p.Heading)
	assert.Equal(t, 90.0, *p.Heading)
	assert.Equal(t, time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC), p.Timestamp)
}

func TestDecodeFixRejectsFutureTimestamp(t *testing.T) {
	ahead := time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)
	_, err := DecodeFix([]byte(`{"latitude":14.5995,"longitude":120.9842,"accuracy":5,"timestamp":"` + ahead + `"}`))
	assert.ErrorContains(t, err, "in the future")

	slight := time.Now().Add(30 * time.Second).UTC().Format(time.RFC3339Nano)
	_, err = DecodeFix([]byte(`{"latitude":14.5995,"longitude":120.9842,"accuracy":5,"timestamp":"` + slight + `"}`))
	assert.NoError(t, err)
}

func TestNewMQTTSourceValidatesConfig(t *testing.T) {
	_, err := NewMQTTSource(MQTTConfig{Broker: "tcp://localhost:1883"})
	assert.Error(t, err)
}
