package rosmsg

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLaserScan(t *testing.T) {
	raw := []byte(`{
		"header": {"stamp": {"sec": 17, "nanosec": 500}, "frame_id": "front_wall"},
		"angle_min": 0, "angle_max": 6.27, "angle_increment": 0.01745,
		"range_min": 0.12, "range_max": 3.5,
		"ranges": [0.4, null, 3.5]
	}`)

	msg, err := DecodeLaserScan(raw)
	require.NoError(t, err)
	assert.Equal(t, "front_wall", msg.Header.FrameID)
	assert.Equal(t, int64(17), msg.Header.Stamp.Sec)
	require.Len(t, msg.Ranges, 3)
	assert.Equal(t, 0.4, msg.Ranges[0])
	assert.True(t, math.IsInf(msg.Ranges[1], 1), "null range should decode as +Inf")
	assert.Equal(t, 3.5, msg.Ranges[2])
}

func TestDecodeLaserScan_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `ranges=1,2,3`},
		{"array payload", `[1, 2, 3]`},
		{"missing ranges", `{"header": {"frame_id": "x"}}`},
		{"null ranges", `{"ranges": null}`},
		{"ranges wrong type", `{"ranges": "far"}`},
		{"range entry wrong type", `{"ranges": [1, "two"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLaserScan([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestRanges_MarshalNonFinite(t *testing.T) {
	b, err := json.Marshal(Ranges{1.5, math.Inf(1), math.NaN(), 0.25})
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5, null, null, 0.25]`, string(b))

	b, err = json.Marshal(Ranges(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestNewTwist(t *testing.T) {
	tw := NewTwist(0.2, -1.0)

	b, err := json.Marshal(tw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"linear":{"x":0.2,"y":0,"z":0},"angular":{"x":0,"y":0,"z":-1}}`, string(b))
	assert.Equal(t, "Twist{linear.x=0.200 angular.z=-1.000}", tw.String())
}
