// Package rosmsg holds the JSON shapes of the ROS messages the controller
// exchanges with a bridge: sensor_msgs/LaserScan inbound and
// geometry_msgs/Twist outbound.
package rosmsg

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	// LaserScanType is the ROS type name of an inbound ranging scan.
	LaserScanType = "sensor_msgs/LaserScan"
	// TwistType is the ROS type name of an outbound velocity command.
	TwistType = "geometry_msgs/Twist"
)

// ErrMalformed is returned when an inbound message cannot be used.
var ErrMalformed = errors.New("malformed message")

// Time is a ROS 2 builtin_interfaces/Time stamp.
type Time struct {
	Sec     int64  `json:"sec"`
	Nanosec uint32 `json:"nanosec"`
}

// NewTime converts a wall-clock time into a ROS stamp.
func NewTime(t time.Time) Time {
	return Time{Sec: t.Unix(), Nanosec: uint32(t.Nanosecond())}
}

// Time returns the stamp as a time.Time.
func (t Time) Time() time.Time {
	return time.Unix(t.Sec, int64(t.Nanosec))
}

// Header is std_msgs/Header.
type Header struct {
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Ranges is a sequence of range samples in metres. Rosbridge encodes
// non-finite samples as JSON null; they decode to +Inf ("nothing seen")
// and encode back to null.
type Ranges []float64

// UnmarshalJSON decodes a JSON array, mapping null entries to +Inf.
func (r *Ranges) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = nil
		return nil
	}
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Ranges, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = *v
	}
	*r = out
	return nil
}

// MarshalJSON encodes the ranges, writing non-finite samples as null.
func (r Ranges) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	buf := make([]byte, 0, len(r)*6+2)
	buf = append(buf, '[')
	for i, v := range r {
		if i > 0 {
			buf = append(buf, ',')
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			buf = append(buf, "null"...)
			continue
		}
		buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
	}
	buf = append(buf, ']')
	return buf, nil
}

// LaserScan is sensor_msgs/LaserScan. Only Ranges drives the controller;
// the remaining fields are carried for logging and diagnostics.
type LaserScan struct {
	Header         Header    `json:"header"`
	AngleMin       float64   `json:"angle_min"`
	AngleMax       float64   `json:"angle_max"`
	AngleIncrement float64   `json:"angle_increment"`
	TimeIncrement  float64   `json:"time_increment"`
	ScanTime       float64   `json:"scan_time"`
	RangeMin       float64   `json:"range_min"`
	RangeMax       float64   `json:"range_max"`
	Ranges         Ranges    `json:"ranges"`
	Intensities    []float64 `json:"intensities,omitempty"`
}

// DecodeLaserScan parses a bridge payload. A payload that is not a JSON
// object or has no ranges field yields ErrMalformed.
func DecodeLaserScan(raw []byte) (LaserScan, error) {
	var msg LaserScan
	if err := json.Unmarshal(raw, &msg); err != nil {
		return LaserScan{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Ranges == nil {
		return LaserScan{}, fmt.Errorf("%w: missing ranges", ErrMalformed)
	}
	return msg, nil
}

// Vector3 is geometry_msgs/Vector3.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Twist is geometry_msgs/Twist. Values are m/s and rad/s.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// NewTwist builds the planar command a differential-drive base accepts:
// forward speed on linear.x, yaw rate on angular.z, everything else zero.
func NewTwist(linear, angular float64) Twist {
	return Twist{
		Linear:  Vector3{X: linear},
		Angular: Vector3{Z: angular},
	}
}

// String returns a compact human-readable form.
func (t Twist) String() string {
	return fmt.Sprintf("Twist{linear.x=%.3f angular.z=%.3f}", t.Linear.X, t.Angular.Z)
}
