package mqtt

import "errors"

// Errors returned by Client. Match with errors.Is.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: client not connected")

	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
	ErrInvalidQoS   = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrPublishFailed wraps broker-side rejections and oversized payloads.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrTimeout is returned when the publish context ends before the ack.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
