package realtime

import "errors"

var (
	// ErrConnectionClosed is returned when writing to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrWriteTimeout is returned when a connection's send buffer stays
	// full past the write timeout.
	ErrWriteTimeout = errors.New("write timeout")

	// ErrUnknownConnection is returned when sending to a connection id
	// the hub does not track.
	ErrUnknownConnection = errors.New("unknown connection")
)
