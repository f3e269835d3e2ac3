// Package wsserver provides a WebSocket server for streaming terminal output
// to the frontend.
//
// # Binary frame protocol
//
// Binary frame format: [1 byte: streamID length][streamID bytes][data bytes]
//
//   - Byte 0: uint8 length of the stream ID (0..255).
//   - Bytes 1..1+streamIDLen: stream ID encoded as ASCII/UTF-8.
//   - Remaining bytes: raw terminal data (may be empty).
//
// EncodeStreamData produces frames in this format; DecodeStreamData parses
// them.
package wsserver

import (
	"fmt"
	"log/slog"
)

// maxStreamIDLen is the maximum stream ID length that fits in the 1-byte
// length prefix of the binary frame protocol. Stream IDs exceeding this are
// truncated.
const maxStreamIDLen = 255

// EncodeStreamData constructs a binary frame for streaming terminal output
// to the frontend.
//
// Frame format:
//
//	[1 byte: len(streamID) as uint8] [streamID bytes (ASCII)] [data bytes]
//
// The frame avoids JSON serialization overhead on the hot path (~60Hz per
// session). A single allocation is used.
//
// Precondition: len(streamID) must fit in uint8 (max 255 bytes). Longer IDs
// are truncated to 255 bytes with a warning log.
func EncodeStreamData(streamID string, data []byte) ([]byte, error) {
	if len(streamID) == 0 {
		return nil, fmt.Errorf("wsserver: encode stream data: streamID must not be empty")
	}

	id := streamID
	if len(id) > maxStreamIDLen {
		// Warn (not Debug) because truncation changes the stream ID used for
		// routing, risking data delivery to the wrong terminal if two IDs
		// share the same 255-byte prefix.
		slog.Warn("[ws] streamID truncated, collision risk: different sessions may receive each other's data",
			"originalLen", len(id), "truncatedTo", maxStreamIDLen, "streamID", id[:maxStreamIDLen])
		id = id[:maxStreamIDLen]
	}

	idLen := len(id)
	buf := make([]byte, 1+idLen+len(data))
	buf[0] = byte(idLen)
	copy(buf[1:1+idLen], id)
	copy(buf[1+idLen:], data)
	return buf, nil
}

// DecodeStreamData parses a binary frame produced by EncodeStreamData.
// Returns the stream ID and raw terminal data, or an error if the frame is
// malformed (empty frame, insufficient length for the declared stream ID).
//
// Zero-copy: The returned data slice shares memory with frame.
// Callers must not modify frame after calling this function.
func DecodeStreamData(frame []byte) (streamID string, data []byte, err error) {
	if len(frame) < 1 {
		return "", nil, fmt.Errorf("wsserver: decode stream data: empty frame")
	}

	idLen := int(frame[0])
	if len(frame) < 1+idLen {
		return "", nil, fmt.Errorf("wsserver: decode stream data: frame too short for streamID length %d (frame length %d)", idLen, len(frame))
	}

	streamID = string(frame[1 : 1+idLen])
	data = frame[1+idLen:]
	return streamID, data, nil
}
