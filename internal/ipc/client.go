package ipc

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	dialTimeout      = 3 * time.Second
	rwTimeout        = 15 * time.Second
	maxResponseBytes = 64 * 1024
)

// Send sends one activation request and waits for one response.
func Send(endpoint string, req ActivateRequest) (ActivateResponse, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint()
	}

	conn, err := dialEndpoint(endpoint, dialTimeout)
	if err != nil {
		return ActivateResponse{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(rwTimeout)); err != nil {
		return ActivateResponse{}, fmt.Errorf("set deadline: %w", err)
	}

	rawReq, err := encodeRequest(req)
	if err != nil {
		return ActivateResponse{}, err
	}

	if _, err := conn.Write(rawReq); err != nil {
		return ActivateResponse{}, err
	}
	if _, err := conn.Write([]byte{'\n'}); err != nil {
		return ActivateResponse{}, err
	}

	respRaw, err := readDelimitedFrame(bufio.NewReaderSize(conn, maxResponseBytes+1), maxResponseBytes)
	if err != nil {
		return ActivateResponse{}, err
	}

	resp, err := decodeResponse(respRaw)
	if err != nil {
		return ActivateResponse{}, fmt.Errorf("invalid response: %w", err)
	}
	return resp, nil
}

// IsConnectionError returns true when the error indicates that no activation
// server is listening on the endpoint (dial/connect failures).
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "open"
	}
	return false
}
