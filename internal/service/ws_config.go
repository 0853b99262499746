package service

import (
	"strings"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/pkg/constants"
)

// WSConfig holds WebSocket URL base for responses.
type WSConfig struct {
	BaseURL string
}

// WSURL returns the relay WebSocket URL (e.g. wss://relay.example.com/ws).
func (c *WSConfig) WSURL() string {
	if c == nil || c.BaseURL == "" {
		return constants.PathWS
	}
	return strings.TrimRight(c.BaseURL, "/") + constants.PathWS
}
