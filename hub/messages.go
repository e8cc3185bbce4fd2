// Copyright 2025-2026 The streamhub Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ClientMessageType tag discriminating client message variants
type ClientMessageType string

// Client message variants
const (
	ClientMessageTypeAuth      ClientMessageType = "auth"
	ClientMessageTypeSubscribe ClientMessageType = "subscribe"
)

// Client message parse failures
var (
	ErrInvalidMessage     = errors.New("message is not valid JSON")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// ClientMessage one parsed message from a client connection
type ClientMessage interface {
	// MessageType the variant tag
	MessageType() ClientMessageType
}

// AuthRequest client request to authenticate the connection
type AuthRequest struct {
	// Token is the platform session bearer token
	Token string
}

// MessageType the variant tag
func (m AuthRequest) MessageType() ClientMessageType { return ClientMessageTypeAuth }

// SubscribeRequest client request to change its printer subscription set
type SubscribeRequest struct {
	// Printers is the list of printer IDs to add or remove. Nil when the
	// client sent no usable list, which clears the whole set.
	Printers []string
	// HasPrinters distinguishes an explicit empty list from an absent one
	HasPrinters bool
	// Unsubscribe when true, listed printers are removed instead of added
	Unsubscribe bool
}

// MessageType the variant tag
func (m SubscribeRequest) MessageType() ClientMessageType { return ClientMessageTypeSubscribe }

// clientMessageWire raw client message envelope.
//
// Printers stays raw so a value that is not a list degrades to "no list
// given" instead of failing the whole message.
type clientMessageWire struct {
	Type        ClientMessageType `json:"type"`
	Token       string            `json:"token"`
	Printers    json.RawMessage   `json:"printers"`
	Unsubscribe bool              `json:"unsubscribe"`
}

// ParseClientMessage parse one raw client payload into its message variant
func ParseClientMessage(payload []byte) (ClientMessage, error) {
	var wire clientMessageWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err.Error())
	}
	switch wire.Type {
	case ClientMessageTypeAuth:
		return AuthRequest{Token: wire.Token}, nil
	case ClientMessageTypeSubscribe:
		request := SubscribeRequest{Unsubscribe: wire.Unsubscribe}
		if len(wire.Printers) > 0 {
			var printers []string
			if err := json.Unmarshal(wire.Printers, &printers); err == nil && printers != nil {
				request.Printers = printers
				request.HasPrinters = true
			}
		}
		return request, nil
	default:
		return nil, fmt.Errorf("%w '%s'", ErrUnknownMessageType, wire.Type)
	}
}

// ========================================================================================
// Hub to client messages

// Error codes sent to clients
const (
	ErrorCodeInvalidMessage     = "INVALID_MESSAGE"
	ErrorCodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	ErrorCodeNotAuthenticated   = "NOT_AUTHENTICATED"
)

// AuthSuccessMessage reply after a successful authentication
type AuthSuccessMessage struct {
	Type string `json:"type"`
}

// NewAuthSuccessMessage define an auth_success reply
func NewAuthSuccessMessage() AuthSuccessMessage {
	return AuthSuccessMessage{Type: "auth_success"}
}

// AuthErrorMessage reply after a failed authentication attempt
type AuthErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewAuthErrorMessage define an auth_error reply
func NewAuthErrorMessage(reason string) AuthErrorMessage {
	return AuthErrorMessage{Type: "auth_error", Error: reason}
}

// ErrorMessage coded protocol error reply
type ErrorMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// NewErrorMessage define a coded error reply stamped with the current time
func NewErrorMessage(code string, message string) ErrorMessage {
	return ErrorMessage{
		Type:      "error",
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}
