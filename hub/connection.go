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
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/printfarm/streamhub/common"
)

// Close codes for forced disconnects
const (
	// CloseCodeAuthTimeout connection never authenticated within the deadline
	CloseCodeAuthTimeout = 4001
	// CloseCodeGoingAway server is shutting the connection down
	CloseCodeGoingAway = ws.CloseGoingAway
)

// Connection one open client stream.
//
// The attachment is the serialized session blob riding on the connection; it
// is the durable source of truth for session state, the SessionStore map is
// only a cache over it.
type Connection interface {
	// ID the connection's unique ID
	ID() string
	// Send enqueue one payload for delivery. Never blocks; returns an error
	// if the connection is closed or its send buffer is full.
	Send(payload []byte) error
	// SendJSON marshal msg and enqueue it for delivery
	SendJSON(msg interface{}) error
	// Attachment fetch the serialized session blob riding on the connection
	Attachment() []byte
	// SetAttachment replace the serialized session blob
	SetAttachment(blob []byte)
	// Close close the connection with a close code and reason
	Close(closeCode int, reason string) error
	// Closed whether the connection has been closed
	Closed() bool
	// Serve run the connection's read loop until the peer goes away.
	// Blocks the calling goroutine.
	Serve(onMessage func(payload []byte), onClose func())
}

// ConnectionOptions transport tuning for websocket connections
type ConnectionOptions struct {
	// WriteTimeout max duration of one socket write
	WriteTimeout time.Duration
	// ReadTimeout max duration between reads before the peer is considered gone
	ReadTimeout time.Duration
	// PingInterval duration between keep-alive pings
	PingInterval time.Duration
	// MaxMessageSize max accepted client payload in bytes
	MaxMessageSize int64
	// SendBufferLen depth of the outbound payload buffer
	SendBufferLen int
}

// DefaultConnectionOptions connection tuning defaults
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		WriteTimeout:   time.Second * 10,
		ReadTimeout:    time.Second * 90,
		PingInterval:   time.Second * 30,
		MaxMessageSize: 64 * 1024,
		SendBufferLen:  64,
	}
}

// wsConnection Connection over one gorilla websocket
type wsConnection struct {
	common.Component
	id               string
	conn             *ws.Conn
	options          ConnectionOptions
	sendChan         chan []byte
	operationContext context.Context
	contextCancel    context.CancelFunc
	attachment       []byte
	attachMutex      sync.RWMutex
	closed           bool
	stateMutex       sync.Mutex
}

// GetWebsocketConnection wrap an upgraded websocket as a Connection
func GetWebsocketConnection(
	ctxt context.Context, conn *ws.Conn, options ConnectionOptions,
) Connection {
	id := uuid.New().String()
	logTags := log.Fields{
		"module": "hub", "component": "connection", "instance": id,
	}
	operationContext, cancel := context.WithCancel(ctxt)
	return &wsConnection{
		Component:        common.Component{LogTags: logTags},
		id:               id,
		conn:             conn,
		options:          options,
		sendChan:         make(chan []byte, options.SendBufferLen),
		operationContext: operationContext,
		contextCancel:    cancel,
	}
}

// ID the connection's unique ID
func (c *wsConnection) ID() string {
	return c.id
}

// Send enqueue one payload for delivery
func (c *wsConnection) Send(payload []byte) error {
	if c.Closed() {
		return fmt.Errorf("connection %s is closed", c.id)
	}
	select {
	case c.sendChan <- payload:
		return nil
	case <-c.operationContext.Done():
		return fmt.Errorf("connection %s is closed", c.id)
	default:
		return fmt.Errorf("connection %s send buffer is full", c.id)
	}
}

// SendJSON marshal msg and enqueue it for delivery
func (c *wsConnection) SendJSON(msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

// Attachment fetch the serialized session blob riding on the connection
func (c *wsConnection) Attachment() []byte {
	c.attachMutex.RLock()
	defer c.attachMutex.RUnlock()
	return c.attachment
}

// SetAttachment replace the serialized session blob
func (c *wsConnection) SetAttachment(blob []byte) {
	c.attachMutex.Lock()
	defer c.attachMutex.Unlock()
	c.attachment = blob
}

// Closed whether the connection has been closed
func (c *wsConnection) Closed() bool {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	return c.closed
}

// Close close the connection with a close code and reason
func (c *wsConnection) Close(closeCode int, reason string) error {
	c.stateMutex.Lock()
	if c.closed {
		c.stateMutex.Unlock()
		return nil
	}
	c.closed = true
	c.stateMutex.Unlock()

	log.WithFields(c.LogTags).Debugf("Closing with code %d: %s", closeCode, reason)
	deadline := time.Now().Add(c.options.WriteTimeout)
	if err := c.conn.WriteControl(
		ws.CloseMessage, ws.FormatCloseMessage(closeCode, reason), deadline,
	); err != nil {
		log.WithError(err).WithFields(c.LogTags).Debug("Close control write failed")
	}
	c.contextCancel()
	return c.conn.Close()
}

// Serve run the connection's read loop until the peer goes away.
//
// onMessage is called for every client payload; onClose exactly once after
// the read loop exits. Blocks the calling goroutine; the write pump runs on
// its own goroutine for the same duration.
func (c *wsConnection) Serve(onMessage func(payload []byte), onClose func()) {
	go c.writePump()
	defer func() {
		_ = c.Close(ws.CloseNormalClosure, "connection closed")
		onClose()
	}()

	c.conn.SetReadLimit(c.options.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	})

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure) {
				log.WithError(err).WithFields(c.LogTags).Debug("Unexpected websocket close")
			}
			return
		}
		if msgType != ws.TextMessage && msgType != ws.BinaryMessage {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		onMessage(payload)
	}
}

// writePump drain the send buffer onto the socket, pinging on idle
func (c *wsConnection) writePump() {
	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.operationContext.Done():
			return
		case payload := <-c.sendChan:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(ws.TextMessage, payload); err != nil {
				log.WithError(err).WithFields(c.LogTags).Debug("Websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				log.WithError(err).WithFields(c.LogTags).Debug("Websocket ping failed")
				return
			}
		}
	}
}
