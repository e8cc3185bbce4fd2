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
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// mockConnection in-memory Connection test double. The hub instance and its
// supervision timer touch the connection from their own goroutines, so all
// mutable state is guarded.
type mockConnection struct {
	id         string
	lclMutex   sync.Mutex
	sent       [][]byte
	attachment []byte
	closed     bool
	closeCode  int
	failSend   bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{id: uuid.New().String()}
}

func (c *mockConnection) ID() string {
	return c.id
}

func (c *mockConnection) Send(payload []byte) error {
	c.lclMutex.Lock()
	defer c.lclMutex.Unlock()
	if c.failSend {
		return fmt.Errorf("simulated write failure")
	}
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *mockConnection) SendJSON(msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Send(payload)
}

func (c *mockConnection) Attachment() []byte {
	c.lclMutex.Lock()
	defer c.lclMutex.Unlock()
	return c.attachment
}

func (c *mockConnection) SetAttachment(blob []byte) {
	c.lclMutex.Lock()
	defer c.lclMutex.Unlock()
	c.attachment = blob
}

func (c *mockConnection) Close(closeCode int, _ string) error {
	c.lclMutex.Lock()
	defer c.lclMutex.Unlock()
	c.closed = true
	c.closeCode = closeCode
	return nil
}

func (c *mockConnection) Closed() bool {
	c.lclMutex.Lock()
	defer c.lclMutex.Unlock()
	return c.closed
}

func (c *mockConnection) Serve(_ func(payload []byte), _ func()) {}

// sentCount number of messages written to the connection
func (c *mockConnection) sentCount() int {
	c.lclMutex.Lock()
	defer c.lclMutex.Unlock()
	return len(c.sent)
}

// sentPayloads snapshot of everything written to the connection
func (c *mockConnection) sentPayloads() [][]byte {
	c.lclMutex.Lock()
	defer c.lclMutex.Unlock()
	buf := make([][]byte, len(c.sent))
	copy(buf, c.sent)
	return buf
}

// closedCode close code recorded by Close
func (c *mockConnection) closedCode() int {
	c.lclMutex.Lock()
	defer c.lclMutex.Unlock()
	return c.closeCode
}

// lastSent decode the most recent message written to the connection
func (c *mockConnection) lastSent() map[string]interface{} {
	c.lclMutex.Lock()
	defer c.lclMutex.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(c.sent[len(c.sent)-1], &parsed); err != nil {
		return nil
	}
	return parsed
}
