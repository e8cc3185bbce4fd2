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

	"github.com/go-playground/validator/v10"
)

// EventType tag discriminating broadcast event variants
type EventType string

// Broadcast event variants
const (
	EventTypePrinterStatus  EventType = "printer_status"
	EventTypeJobUpdate      EventType = "job_update"
	EventTypeHubStatus      EventType = "hub_status"
	EventTypeInventoryAlert EventType = "inventory_alert"
	EventTypeNewOrder       EventType = "new_order"
)

// BroadcastEvent one typed notification fanned out to matching connections.
//
// The set of variants is closed. Each variant carries its own routing
// predicate, evaluated against one authenticated session's subscription set.
type BroadcastEvent interface {
	// EventType the variant tag
	EventType() EventType
	// MatchesSubscription whether a session with this subscription set
	// should receive the event. An empty set means "receive everything".
	MatchesSubscription(subscribedPrinters map[string]bool) bool
}

// PrinterStatusEvent printer state change notification
type PrinterStatusEvent struct {
	Type                 EventType `json:"type"`
	PrinterID            string    `json:"printer_id" validate:"required"`
	Status               string    `json:"status" validate:"required"`
	ProgressPercentage   *float64  `json:"progress_percentage,omitempty"`
	RemainingTimeSeconds *int64    `json:"remaining_time_seconds,omitempty"`
}

// EventType the variant tag
func (e PrinterStatusEvent) EventType() EventType { return EventTypePrinterStatus }

// MatchesSubscription empty set, or the event's printer is subscribed
func (e PrinterStatusEvent) MatchesSubscription(subscribedPrinters map[string]bool) bool {
	return len(subscribedPrinters) == 0 || subscribedPrinters[e.PrinterID]
}

// JobUpdateEvent print job state change notification
type JobUpdateEvent struct {
	Type               EventType `json:"type"`
	JobID              string    `json:"job_id" validate:"required"`
	Status             string    `json:"status" validate:"required"`
	ProgressPercentage *float64  `json:"progress_percentage,omitempty"`
	PrinterID          *string   `json:"printer_id,omitempty"`
}

// EventType the variant tag
func (e JobUpdateEvent) EventType() EventType { return EventTypeJobUpdate }

// MatchesSubscription empty set, subscribed printer, or job not yet assigned
// to any printer. Unassigned jobs go to everyone regardless of subscription.
func (e JobUpdateEvent) MatchesSubscription(subscribedPrinters map[string]bool) bool {
	if len(subscribedPrinters) == 0 || e.PrinterID == nil {
		return true
	}
	return subscribedPrinters[*e.PrinterID]
}

// HubStatusEvent print hub connectivity change notification
type HubStatusEvent struct {
	Type     EventType `json:"type"`
	HubID    string    `json:"hub_id" validate:"required"`
	IsOnline bool      `json:"is_online"`
}

// EventType the variant tag
func (e HubStatusEvent) EventType() EventType { return EventTypeHubStatus }

// MatchesSubscription always matches an authenticated session
func (e HubStatusEvent) MatchesSubscription(_ map[string]bool) bool { return true }

// InventoryAlertEvent stock threshold breach notification
type InventoryAlertEvent struct {
	Type         EventType `json:"type"`
	SKUID        string    `json:"sku_id" validate:"required"`
	SKU          string    `json:"sku" validate:"required"`
	CurrentStock int       `json:"current_stock"`
	Threshold    int       `json:"threshold"`
}

// EventType the variant tag
func (e InventoryAlertEvent) EventType() EventType { return EventTypeInventoryAlert }

// MatchesSubscription always matches an authenticated session
func (e InventoryAlertEvent) MatchesSubscription(_ map[string]bool) bool { return true }

// NewOrderEvent newly ingested sales order notification
type NewOrderEvent struct {
	Type        EventType `json:"type"`
	OrderID     string    `json:"order_id" validate:"required"`
	OrderNumber string    `json:"order_number" validate:"required"`
	Platform    string    `json:"platform" validate:"required"`
	TotalItems  int       `json:"total_items"`
}

// EventType the variant tag
func (e NewOrderEvent) EventType() EventType { return EventTypeNewOrder }

// MatchesSubscription always matches an authenticated session
func (e NewOrderEvent) MatchesSubscription(_ map[string]bool) bool { return true }

// ParseBroadcastEvent parse and validate one broadcast event body.
//
// Rejects unknown event types and events missing required fields before any
// connection is touched.
func ParseBroadcastEvent(
	payload []byte, validate *validator.Validate,
) (BroadcastEvent, error) {
	var probe struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("malformed broadcast event: %w", err)
	}
	var event BroadcastEvent
	switch probe.Type {
	case EventTypePrinterStatus:
		parsed := PrinterStatusEvent{}
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("malformed %s event: %w", probe.Type, err)
		}
		parsed.Type = EventTypePrinterStatus
		event = parsed
	case EventTypeJobUpdate:
		parsed := JobUpdateEvent{}
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("malformed %s event: %w", probe.Type, err)
		}
		parsed.Type = EventTypeJobUpdate
		event = parsed
	case EventTypeHubStatus:
		parsed := HubStatusEvent{}
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("malformed %s event: %w", probe.Type, err)
		}
		parsed.Type = EventTypeHubStatus
		event = parsed
	case EventTypeInventoryAlert:
		parsed := InventoryAlertEvent{}
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("malformed %s event: %w", probe.Type, err)
		}
		parsed.Type = EventTypeInventoryAlert
		event = parsed
	case EventTypeNewOrder:
		parsed := NewOrderEvent{}
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("malformed %s event: %w", probe.Type, err)
		}
		parsed.Type = EventTypeNewOrder
		event = parsed
	default:
		return nil, fmt.Errorf("unknown broadcast event type '%s'", probe.Type)
	}
	if err := validate.Struct(event); err != nil {
		return nil, fmt.Errorf("invalid %s event: %w", probe.Type, err)
	}
	return event, nil
}
