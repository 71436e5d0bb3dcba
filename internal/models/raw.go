package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// RawTicket is a ticket as handed over by a producer that does not share our
// types: API payloads, outbox rows, kiosk state. Every field is optional and
// loosely typed. queue.Sanitize is the only consumer.
type RawTicket struct {
	ID               any
	Number           any
	ServiceID        any
	OperatorID       any
	ClientID         any
	Status           any
	Priority         any
	CreatedAt        any
	CalledAt         any
	StartedAt        any
	ServiceStartedAt any
	CompletedAt      any
	RequeuedAt       any
	AbsentAt         any
}

// rawKeys maps a normalised key (lower case, no separators) to the field it fills.
// The first alias listed for a field wins when a payload carries several.
var rawKeys = []struct {
	aliases []string
	set     func(r *RawTicket, v any)
}{
	{[]string{"id", "ticketid"}, func(r *RawTicket, v any) { r.ID = v }},
	{[]string{"number", "ticketnumber"}, func(r *RawTicket, v any) { r.Number = v }},
	{[]string{"serviceid"}, func(r *RawTicket, v any) { r.ServiceID = v }},
	{[]string{"operatorid", "counterid"}, func(r *RawTicket, v any) { r.OperatorID = v }},
	{[]string{"clientid"}, func(r *RawTicket, v any) { r.ClientID = v }},
	{[]string{"status", "state"}, func(r *RawTicket, v any) { r.Status = v }},
	{[]string{"priority", "prioritylevel"}, func(r *RawTicket, v any) { r.Priority = v }},
	{[]string{"createdat"}, func(r *RawTicket, v any) { r.CreatedAt = v }},
	{[]string{"calledat"}, func(r *RawTicket, v any) { r.CalledAt = v }},
	{[]string{"startedat"}, func(r *RawTicket, v any) { r.StartedAt = v }},
	{[]string{"servicestartedat", "servedat", "servicestart"}, func(r *RawTicket, v any) { r.ServiceStartedAt = v }},
	{[]string{"completedat"}, func(r *RawTicket, v any) { r.CompletedAt = v }},
	{[]string{"requeuedat"}, func(r *RawTicket, v any) { r.RequeuedAt = v }},
	{[]string{"absentat", "noshowat"}, func(r *RawTicket, v any) { r.AbsentAt = v }},
}

func (r *RawTicket) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return err
	}
	normalized := make(map[string]any, len(fields))
	for key, value := range fields {
		k := normalizeKey(key)
		if _, exists := normalized[k]; !exists {
			normalized[k] = value
		}
	}
	*r = RawTicket{}
	for _, entry := range rawKeys {
		for _, alias := range entry.aliases {
			if value, ok := normalized[alias]; ok && value != nil {
				entry.set(r, value)
				break
			}
		}
	}
	return nil
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

// RawFromTicket wraps an already typed ticket so it can go through the same
// sanitizing path as untyped input.
func RawFromTicket(t Ticket) RawTicket {
	return RawTicket{
		ID:               t.ID,
		Number:           t.Number,
		ServiceID:        t.ServiceID,
		OperatorID:       t.OperatorID,
		ClientID:         t.ClientID,
		Status:           string(t.Status),
		Priority:         t.Priority,
		CreatedAt:        t.CreatedAt,
		CalledAt:         timeOrNil(t.CalledAt),
		StartedAt:        timeOrNil(t.StartedAt),
		ServiceStartedAt: timeOrNil(t.ServiceStartedAt),
		CompletedAt:      timeOrNil(t.CompletedAt),
		RequeuedAt:       timeOrNil(t.RequeuedAt),
		AbsentAt:         timeOrNil(t.AbsentAt),
	}
}

func timeOrNil(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}
