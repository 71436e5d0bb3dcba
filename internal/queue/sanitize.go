package queue

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"qms/display-service/internal/metrics"
	"qms/display-service/internal/models"

	"github.com/rs/zerolog/log"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// statusAliases maps the status words the ticket service writes onto the
// display's statuses. A held ticket is parked outside the line until it is
// released, so it is shown in no bucket.
var statusAliases = map[string]models.Status{
	"SERVING":  models.StatusInProgress,
	"DONE":     models.StatusCompleted,
	"NO_SHOW":  models.StatusAbsent,
	"NOSHOW":   models.StatusAbsent,
	"HELD":     models.StatusCancelled,
	"CANCELED": models.StatusCancelled,
}

// Sanitize turns a raw record into a canonical ticket. It never fails on dirty
// data; ok is false only when the record carries no usable id.
func Sanitize(raw models.RawTicket) (models.Ticket, bool) {
	id, ok := parseID(raw.ID)
	ticket := models.Ticket{
		ID:               id,
		Number:           parseString(raw.Number),
		ServiceID:        parseString(raw.ServiceID),
		OperatorID:       parseString(raw.OperatorID),
		ClientID:         parseString(raw.ClientID),
		Status:           sanitizeStatus(id, raw.Status),
		Priority:         NormalizePriorityLevel(raw.Priority),
		CalledAt:         parseTime(raw.CalledAt),
		StartedAt:        parseTime(raw.StartedAt),
		ServiceStartedAt: parseTime(raw.ServiceStartedAt),
		CompletedAt:      parseTime(raw.CompletedAt),
		RequeuedAt:       parseTime(raw.RequeuedAt),
		AbsentAt:         parseTime(raw.AbsentAt),
	}
	if createdAt := parseTime(raw.CreatedAt); createdAt != nil {
		ticket.CreatedAt = *createdAt
	}
	return ticket, ok
}

func sanitizeStatus(id int64, value any) models.Status {
	text := strings.ToUpper(strings.TrimSpace(parseString(value)))
	if text == "" {
		metrics.TrackStatusFallback("empty")
		log.Debug().Int64("ticket_id", id).Msg("ticket has no status, treating as WAITING")
		return models.StatusWaiting
	}
	text = strings.ReplaceAll(text, "-", "_")
	if alias, ok := statusAliases[text]; ok {
		return alias
	}
	status, ok := models.ParseStatus(text)
	if !ok {
		metrics.TrackStatusFallback("unknown")
		log.Warn().Int64("ticket_id", id).Str("status", text).Msg("unknown ticket status, treating as WAITING")
		return models.StatusWaiting
	}
	return status
}

func parseID(value any) (int64, bool) {
	var id int64
	switch v := value.(type) {
	case int:
		id = int64(v)
	case int32:
		id = int64(v)
	case int64:
		id = v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, false
		}
		id = int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		id = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		id = parsed
	default:
		return 0, false
	}
	if id <= 0 {
		return 0, false
	}
	return id, true
}

func parseString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case *string:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// parseTime accepts strings in the layouts above (zoneless ones read as local
// time), time values and unix milliseconds. Anything else, including zero
// times, yields nil.
func parseTime(value any) *time.Time {
	var parsed time.Time
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		parsed = v
	case *time.Time:
		if v == nil {
			return nil
		}
		parsed = *v
	case string:
		parsed = parseTimeString(v)
	case json.Number:
		millis, err := v.Int64()
		if err != nil {
			return nil
		}
		parsed = time.UnixMilli(millis)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		parsed = time.UnixMilli(int64(v))
	case int64:
		parsed = time.UnixMilli(v)
	default:
		return nil
	}
	if parsed.IsZero() {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
