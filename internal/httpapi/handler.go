package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"qms/display-service/internal/board"
	"qms/display-service/internal/estimator"
	"qms/display-service/internal/models"
	"qms/display-service/internal/queue"
	"qms/display-service/internal/store"

	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// Board is the part of board.Board the API serves from.
type Board interface {
	Snapshot(serviceID string) (queue.Snapshot, bool)
	Refresh(ctx context.Context, serviceID string) (queue.Snapshot, error)
	RefreshAll(ctx context.Context) error
	Apply(ctx context.Context, raw models.RawTicket) (queue.Snapshot, error)
	EstimateTicket(ctx context.Context, serviceID string, ticketID int64) (board.Estimate, error)
	EstimateNew(ctx context.Context, serviceID, clientType string) (board.Estimate, error)
}

type StatsReader interface {
	Stats(ctx context.Context, serviceID string) (estimator.HistoricalStat, bool, error)
}

type Handler struct {
	board Board
	stats StatsReader
}

type snapshotResponse struct {
	ServiceID string `json:"service_id"`
	queue.Snapshot
}

type applyResponse struct {
	Applied  int         `json:"applied"`
	Rejected []rejection `json:"rejected"`
}

type rejection struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(board Board, stats StatsReader) *Handler {
	return &Handler{board: board, stats: stats}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/estimate", h.handleEstimate)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/tickets/events", h.handleTicketEvents)
	mux.HandleFunc("/api/refresh", h.handleRefresh)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromRequest(r)
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if serviceID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "service_id is required")
		return
	}

	snap, ok := h.board.Snapshot(serviceID)
	if !ok {
		var err error
		snap, err = h.board.Refresh(r.Context(), serviceID)
		if err != nil {
			h.fail(w, requestID, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, snapshotResponse{ServiceID: serviceID, Snapshot: snap})
}

func (h *Handler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromRequest(r)
	query := r.URL.Query()
	serviceID := strings.TrimSpace(query.Get("service_id"))
	if serviceID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "service_id is required")
		return
	}

	var (
		estimate board.Estimate
		err      error
	)
	if raw := strings.TrimSpace(query.Get("ticket_id")); raw != "" {
		ticketID, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || ticketID <= 0 {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "ticket_id must be a positive integer")
			return
		}
		estimate, err = h.board.EstimateTicket(r.Context(), serviceID, ticketID)
	} else {
		clientType := strings.ToLower(strings.TrimSpace(query.Get("client_type")))
		if !isValidClientType(clientType) {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "client_type must be regular, vip or new")
			return
		}
		estimate, err = h.board.EstimateNew(r.Context(), serviceID, clientType)
	}
	if err != nil {
		h.fail(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromRequest(r)
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if serviceID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "service_id is required")
		return
	}
	stat, found, err := h.stats.Stats(r.Context(), serviceID)
	if err != nil {
		h.fail(w, requestID, err)
		return
	}
	if !found {
		writeError(w, requestID, http.StatusNotFound, "stats_not_found", "no completed tickets recorded for this service")
		return
	}
	writeJSON(w, http.StatusOK, stat)
}

// handleTicketEvents accepts one ticket object or an array of them. A single
// ticket answers with its service's new snapshot; a batch reports which
// entries were rejected.
func (h *Handler) handleTicketEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromRequest(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, requestID, http.StatusRequestEntityTooLarge, "payload_too_large", "payload exceeds 1 MiB")
		return
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		var raws []models.RawTicket
		if err := json.Unmarshal(body, &raws); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		resp := applyResponse{Rejected: []rejection{}}
		for i, raw := range raws {
			if _, err := h.board.Apply(r.Context(), raw); err != nil {
				_, code, message := mapError(err)
				resp.Rejected = append(resp.Rejected, rejection{Index: i, Code: code, Message: message})
				continue
			}
			resp.Applied++
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var raw models.RawTicket
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	snap, err := h.board.Apply(r.Context(), raw)
	if err != nil {
		h.fail(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{ServiceID: serviceIDOf(raw), Snapshot: snap})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromRequest(r)
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if serviceID == "" {
		if err := h.board.RefreshAll(r.Context()); err != nil {
			h.fail(w, requestID, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	snap, err := h.board.Refresh(r.Context(), serviceID)
	if err != nil {
		h.fail(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{ServiceID: serviceID, Snapshot: snap})
}

func (h *Handler) fail(w http.ResponseWriter, requestID string, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", requestID).Msg("request failed")
	}
	writeError(w, requestID, status, code, message)
}

func serviceIDOf(raw models.RawTicket) string {
	switch v := raw.ServiceID.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

func isValidClientType(value string) bool {
	switch value {
	case "", models.ClientRegular, models.ClientVIP, models.ClientNew:
		return true
	default:
		return false
	}
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrMissingTicketID):
		return http.StatusBadRequest, "invalid_ticket", "ticket id is required"
	case errors.Is(err, board.ErrMissingServiceID):
		return http.StatusBadRequest, "invalid_ticket", "ticket service_id is required"
	case errors.Is(err, board.ErrTicketNotWaiting):
		return http.StatusConflict, "ticket_not_waiting", "ticket is not in the waiting line"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout", "upstream timed out"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
