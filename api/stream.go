package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/card-engine/billing"
)

// =============================================================================
// LIVE DASHBOARD STREAM (Server-Sent Events)
// =============================================================================

// streamKeepAlive is how often a comment line is written to keep proxies
// from closing an idle stream.
const streamKeepAlive = 25 * time.Second

// StreamInvoice pushes a dashboard snapshot for the month whenever the
// household's cards or the month's installments change. Slow clients only
// ever see the latest snapshot.
// GET /api/invoices/{year}/{month}/stream
func (h *Handler) StreamInvoice(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonth(chi.URLParam(r, "year"), chi.URLParam(r, "month"))
	if err != nil {
		writeBillingError(w, "Invalid invoice month", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	ctx := r.Context()
	updates := make(chan DashboardDTO, 1)
	failures := make(chan error, 1)

	sub, err := h.Aggregator.WatchDashboard(ctx, actor(r), month, func(view billing.DashboardView, err error) {
		if err != nil {
			select {
			case failures <- err:
			default:
			}
			return
		}
		dto := toDashboardDTO(view)
		// Replace an undelivered snapshot with the newer one.
		for {
			select {
			case updates <- dto:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		writeBillingError(w, "Failed to watch invoice", err)
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case dto := <-updates:
			if err := writeEvent(w, "dashboard", dto); err != nil {
				return
			}
			flusher.Flush()
		case err := <-failures:
			h.logger.WarnContext(ctx, "invoice stream failed", "month", month.String(), "error", err)
			writeEvent(w, "error", ErrorResponse{Error: "Live update failed", Details: err.Error()})
			flusher.Flush()
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
