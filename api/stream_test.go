package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readEvents forwards every "dashboard" event of an SSE body.
func readEvents(t *testing.T, resp *http.Response) <-chan DashboardDTO {
	t.Helper()
	events := make(chan DashboardDTO, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		event := ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "dashboard":
				var dto DashboardDTO
				if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &dto) == nil {
					events <- dto
				}
			}
		}
	}()
	return events
}

func waitFor(t *testing.T, events <-chan DashboardDTO, match func(DashboardDTO) bool) DashboardDTO {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case dto, ok := <-events:
			require.True(t, ok, "stream closed early")
			if match(dto) {
				return dto
			}
		case <-timeout:
			t.Fatal("timed out waiting for a dashboard event")
			return DashboardDTO{}
		}
	}
}

func TestStreamInvoice_PushesSnapshotsAfterCommits(t *testing.T) {
	// GIVEN: a household with a card and a live stream of the March invoice
	s := newTestServer(t)
	token := s.signIn("ana", "Ana")
	card := s.createCard(token, "Nubank", 5, 10)

	server := httptest.NewServer(s.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		server.URL+"/api/invoices/2024/3/stream?access_token="+token, nil)
	require.NoError(t, err)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	first := waitFor(t, events, func(DashboardDTO) bool { return true })
	assert.Equal(t, "0.00", first.MonthTotal)

	// WHEN: a purchase lands in March
	s.createPurchase(token, card.ID, "250.00", "2024-03-01", "single", 1)

	// THEN: the stream pushes the new totals
	got := waitFor(t, events, func(d DashboardDTO) bool { return d.MonthTotal == "250.00" })
	assert.Equal(t, "2024-03", got.Month)
	assert.Equal(t, "4750.00", waitForAvailable(t, events, got))
}

// waitForAvailable returns the available credit once the card reload has
// also reached the stream.
func waitForAvailable(t *testing.T, events <-chan DashboardDTO, last DashboardDTO) string {
	t.Helper()
	if last.AvailableCredit == "4750.00" {
		return last.AvailableCredit
	}
	return waitFor(t, events, func(d DashboardDTO) bool { return d.AvailableCredit == "4750.00" }).AvailableCredit
}

func TestStreamInvoice_Rejections(t *testing.T) {
	s := newTestServer(t)
	token := s.signIn("ana", "Ana")

	rec := s.do(http.MethodGet, "/api/invoices/2024/13/stream", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/invoices/2024/3/stream", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
