package availability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/tbourn/go-atendente/internal/domain"
)

type fakeGoogle struct {
	busy    []map[string]string
	inserts int32
	failIns bool
}

func (f *fakeGoogle) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/freeBusy"):
			var req calendar.FreeBusyRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			min, _ := time.Parse(time.RFC3339, req.TimeMin)
			max, _ := time.Parse(time.RFC3339, req.TimeMax)
			var busy []map[string]string
			for _, b := range f.busy {
				s, _ := time.Parse(time.RFC3339, b["start"])
				e, _ := time.Parse(time.RFC3339, b["end"])
				if s.Before(max) && min.Before(e) {
					busy = append(busy, b)
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"kind":      "calendar#freeBusy",
				"calendars": map[string]any{"salon@example.com": map[string]any{"busy": busy}},
			})
		case strings.HasSuffix(r.URL.Path, "/events") && r.Method == http.MethodPost:
			atomic.AddInt32(&f.inserts, 1)
			if f.failIns {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":{"code":403,"message":"forbidden"}}`))
				return
			}
			var ev calendar.Event
			_ = json.NewDecoder(r.Body).Decode(&ev)
			assert.Equal(t, "corte - Ana", ev.Summary)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "evt-1", "summary": ev.Summary})
		default:
			http.NotFound(w, r)
		}
	})
}

func newFakeCalendar(t *testing.T, f *fakeGoogle) *GoogleCalendar {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	g, err := NewGoogleCalendar(context.Background(), "", "salon@example.com", DefaultHours(time.UTC),
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication(), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	g.Now = func() time.Time { return past }
	return g
}

func TestGoogleCalendar_ListSlotsSkipsBusy(t *testing.T) {
	f := &fakeGoogle{busy: []map[string]string{{"start": "2025-06-06T15:00:00Z", "end": "2025-06-06T16:00:00Z"}}}
	g := newFakeCalendar(t, f)

	slots, err := g.ListSlots(context.Background(), domain.Criteria{Date: "2025-06-06", Time: "15:00", Duration: 30 * time.Minute})
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, at(16, 0), slots[0].Start)
}

func TestGoogleCalendar_ReserveInsertsEvent(t *testing.T) {
	f := &fakeGoogle{}
	g := newFakeCalendar(t, f)
	name := "Ana"

	conf, err := g.Reserve(context.Background(), domain.Slot{Start: at(15, 0), End: at(15, 30)},
		domain.Lead{Phone: "whatsapp:+55", Name: &name}, domain.Criteria{Service: "corte"})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", conf.ExternalRef)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.inserts))
}

func TestGoogleCalendar_ReserveLostRace(t *testing.T) {
	f := &fakeGoogle{busy: []map[string]string{{"start": "2025-06-06T15:00:00Z", "end": "2025-06-06T15:30:00Z"}}}
	g := newFakeCalendar(t, f)

	_, err := g.Reserve(context.Background(), domain.Slot{Start: at(15, 0), End: at(15, 30)}, domain.Lead{Phone: "p"}, domain.Criteria{Service: "corte"})
	assert.True(t, errors.Is(err, ErrReservationFailed))
	assert.EqualValues(t, 0, atomic.LoadInt32(&f.inserts))
}

func TestGoogleCalendar_InsertRefused(t *testing.T) {
	f := &fakeGoogle{failIns: true}
	g := newFakeCalendar(t, f)

	_, err := g.Reserve(context.Background(), domain.Slot{Start: at(15, 0), End: at(15, 30)}, domain.Lead{Phone: "p"}, domain.Criteria{Service: "corte"})
	assert.True(t, errors.Is(err, ErrReservationFailed))
}

var _ Calendar = (*GoogleCalendar)(nil)
