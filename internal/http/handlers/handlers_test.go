package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/queue"
	"github.com/tbourn/go-atendente/internal/repo"
	"github.com/tbourn/go-atendente/internal/services"
)

// ---------- helpers ----------

type testEnv struct {
	r  *gin.Engine
	db *gorm.DB
	q  queue.Queue
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("h_%d.db", time.Now().UnixNano())) + "?_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newEnv(t *testing.T, q queue.Queue) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	if q == nil {
		mq := queue.NewMemoryQueue(10 * time.Millisecond)
		t.Cleanup(func() { _ = mq.Close() })
		q = mq
	}

	h := New(
		services.NewIngestService(db, q),
		&services.AppointmentService{DB: db},
		&services.DashboardService{DB: db},
		&services.DeadLetterService{DB: db, Queue: q},
	)

	r := gin.New()
	r.POST("/webhook/whatsapp", h.ReceiveWhatsApp)
	r.POST("/appointments", h.CreateAppointment)
	r.GET("/appointments", h.ListAppointments)
	r.GET("/dashboard/conversations", h.ListConversations)
	r.GET("/dashboard/conversations/:id", h.GetConversation)
	r.GET("/dashboard/dead-letters", h.ListDeadLetters)
	r.POST("/dashboard/dead-letters/:id/requeue", h.RequeueDeadLetter)

	return &testEnv{r: r, db: db, q: q}
}

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *testEnv) inbound(from, body, sid string) *httptest.ResponseRecorder {
	form := url.Values{}
	if from != "" {
		form.Set("From", from)
	}
	form.Set("Body", body)
	if sid != "" {
		form.Set("MessageSid", sid)
	}
	return e.do(http.MethodPost, "/webhook/whatsapp", []byte(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
}

func (e *testEnv) depth(t *testing.T) int64 {
	t.Helper()
	n, err := e.q.Depth(context.Background())
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	return n
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
	return v
}

func wantCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d (body=%s)", w.Code, status, w.Body.String())
	}
	if code == "" {
		return
	}
	if er := decode[ErrorResponse](t, w); er.Code != code {
		t.Fatalf("code=%q want %q", er.Code, code)
	}
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(context.Context, queue.Job, time.Duration) error {
	return errors.New("queue down")
}
func (brokenQueue) Dequeue(context.Context) (*queue.Job, error) { return nil, nil }
func (brokenQueue) Ack(context.Context, queue.Job) error        { return nil }
func (brokenQueue) Depth(context.Context) (int64, error)        { return 0, nil }
func (brokenQueue) Close() error                                { return nil }

// ---------- webhook ----------

func TestReceiveWhatsApp_AcceptsAndDeduplicates(t *testing.T) {
	e := newEnv(t, nil)

	w := e.inbound("whatsapp:+5511999990000", "quero cortar o cabelo amanhã", "SM1")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(w.Body.String(), "<Response></Response>") {
		t.Fatalf("body=%s", w.Body.String())
	}
	if got := e.depth(t); got != 1 {
		t.Fatalf("depth=%d want 1", got)
	}

	// Provider redelivery of the same MessageSid.
	w = e.inbound("whatsapp:+5511999990000", "quero cortar o cabelo amanhã", "SM1")
	if w.Code != http.StatusOK {
		t.Fatalf("redelivery status=%d", w.Code)
	}
	if got := e.depth(t); got != 1 {
		t.Fatalf("redelivery enqueued again: depth=%d", got)
	}

	var n int64
	e.db.Model(&domain.Message{}).Count(&n)
	if n != 1 {
		t.Fatalf("messages=%d want 1", n)
	}
}

func TestReceiveWhatsApp_Rejections(t *testing.T) {
	e := newEnv(t, nil)

	wantCode(t, e.inbound("", "oi", "SM2"), http.StatusBadRequest, ErrCodeBadRequest)
	wantCode(t, e.inbound("whatsapp:+5511999990000", strings.Repeat("a", 5000), "SM3"),
		http.StatusRequestEntityTooLarge, ErrCodeTooLarge)

	// Media-only inbound: acknowledged, nothing stored.
	if w := e.inbound("whatsapp:+5511999990000", "   ", "SM4"); w.Code != http.StatusOK {
		t.Fatalf("empty body status=%d", w.Code)
	}
	if got := e.depth(t); got != 0 {
		t.Fatalf("depth=%d want 0", got)
	}
}

func TestReceiveWhatsApp_QueueFailureIs500(t *testing.T) {
	e := newEnv(t, brokenQueue{})
	wantCode(t, e.inbound("whatsapp:+5511999990000", "oi", "SM5"), http.StatusInternalServerError, ErrCodeIngestFailed)

	// No idempotency record, so the provider's retry is processed again.
	if _, err := repo.GetIdempotency(context.Background(), e.db, domain.ScopeWebhook, "SM5", time.Now()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("idempotency record written after failed enqueue: %v", err)
	}
}

// ---------- appointments ----------

func TestAppointments_CreateAndList(t *testing.T) {
	e := newEnv(t, nil)
	lead, err := repo.GetOrCreateLead(context.Background(), e.db, "whatsapp:+5511988887777")
	if err != nil {
		t.Fatalf("lead: %v", err)
	}

	start := time.Date(2025, 6, 6, 18, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(map[string]any{
		"lead_id":  lead.ID,
		"service":  "corte",
		"start_at": start,
		"end_at":   start.Add(30 * time.Minute),
		"status":   "confirmed",
	})
	w := e.do(http.MethodPost, "/appointments", body, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	a := decode[domain.Appointment](t, w)
	if a.ID == 0 || a.Service != "corte" || a.Status != domain.AppointmentConfirmed {
		t.Fatalf("unexpected appointment: %+v", a)
	}

	w = e.do(http.MethodGet, fmt.Sprintf("/appointments?lead_id=%d", lead.ID), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d", w.Code)
	}
	list := decode[ListAppointmentsResponse](t, w)
	if len(list.Appointments) != 1 || list.Pagination.Total != 1 || list.Pagination.HasNext {
		t.Fatalf("unexpected list: %+v", list)
	}

	w = e.do(http.MethodGet, "/appointments?lead_id=9999", nil, nil)
	if list := decode[ListAppointmentsResponse](t, w); len(list.Appointments) != 0 {
		t.Fatalf("expected empty list for other lead, got %d", len(list.Appointments))
	}
}

func TestAppointments_Errors(t *testing.T) {
	e := newEnv(t, nil)
	lead, _ := repo.GetOrCreateLead(context.Background(), e.db, "whatsapp:+5511988887777")
	start := time.Date(2025, 6, 6, 18, 0, 0, 0, time.UTC)
	jsonHdr := map[string]string{"Content-Type": "application/json"}

	mk := func(leadID uint, end time.Time, status string) []byte {
		b, _ := json.Marshal(map[string]any{
			"lead_id": leadID, "service": "corte", "start_at": start, "end_at": end, "status": status,
		})
		return b
	}

	cases := []struct {
		name   string
		body   []byte
		status int
		code   string
	}{
		{"malformed json", []byte(`{`), http.StatusBadRequest, ErrCodeBadRequest},
		{"missing fields", []byte(`{"service":"corte"}`), http.StatusBadRequest, ErrCodeBadRequest},
		{"end before start", mk(lead.ID, start.Add(-time.Minute), ""), http.StatusBadRequest, ErrCodeInvalidAppointment},
		{"unknown status", mk(lead.ID, start.Add(time.Hour), "maybe"), http.StatusBadRequest, ErrCodeInvalidAppointment},
		{"unknown lead", mk(lead.ID+100, start.Add(time.Hour), ""), http.StatusNotFound, ErrCodeLeadNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wantCode(t, e.do(http.MethodPost, "/appointments", tc.body, jsonHdr), tc.status, tc.code)
		})
	}

	wantCode(t, e.do(http.MethodGet, "/appointments?lead_id=abc", nil, nil), http.StatusBadRequest, ErrCodeBadRequest)
}

// ---------- dashboard ----------

func TestDashboard_ConversationsETag(t *testing.T) {
	e := newEnv(t, nil)
	if w := e.inbound("whatsapp:+5511999990000", "oi", "SM10"); w.Code != http.StatusOK {
		t.Fatalf("ingest status=%d", w.Code)
	}

	w := e.do(http.MethodGet, "/dashboard/conversations", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"conversations::1:`) {
		t.Fatalf("etag=%q", etag)
	}
	list := decode[ListConversationsResponse](t, w)
	if len(list.Conversations) != 1 || list.Conversations[0].Status != domain.ConversationOpen {
		t.Fatalf("unexpected list: %+v", list)
	}

	w = e.do(http.MethodGet, "/dashboard/conversations", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional status=%d", w.Code)
	}

	w = e.do(http.MethodGet, "/dashboard/conversations?status=closed", nil, nil)
	if list := decode[ListConversationsResponse](t, w); len(list.Conversations) != 0 {
		t.Fatalf("closed list should be empty, got %d", len(list.Conversations))
	}

	wantCode(t, e.do(http.MethodGet, "/dashboard/conversations?status=bogus", nil, nil), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestDashboard_ConversationThread(t *testing.T) {
	e := newEnv(t, nil)
	e.inbound("whatsapp:+5511999990000", "oi", "SM20")
	e.inbound("whatsapp:+5511999990000", "tem horário sexta?", "SM21")

	var conv domain.Conversation
	if err := e.db.First(&conv).Error; err != nil {
		t.Fatalf("conversation: %v", err)
	}
	path := fmt.Sprintf("/dashboard/conversations/%d", conv.ID)

	w := e.do(http.MethodGet, path, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	resp := decode[ConversationResponse](t, w)
	if resp.Conversation == nil || resp.Lead == nil || resp.Lead.Phone != "whatsapp:+5511999990000" {
		t.Fatalf("unexpected thread header: %+v", resp)
	}
	if len(resp.Messages) != 2 || resp.Messages[0].Content != "oi" {
		t.Fatalf("messages out of order: %+v", resp.Messages)
	}

	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, fmt.Sprintf(`W/"messages:%d:open:2:`, conv.ID)) {
		t.Fatalf("etag=%q", etag)
	}
	w = e.do(http.MethodGet, path, nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional status=%d", w.Code)
	}

	wantCode(t, e.do(http.MethodGet, "/dashboard/conversations/abc", nil, nil), http.StatusBadRequest, ErrCodeBadRequest)
	wantCode(t, e.do(http.MethodGet, "/dashboard/conversations/9999", nil, nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestDashboard_DeadLetters(t *testing.T) {
	e := newEnv(t, nil)
	dead := &services.DeadLetterService{DB: e.db, Queue: e.q}
	if err := dead.Record(context.Background(), queue.Job{ID: "job-1", ConversationID: 3, MessageID: 7, Attempt: 4}, errors.New("llm timeout")); err != nil {
		t.Fatalf("record: %v", err)
	}

	w := e.do(http.MethodGet, "/dashboard/dead-letters", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	list := decode[ListDeadLettersResponse](t, w)
	if len(list.DeadLetters) != 1 || list.DeadLetters[0].Attempts != 5 || list.DeadLetters[0].LastError != "llm timeout" {
		t.Fatalf("unexpected dead letters: %+v", list)
	}
	id := list.DeadLetters[0].ID

	w = e.do(http.MethodPost, fmt.Sprintf("/dashboard/dead-letters/%d/requeue", id), nil, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("requeue status=%d body=%s", w.Code, w.Body.String())
	}
	rr := decode[RequeueResponse](t, w)
	if rr.JobID == "" || rr.JobID == "job-1" || rr.ConversationID != 3 || rr.MessageID != 7 {
		t.Fatalf("unexpected requeue: %+v", rr)
	}
	if got := e.depth(t); got != 1 {
		t.Fatalf("depth=%d want 1", got)
	}

	// Already requeued.
	wantCode(t, e.do(http.MethodPost, fmt.Sprintf("/dashboard/dead-letters/%d/requeue", id), nil, nil), http.StatusNotFound, ErrCodeNotFound)
	wantCode(t, e.do(http.MethodPost, "/dashboard/dead-letters/0/requeue", nil, nil), http.StatusBadRequest, ErrCodeBadRequest)

	w = e.do(http.MethodGet, "/dashboard/dead-letters", nil, nil)
	if list := decode[ListDeadLettersResponse](t, w); len(list.DeadLetters) != 0 {
		t.Fatalf("requeued dead letter still listed: %+v", list)
	}
}
