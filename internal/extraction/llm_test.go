package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-atendente/internal/domain"
)

type fakeCompleter struct {
	out    string
	err    error
	block  bool
	system string
	user   string
	calls  int32
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.system, f.user = system, user
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.out, f.err
}

func fixedNow() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) }

func TestLLMAnalyzer_Success_PromptCarriesDateAndHistory(t *testing.T) {
	fc := &fakeCompleter{out: `{"service":"corte","preferred_date":"2025-06-06","preferred_time":"15:00","missing_slots":[],"confidence":90}`}
	a := NewLLMAnalyzer(fc, time.Second, time.UTC)
	a.Now = fixedNow

	res, err := a.Analyze(context.Background(), Request{
		Text:    "sexta às 15h",
		History: []string{"quero um corte"},
	})
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Contains(t, fc.system, "2025-06-02 (segunda-feira)")
	assert.Contains(t, fc.user, "- quero um corte")
	assert.True(t, strings.HasSuffix(fc.user, "sexta às 15h"))
}

func TestLLMAnalyzer_Timeout_IsUnavailable(t *testing.T) {
	fc := &fakeCompleter{block: true}
	a := NewLLMAnalyzer(fc, 20*time.Millisecond, nil)

	start := time.Now()
	_, err := a.Analyze(context.Background(), Request{Text: "oi"})
	assert.True(t, IsUnavailable(err), "got %v", err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestLLMAnalyzer_UpstreamErrorAndGarbage(t *testing.T) {
	a := NewLLMAnalyzer(&fakeCompleter{err: errors.New("502")}, time.Second, nil)
	_, err := a.Analyze(context.Background(), Request{Text: "oi"})
	assert.True(t, IsUnavailable(err))

	a = NewLLMAnalyzer(&fakeCompleter{out: "???"}, time.Second, nil)
	_, err = a.Analyze(context.Background(), Request{Text: "oi"})
	assert.True(t, IsMalformed(err))

	a = NewLLMAnalyzer(&fakeCompleter{err: errNoChoices}, time.Second, nil)
	_, err = a.Analyze(context.Background(), Request{Text: "oi"})
	assert.True(t, IsMalformed(err))
}

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1717000000,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func TestOpenAIClient_AgainstFakeServer(t *testing.T) {
	var gotAuth, gotTitle string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatCompletion(`{"missing_slots":["service"],"confidence":40}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(ClientConfig{
		BaseURL:     srv.URL + "/",
		APIKey:      "sk-test",
		Model:       "test-model",
		Temperature: 0.3,
		Title:       "atendente",
	})
	a := NewLLMAnalyzer(c, 5*time.Second, nil)

	res, err := a.Analyze(context.Background(), Request{Text: "Oi"})
	require.NoError(t, err)
	next, ok := res.NextMissing()
	assert.True(t, ok)
	assert.Equal(t, domain.SlotService, next)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "atendente", gotTitle)
	assert.Equal(t, "test-model", gotBody["model"])
}

func TestOpenAIClient_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"down"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOpenAIClient(ClientConfig{BaseURL: srv.URL + "/", APIKey: "k", Model: "m"})
	_, err := NewLLMAnalyzer(c, 5*time.Second, nil).Analyze(context.Background(), Request{Text: "oi"})
	assert.True(t, IsUnavailable(err), "got %v", err)
}
