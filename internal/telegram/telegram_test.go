package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []map[string]interface{}
	answers []map[string]interface{}
	updates string
	served  bool
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var payload map[string]interface{}
	_ = json.Unmarshal(body, &payload)
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.sent = append(f.sent, payload)
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	case strings.HasSuffix(r.URL.Path, "/answerCallbackQuery"):
		f.answers = append(f.answers, payload)
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		if f.served {
			_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
			return
		}
		f.served = true
		_, _ = io.WriteString(w, f.updates)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func (f *fakeAPI) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m["text"].(string))
	}
	return out
}

type recordingHandler struct {
	mu        sync.Mutex
	commands  []string
	callbacks []string
}

func (h *recordingHandler) HandleCommand(ctx context.Context, text string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, text)
	return "ok " + text
}

func (h *recordingHandler) HandleCallback(ctx context.Context, data string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, data)
	return "thanks"
}

func TestNew_MissingCredentialsIsNoop(t *testing.T) {
	b, err := New(Options{})
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, b.Send(context.Background(), "hello"))

	_, err = New(Options{Token: "t", ChatID: "abc"})
	assert.Error(t, err)
}

func TestSendWithButtons(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	b, err := New(Options{Token: "T", ChatID: "42", BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, b.SendWithButtons(context.Background(), "pick", []Button{{Text: "👍", CallbackData: "fb:d1:GOOD"}}))

	require.Len(t, api.sent, 1)
	assert.EqualValues(t, 42, api.sent[0]["chat_id"])
	markup := api.sent[0]["reply_markup"].(map[string]interface{})
	rows := markup["inline_keyboard"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "fb:d1:GOOD", rows[0].([]interface{})[0].(map[string]interface{})["callback_data"])
}

func TestCall_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	b, err := New(Options{Token: "T", ChatID: "42", BaseURL: srv.URL})
	require.NoError(t, err)
	err = b.Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestListen_DispatchesAuthorisedUpdatesOnly(t *testing.T) {
	api := &fakeAPI{updates: `{"ok":true,"result":[
		{"update_id":1,"message":{"text":"/status","chat":{"id":42},"from":{"username":"me"}}},
		{"update_id":2,"message":{"text":"/stop","chat":{"id":7},"from":{"username":"intruder"}}},
		{"update_id":3,"message":{"text":"just chatting","chat":{"id":42}}},
		{"update_id":4,"callback_query":{"id":"cb1","data":"fb:d1:GOOD","message":{"chat":{"id":42}}}}
	]}`}
	srv := httptest.NewServer(api)
	defer srv.Close()

	b, err := New(Options{Token: "T", ChatID: "42", BaseURL: srv.URL})
	require.NoError(t, err)

	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Listen(ctx, h)
		close(done)
	}()

	require.Eventually(t, func() bool {
		for _, s := range api.sentTexts() {
			if s == "thanks" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"/status"}, h.commands)
	assert.Equal(t, []string{"fb:d1:GOOD"}, h.callbacks)
	assert.Contains(t, api.sentTexts(), "ok /status")
	assert.Contains(t, api.sentTexts(), "thanks")
	api.mu.Lock()
	require.Len(t, api.answers, 1)
	assert.Equal(t, "cb1", api.answers[0]["callback_query_id"])
	api.mu.Unlock()
}
