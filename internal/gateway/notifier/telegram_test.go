package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTelegram(apiBase string) *Telegram {
	tg := NewTelegram("token-1", "chat-1")
	tg.apiBase = apiBase
	tg.retryWait = 0
	return tg
}

func TestSendTextPostsMarkdownPayload(t *testing.T) {
	var got sendMessageReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/bottoken-1/sendMessage")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	require.NoError(t, newTestTelegram(srv.URL).SendText("*测试消息*"))
	assert.Equal(t, "chat-1", got.ChatID)
	assert.Equal(t, "*测试消息*", got.Text)
	assert.Equal(t, "Markdown", got.ParseMode)
}

func TestSendTextRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	require.NoError(t, newTestTelegram(srv.URL).SendText("重试"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendTextGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestTelegram(srv.URL).SendText("失败")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(sendRetries), calls.Load())
}

func TestSendTextRequiresConfig(t *testing.T) {
	assert.Error(t, NewTelegram("", "chat-1").SendText("x"))
	assert.Error(t, NewTelegram("token-1", "").SendText("x"))
}
