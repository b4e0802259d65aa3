package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testMessage() mailqueue.Message {
	return mailqueue.Message{
		ID:      "rec-1",
		From:    mail.Address{Name: "Shop", Address: "shop@example.com"},
		To:      []mail.Address{{Address: "to@example.org"}},
		Bcc:     []mail.Address{{Address: "audit@example.org"}},
		ReplyTo: &mail.Address{Address: "support@example.com"},
		Subject: "Order shipped",
		Text:    "Hello",
		Headers: map[string]string{"X-Campaign": "spring"},
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestTransport_Send_PostsMessage(t *testing.T) {
	// Given
	var (
		got  request
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/send", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr, err := New(Config{Endpoint: srv.URL + "/v1/send", Token: "secret"}, zap.NewNop())
	require.NoError(t, err)

	// When
	err = tr.Send(context.Background(), testMessage())

	// Then
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, request{
		ID:      "rec-1",
		From:    `"Shop" <shop@example.com>`,
		To:      []string{"to@example.org"},
		Bcc:     []string{"audit@example.org"},
		ReplyTo: "support@example.com",
		Subject: "Order shipped",
		Text:    "Hello",
		Headers: map[string]string{"X-Campaign": "spring"},
	}, got)
}

func TestTransport_Send_NoTokenMeansNoAuthorization(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := New(Config{Endpoint: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), testMessage()))
	assert.Equal(t, "", auth.Load())
}

func TestTransport_Send_NonSuccessStatusFails(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"redirect without location", http.StatusFound},
		{"client error", http.StatusUnprocessableEntity},
		{"server error", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			tr, err := New(Config{Endpoint: srv.URL}, zap.NewNop())
			require.NoError(t, err)

			err = tr.Send(context.Background(), testMessage())

			require.Error(t, err)
			assert.Equal(t, int32(1), calls.Load(), "the relay must not retry")
		})
	}
}

func TestTransport_Send_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tr, err := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	err = tr.Send(context.Background(), testMessage())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to post message rec-1")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "bad request", n: 20, want: "bad request"},
		{name: "exact", in: "abcd", n: 4, want: "abcd"},
		{name: "ascii", in: "abcdef", n: 3, want: "abc..."},
		{name: "multibyte", in: "ошибка сервера", n: 6, want: "ошибка..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)

			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
