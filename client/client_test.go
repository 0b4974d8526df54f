package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/boosty-companion/coordinator"
	"github.com/wolfeidau/boosty-companion/message"
)

type dispatchFunc func(ctx context.Context, msg *message.Message) (*message.Message, error)

func (f dispatchFunc) Dispatch(ctx context.Context, msg *message.Message) (*message.Message, error) {
	return f(ctx, msg)
}

func themeRequest(t *testing.T) *message.Message {
	t.Helper()
	msg, err := message.New(message.RequestTheme, nil, message.Background)
	require.NoError(t, err)
	return msg
}

func TestLocal_Reply(t *testing.T) {
	d := dispatchFunc(func(_ context.Context, msg *message.Message) (*message.Message, error) {
		return message.Reply(msg, message.ThemeInfo, map[string]string{"theme": "dark"}, message.Content)
	})

	reply, err := NewLocal(d).Send(context.Background(), themeRequest(t))
	require.NoError(t, err)
	assert.Equal(t, message.ThemeInfo, reply.Type)
}

func TestLocal_FireAndForget(t *testing.T) {
	d := dispatchFunc(func(context.Context, *message.Message) (*message.Message, error) {
		return nil, nil
	})

	reply, err := NewLocal(d).Send(context.Background(), themeRequest(t))
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestLocal_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := dispatchFunc(func(context.Context, *message.Message) (*message.Message, error) {
		<-release
		return nil, nil
	})

	start := time.Now()
	_, err := NewLocal(d, WithTimeout(20*time.Millisecond)).Send(context.Background(), themeRequest(t))
	require.ErrorIs(t, err, ErrNoResponse)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLocal_CallerCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := dispatchFunc(func(context.Context, *message.Message) (*message.Message, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal(d).Send(ctx, themeRequest(t))
	require.ErrorIs(t, err, ErrNoResponse)
}

func TestLocal_Errors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    error
		noReply bool
	}{
		{"bad request stays visible", fmt.Errorf("%w: missing id", coordinator.ErrBadRequest), coordinator.ErrBadRequest, false},
		{"unknown type stays visible", coordinator.ErrUnknownType, coordinator.ErrUnknownType, false},
		{"not addressed stays visible", coordinator.ErrNotAddressed, coordinator.ErrNotAddressed, false},
		{"storage failure is no response", errors.New("quota exceeded"), ErrNoResponse, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dispatchFunc(func(context.Context, *message.Message) (*message.Message, error) {
				return nil, tt.err
			})
			_, err := NewLocal(d).Send(context.Background(), themeRequest(t))
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.noReply, errors.Is(err, ErrNoResponse))
		})
	}
}

func TestHTTP_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad request", http.StatusBadRequest, `{"error":"missing id"}`, coordinator.ErrBadRequest},
		{"not addressed", http.StatusMisdirectedRequest, `{"error":"ignored"}`, coordinator.ErrNotAddressed},
		{"unauthorized", http.StatusUnauthorized, `{"error":"unauthorized"}`, ErrUnauthorized},
		{"no response", http.StatusServiceUnavailable, `{"error":"no response"}`, ErrNoResponse},
		{"server error", http.StatusInternalServerError, `oops`, ErrNoResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTP(srv.URL, nil).Send(context.Background(), themeRequest(t))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTP_ReplyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var msg message.Message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		reply, err := message.Reply(&msg, message.ThemeInfo, map[string]string{"theme": "light"}, message.Content)
		assert.NoError(t, err)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	defer srv.Close()

	req := themeRequest(t)
	req.ID = "abc"
	reply, err := NewHTTP(srv.URL+"/", []HTTPOption{WithToken("secret")}).Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "abc", reply.ID)
	assert.JSONEq(t, `{"theme":"light"}`, string(reply.Data))
}

func TestHTTP_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reply, err := NewHTTP(srv.URL, nil).Send(context.Background(), themeRequest(t))
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestHTTP_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTP(srv.URL, nil, WithTimeout(20*time.Millisecond)).Send(context.Background(), themeRequest(t))
	require.ErrorIs(t, err, ErrNoResponse)
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(url, nil).Send(context.Background(), themeRequest(t))
	require.ErrorIs(t, err, ErrNoResponse)
}
