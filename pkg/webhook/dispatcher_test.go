package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/commissionengine/pkg/events"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

func switched() rules.CircleSwitched {
	return rules.CircleSwitched{SourceEventID: "evt-1", FunctionID: "fn", ProgramID: "prog", PromoterID: "alice",
		FromCircleID: "default", ToCircleID: "gold", SwitchedAt: time.Now()}
}

func TestDispatcher_Publish(t *testing.T) {
	t.Run("Success - signed delivery", func(t *testing.T) {
		var got events.Envelope
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.True(t, VerifySignature(body, r.Header.Get(HeaderSignature), "s3cret"))
			assert.Equal(t, rules.EventCircleSwitched, r.Header.Get(HeaderEvent))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.Unmarshal(body, &got))
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		d := NewDispatcher([]string{srv.URL}, "s3cret")
		require.NoError(t, d.Publish(context.Background(), switched()))
		assert.Equal(t, rules.EventCircleSwitched, got.Name)
		assert.Equal(t, "prog/alice", got.PartitionKey)
	})

	t.Run("Success - retries until accepted", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		d := NewDispatcher([]string{srv.URL}, "k", WithRetries(3, time.Millisecond))
		require.NoError(t, d.Publish(context.Background(), switched()))
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("Error - exhausted retries still reach other urls", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer failing.Close()
		var reached int32
		healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&reached, 1)
		}))
		defer healthy.Close()

		d := NewDispatcher([]string{failing.URL, healthy.URL}, "k", WithRetries(1, time.Millisecond))
		err := d.Publish(context.Background(), switched())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed after 2 attempts")
		assert.Contains(t, err.Error(), "unexpected status 500")
		assert.Equal(t, int32(1), atomic.LoadInt32(&reached))
	})

	t.Run("Error - cancelled context stops backoff", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		d := NewDispatcher([]string{srv.URL}, "k", WithRetries(5, time.Second))
		err := d.Publish(ctx, switched())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"name":"commission.created"}`)
	sig := Sign(payload, "secret")
	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature(payload, sig, "secret"))
	assert.False(t, VerifySignature(payload, sig, "other"))
	assert.False(t, VerifySignature([]byte("tampered"), sig, "secret"))
}
