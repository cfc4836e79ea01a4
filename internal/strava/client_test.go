package strava

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", time.Second)
}

func TestClient_GetJSON(t *testing.T) {
	t.Run("sends bearer token and query params", func(t *testing.T) {
		var gotAuth, gotPath string
		var gotQuery url.Values
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPath = r.URL.Path
			gotQuery = r.URL.Query()
			w.Write([]byte(`[{"id":1}]`))
		})

		raw, err := c.GetJSON(context.Background(), "/athlete/activities", "tok-1", url.Values{"per_page": {"30"}})
		require.NoError(t, err)
		assert.JSONEq(t, `[{"id":1}]`, string(raw))
		assert.Equal(t, "Bearer tok-1", gotAuth)
		assert.Equal(t, "/athlete/activities", gotPath)
		assert.Equal(t, "30", gotQuery.Get("per_page"))
	})

	t.Run("non-2xx returns APIError with status", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Record Not Found"}`))
		})

		_, err := c.GetJSON(context.Background(), "/activities/9", "tok", nil)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "expected *APIError, got %v", err)
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
		assert.Equal(t, "Not Found", apiErr.StatusText)
		assert.Contains(t, apiErr.Body, "Record Not Found")
	})

	t.Run("invalid json body is an error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		})
		_, err := c.GetJSON(context.Background(), "/athlete", "tok", nil)
		assert.Error(t, err)
	})

	t.Run("timeout is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()
		c := NewClient(srv.URL, 20*time.Millisecond)

		_, err := c.GetJSON(context.Background(), "/athlete", "tok", nil)
		assert.Error(t, err)
	})

	t.Run("network error is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // closed before request is sent
		c := NewClient(srv.URL, time.Second)

		_, err := c.GetJSON(context.Background(), "/athlete", "tok", nil)
		assert.Error(t, err)
	})
}

func TestClient_PutJSON(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"id":5,"starred":true}`))
	})

	raw, err := c.PutJSON(context.Background(), "/segments/5/starred", "tok", map[string]bool{"starred": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":5,"starred":true}`, string(raw))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, true, gotBody["starred"])
}

func TestClient_GetActivity(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activities/123", r.URL.Path)
		w.Write([]byte(`{"id":123,"name":"Morning Run","type":"Run","sport_type":"TrailRun","distance":10500,"moving_time":3120,"total_elevation_gain":120,"start_date_local":"2025-10-29T12:13:00Z","average_heartrate":145.2,"pr_count":2}`))
	})

	a, err := c.GetActivity(context.Background(), "tok", 123)
	require.NoError(t, err)
	assert.Equal(t, int64(123), a.ID)
	assert.Equal(t, "Morning Run", a.Name)
	assert.Equal(t, "TrailRun", a.DisplayType())
	require.NotNil(t, a.AverageHeartrate)
	assert.InDelta(t, 145.2, *a.AverageHeartrate, 0.001)
	assert.Nil(t, a.AverageWatts)
	assert.Equal(t, 2, a.PRCount)
}

func TestActivity_DisplayTypeFallsBackToType(t *testing.T) {
	a := Activity{Type: "Ride"}
	assert.Equal(t, "Ride", a.DisplayType())
}
