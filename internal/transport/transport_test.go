package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, UserAgent: "test-agent", Timeout: time.Second}, nil, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClientDoKeepsLocationOnAccepted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.UserAgent())
		w.Header().Set("Location", "/api/jobs/3")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Do(context.Background(), NewGet("/api/nodes/1/firmware/flash"))
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "/api/jobs/3", resp.Location())
}

func TestClientDoDoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/elsewhere" {
			t.Error("redirect was followed")
		}
		http.Redirect(w, r, "/elsewhere", http.StatusSeeOther)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Do(context.Background(), NewGet("/start"))
	require.NoError(t, err)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/elsewhere", resp.Location())
}

func TestClientDoErrorStatusIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "job failed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), NewGet("/api/jobs/1"))
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "job failed", resp.Text())
}

func TestClientDoTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := newTestClient(t, base).Do(context.Background(), NewGet("/api/jobs/1"))
	require.Error(t, err)
}

func TestMultipartUpload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, header, err := r.FormFile("firmware")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		assert.NoError(t, err)
		assert.Equal(t, "blink.hex", header.Filename)
		assert.Equal(t, ":00000001FF\n", string(data))
		w.Header().Set("Location", "/api/jobs/0")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	req, err := NewMultipartUpload("/api/nodes/1/firmware/flash", "firmware", "blink.hex", strings.NewReader(":00000001FF\n"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(req.ContentType, "multipart/form-data"))

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var ids []int
	require.NoError(t, c.GetJSON(context.Background(), "/api/nodes", &ids))
	require.Equal(t, []int{1, 2, 3}, ids)

	err := c.GetJSON(context.Background(), "/missing", &ids)
	require.True(t, IsStatus(err, http.StatusNotFound))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "http://gateway.local:8080/")
	got, err := c.Resolve("/api/jobs/1")
	require.NoError(t, err)
	require.Equal(t, "http://gateway.local:8080/api/jobs/1", got)

	got, err = c.Resolve("https://other.example/x")
	require.NoError(t, err)
	require.Equal(t, "https://other.example/x", got)

	_, err = New(Config{BaseURL: "relative/path"}, nil, nil)
	require.Error(t, err)
}
