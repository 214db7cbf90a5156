package prom

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	ports, err := ParseRange("6001-6003")
	require.NoError(t, err)
	assert.Equal(t, []int{6001, 6002, 6003}, ports)

	ports, err = ParseRange("7000")
	require.NoError(t, err)
	assert.Equal(t, []int{7000}, ports)

	ports, err = ParseRange("")
	require.NoError(t, err)
	assert.Empty(t, ports)

	_, err = ParseRange("a-b")
	assert.Error(t, err)

	_, err = ParseRange("10-5")
	assert.Error(t, err)
}

func TestStatusHandler(t *testing.T) {
	s := NewServer("127.0.0.1", "0", func() interface{} {
		return map[string]int{"num_shards": 2}
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"num_shards":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRun(t *testing.T) {
	s := NewServer("127.0.0.1", "0", nil)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	resp, err := http.Get("http://" + s.Addr().String() + "/status")
	require.NoError(t, err)
	body, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
