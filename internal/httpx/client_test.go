package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExternalClientTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewExternalClient(0).Timeout)
	assert.Equal(t, DefaultTimeout, NewExternalClient(-time.Second).Timeout)
	assert.Equal(t, 2*time.Minute, NewExternalClient(2*time.Minute).Timeout)
}

func TestNewExternalClientsAreIndependent(t *testing.T) {
	a := NewExternalClient(time.Second)
	b := NewExternalClient(time.Minute)

	assert.NotSame(t, a, b)
	assert.NotSame(t, a.Transport, b.Transport)
	assert.NotSame(t, http.DefaultTransport, a.Transport)
	assert.Equal(t, time.Second, a.Timeout)
	assert.Equal(t, time.Minute, b.Timeout)
}

func TestNewExternalClientGivesUpOnSlowServer(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewExternalClient(50 * time.Millisecond)
	resp, err := client.Get(server.URL)
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
}
