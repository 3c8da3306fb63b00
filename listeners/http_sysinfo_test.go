package listeners

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inyotech/mqtt-broker/system"
)

func TestNewHTTPStats(t *testing.T) {
	l := NewHTTPStats("stats", ":8080")
	require.Equal(t, "stats", l.ID())
}

func TestHTTPStatsServesCounters(t *testing.T) {
	l := NewHTTPStats("stats", ":0")
	require.NoError(t, l.Listen(&system.Info{
		Version:          "test",
		ClientsConnected: 3,
		MessagesRecv:     41,
	}))

	w := httptest.NewRecorder()
	l.jsonHandler(w, httptest.NewRequest("GET", "/", nil))

	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var info system.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.Equal(t, "test", info.Version)
	require.Equal(t, int64(3), info.ClientsConnected)
	require.Equal(t, int64(41), info.MessagesRecv)
}
