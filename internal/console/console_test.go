package console

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	servers  []ServerSummary
	channels []ChannelSummary
	clients  []RelayClientSummary
}

func (f fakeSource) Servers() []ServerSummary           { return f.servers }
func (f fakeSource) Channels() []ChannelSummary         { return f.channels }
func (f fakeSource) RelayClients() []RelayClientSummary { return f.clients }

func newTestServer() *Server {
	src := fakeSource{
		servers: []ServerSummary{
			{Name: "freenode", Connected: true, CurrentNick: "alice", Lag: 50 * time.Millisecond},
		},
		channels: []ChannelSummary{
			{Server: "freenode", Name: "#weecore", Topic: "hi", UserCount: 3},
		},
		clients: []RelayClientSummary{
			{ID: "c1", RemoteAddr: "127.0.0.1:1234", State: "active", Since: time.Now()},
		},
	}
	s, err := New(Config{Address: "127.0.0.1:0"}, src)
	if err != nil {
		panic(err)
	}
	return s
}

func TestHomeRendersServerList(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "freenode")
	assert.Contains(t, rec.Body.String(), "alice")
}

func TestChannelsRouteRendersHTML(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/channels", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "#weecore")
}

func TestAPIStatsReturnsCounts(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/api/stats", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"server_count":1`)
}

func TestNoOIDCMeansRoutesAreUnprotected(t *testing.T) {
	s := newTestServer()
	assert.Nil(t, s.oidc)
	req := httptest.NewRequest("GET", "/clients", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}
