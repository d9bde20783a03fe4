package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func TestMulti_FansOutAndReturnsFirstError(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("boom")}
	m := Multi{failing, nil, ok}

	err := m.Publish(context.Background(), New(SessionRevoked, "s1", "u1", nil))
	assert.EqualError(t, err, "boom")
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)
	assert.Equal(t, SessionRevoked, ok.events[0].Type)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
	err    error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_KeysBySession(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w, "vigil.session-events")

	require.NoError(t, p.Publish(context.Background(), New(SessionCreated, "sess-1", "u1", map[string]any{"risk_score": 40})))
	require.NoError(t, p.Publish(context.Background(), New(HealthChanged, "", "", nil)))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "sess-1", string(w.msgs[0].Key))
	assert.Equal(t, HealthChanged, string(w.msgs[1].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "u1", decoded.UserID)
	assert.EqualValues(t, 40, decoded.Data["risk_score"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	p := NewKafkaPublisherWithWriter(&fakeWriter{err: errors.New("leader not available")}, "topic")
	err := p.Publish(context.Background(), New(SessionUpdated, "s", "u", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastsToSubscribers(t *testing.T) {
	hub := NewHub(WithKeepAliveInterval(0))
	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()
	defer hub.Close()

	all := dialHub(t, srv, "/")
	onlyAnomalies := dialHub(t, srv, "/?types="+AnomalyDetected)
	waitForClients(t, hub, 2)

	require.NoError(t, hub.Publish(context.Background(), New(SessionCreated, "s1", "u1", nil)))
	require.NoError(t, hub.Publish(context.Background(), New(AnomalyDetected, "s1", "u1", map[string]any{"score": 76})))

	var got Event
	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, SessionCreated, got.Type)
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, AnomalyDetected, got.Type)

	_ = onlyAnomalies.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, onlyAnomalies.ReadJSON(&got))
	assert.Equal(t, AnomalyDetected, got.Type)
	assert.Equal(t, "s1", got.SessionID)
}

func TestHub_DropsDisconnectedClients(t *testing.T) {
	hub := NewHub(WithKeepAliveInterval(0))
	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn := dialHub(t, srv, "/")
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)
	assert.NoError(t, hub.Publish(context.Background(), New(SessionExpired, "s", "u", nil)))
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.ServeWS)
}
