package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibi-studio/refsync/internal/content/publish"
	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/content/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, actions ActionRunner) *Server {
	t.Helper()
	server := NewServer(&Config{Port: 0, Actions: actions, Logger: quietLogger()})
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, port, err := net.SplitHostPort(server.GetAddr())
	require.NoError(t, err)
	conn, _, err := websocket.Dial(ctx, "ws://127.0.0.1:"+port+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return server.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: quietLogger()})
	require.NoError(t, server.Start())
	assert.NotEmpty(t, server.GetAddr())
	require.NoError(t, server.Stop())
}

func TestHandler_BroadcastsReconcileReport(t *testing.T) {
	server := startServer(t, nil)
	conn := dial(t, server)
	handler := NewHandler(server, quietLogger())

	report := &reconcile.Report{
		Type: schema.TypeProject,
		ID:   "p-1",
		Results: []*reconcile.Result{{
			Reconciler: "symmetric",
			Source:     "p-1",
			Updated:    []string{"s-1"},
			Failed:     map[string]error{"s-2": errors.New("locked")},
		}},
	}
	handler.OnReconciled(report, errors.New("symmetric: s-2: locked"))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeReconcileFailed, msg.Type)

	var data ReconcileData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "p-1", data.ID)
	assert.Equal(t, 1, data.Updated)
	assert.Equal(t, 1, data.Failed)
	require.Len(t, data.Reconcilers, 1)
	assert.Equal(t, []string{"s-2"}, data.Reconcilers[0].Failed)

	stats := readMessage(t, conn)
	assert.Equal(t, MessageTypeStats, stats.Type)
	assert.Equal(t, 1, handler.GetStats().FailedRuns)
}

func TestServer_WelcomesWithStats(t *testing.T) {
	server := startServer(t, nil)
	handler := NewHandler(server, quietLogger())
	server.OnConnect(handler.Welcome)
	handler.UpdateStats(map[schema.Type]store.TypeCount{
		schema.TypeDirector: {Published: 2, Drafts: 1},
	})

	conn := dial(t, server)
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeStats, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	var stats StatsData
	require.NoError(t, json.Unmarshal(msg.Data, &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Drafts)
	assert.Equal(t, TypeStats{Published: 2, Drafts: 1}, stats.ByType[schema.TypeDirector])
}

func TestHandler_UpdateStats(t *testing.T) {
	server := NewServer(&Config{Logger: quietLogger()})
	handler := NewHandler(server, quietLogger())

	handler.UpdateStats(map[schema.Type]store.TypeCount{
		schema.TypeProject: {Published: 3, Drafts: 1},
		schema.TypeService: {Published: 2},
	})

	stats := handler.GetStats()
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 1, stats.Drafts)
	assert.Equal(t, TypeStats{Published: 3, Drafts: 1}, stats.ByType[schema.TypeProject])
}

type fakeRunner struct {
	outcome *publish.Outcome
	err     error
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, action, id string) (*publish.Outcome, error) {
	f.calls = append(f.calls, action+":"+id)
	return f.outcome, f.err
}

func TestHandleAction(t *testing.T) {
	doc := schema.New("p-1", schema.TypeProject)
	doc.Set("title", "Night Drive")

	tests := []struct {
		name       string
		runner     *fakeRunner
		wantStatus int
		wantInBody string
	}{
		{
			name:       "success",
			runner:     &fakeRunner{outcome: &publish.Outcome{Document: doc, Message: "Published Night Drive"}},
			wantStatus: http.StatusOK,
			wantInBody: "Published Night Drive",
		},
		{
			name:       "not found",
			runner:     &fakeRunner{err: fmt.Errorf("load: %w", store.ErrNotFound)},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown action",
			runner:     &fakeRunner{err: publish.ErrUnknownAction},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "other failure",
			runner:     &fakeRunner{err: errors.New("disk full")},
			wantStatus: http.StatusInternalServerError,
			wantInBody: "disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(&Config{Actions: tt.runner, Logger: quietLogger()})
			var seen string
			server.OnAction(func(action string, _ *publish.Outcome) { seen = action })

			req := httptest.NewRequest(http.MethodPost, "/documents/drafts.p-1/publish", nil)
			rec := httptest.NewRecorder()
			server.Routes().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, []string{"publish:drafts.p-1"}, tt.runner.calls)
			if tt.wantInBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantInBody)
			}
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "publish", seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}

func TestHandleAction_Disabled(t *testing.T) {
	server := NewServer(&Config{Logger: quietLogger()})
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/documents/p-1/publish", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	server := NewServer(&Config{Logger: quietLogger()})
	routes := server.Routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
