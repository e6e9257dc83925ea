package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	t.Run("NotifyExecutionStarted is no-op", func(t *testing.T) {
		ts := s.NotifyExecutionStarted(context.Background(), ExecutionStartedInput{
			ExecutionID: "exec-1",
			RunbookName: "restart-nginx",
		})
		assert.Empty(t, ts)
	})

	t.Run("NotifyExecutionFinished is no-op", func(_ *testing.T) {
		s.NotifyExecutionFinished(context.Background(), ExecutionFinishedInput{
			ExecutionID: "exec-1",
			Status:      models.StatusCompleted,
		})
	})

	t.Run("NotifyApprovalPending is no-op", func(_ *testing.T) {
		s.NotifyApprovalPending(context.Background(), ApprovalPendingInput{
			ExecutionID: "exec-1",
		})
	})
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		assert.Nil(t, NewService(ServiceConfig{Token: "", Channel: "C123"}))
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		assert.Nil(t, NewService(ServiceConfig{Token: "xoxb-test", Channel: ""}))
	})

	t.Run("returns service when configured", func(t *testing.T) {
		assert.NotNil(t, NewService(ServiceConfig{
			Token:        "xoxb-test",
			Channel:      "C123",
			DashboardURL: "https://example.com",
		}))
	})
}

// mockSlackAPI returns a server answering chat.postMessage with a fixed ts
// and records received thread_ts values.
func mockSlackAPI(t *testing.T, ts string, threads *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		*threads = append(*threads, r.FormValue("thread_ts"))
		json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"channel": "C123",
			"ts":      ts,
		})
	}))
}

func TestService_ThreadReuse(t *testing.T) {
	var threads []string
	srv := mockSlackAPI(t, "1724600000.000100", &threads)
	defer srv.Close()

	svc := NewServiceWithClient(
		NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/"),
		"https://remedy.example.com",
	)

	ts := svc.NotifyExecutionStarted(context.Background(), ExecutionStartedInput{
		ExecutionID: "exec-1",
		RunbookName: "restart-nginx",
		AlertName:   "NginxDown",
	})
	require.Equal(t, "1724600000.000100", ts)

	svc.NotifyExecutionFinished(context.Background(), ExecutionFinishedInput{
		ExecutionID: "exec-1",
		RunbookName: "restart-nginx",
		Status:      models.StatusCompleted,
		Duration:    42 * time.Second,
		ThreadTS:    ts,
	})

	require.Len(t, threads, 2)
	assert.Empty(t, threads[0], "start message opens the thread")
	assert.Equal(t, ts, threads[1], "terminal message threads under start")
}

func TestService_FailOpenOnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer srv.Close()

	svc := NewServiceWithClient(NewClientWithAPIURL("xoxb-test", "C404", srv.URL+"/"), "")

	// Errors are swallowed; callers only lose the thread timestamp.
	ts := svc.NotifyExecutionStarted(context.Background(), ExecutionStartedInput{ExecutionID: "exec-1"})
	assert.Empty(t, ts)
	svc.NotifyExecutionFinished(context.Background(), ExecutionFinishedInput{
		ExecutionID: "exec-1",
		Status:      models.StatusFailed,
	})
}

func TestBuildMessages(t *testing.T) {
	t.Run("terminal message includes error", func(t *testing.T) {
		blocks := BuildTerminalMessage(ExecutionFinishedInput{
			ExecutionID:  "exec-9",
			RunbookName:  "rotate-certs",
			Status:       models.StatusFailed,
			ErrorMessage: "step 2: exit code 1",
		}, "https://remedy.example.com")
		require.Len(t, blocks, 2)
	})

	t.Run("approval message includes deadline", func(t *testing.T) {
		blocks := BuildApprovalMessage(ApprovalPendingInput{
			ExecutionID: "exec-9",
			RunbookName: "rotate-certs",
			AlertName:   "CertExpiring",
			DueAt:       time.Now().Add(time.Hour),
		}, "https://remedy.example.com")
		require.Len(t, blocks, 2)
	})

	t.Run("no dashboard url drops buttons", func(t *testing.T) {
		blocks := BuildStartedMessage(ExecutionStartedInput{
			ExecutionID: "exec-9",
			RunbookName: "rotate-certs",
			DryRun:      true,
		}, "")
		require.Len(t, blocks, 1)
	})
}
