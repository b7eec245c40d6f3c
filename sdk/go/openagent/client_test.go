package openagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestAuthenticateStoresToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var creds Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if creds.GrantType != "password" {
			t.Fatalf("expected default grant type, got %q", creds.GrantType)
		}
		_ = json.NewEncoder(w).Encode(Token{AccessToken: "abc123", TokenType: "Bearer"})
	}))

	_, err := client.Authenticate(context.Background(), Credentials{Username: "ops", Password: "secret"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := client.AccessToken(); got != "abc123" {
		t.Fatalf("expected token abc123, got %q", got)
	}
}

func TestSubmitTaskSendsToken(t *testing.T) {
	submitted := false
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/token":
			_ = json.NewEncoder(w).Encode(Token{AccessToken: "token"})
		case "/api/v1/tasks":
			if r.Header.Get("Authorization") != "Bearer token" {
				t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
			}
			var submission TaskSubmission
			if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
				t.Fatalf("decode submission: %v", err)
			}
			if submission.Goal != "summarise the report" {
				t.Fatalf("unexpected goal %q", submission.Goal)
			}
			submitted = true
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: "pending"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	if _, err := client.Authenticate(context.Background(), Credentials{}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	created, err := client.SubmitTask(context.Background(), TaskSubmission{Goal: "summarise the report"})
	if err != nil {
		t.Fatalf("submit task: %v", err)
	}
	if !submitted {
		t.Fatal("task was not submitted")
	}
	if created.ID != "task-1" {
		t.Fatalf("unexpected task id %q", created.ID)
	}
}

func TestListTasksBuildsQuery(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("limit") != "5" || query.Get("status") != "pending,running" || query.Get("order") != "desc" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Task{{ID: "task-1"}, {ID: "task-2"}})
	}))

	tasks, err := client.ListTasks(context.Background(), ListOptions{
		Limit:    5,
		Statuses: []string{"pending", "running"},
		Order:    "desc",
	})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
}

func TestTaskEpisodes(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks/task-1/episodes" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]Episode{
			{TaskID: "task-1", Cycle: 1, Command: "web_search"},
			{TaskID: "task-1", Cycle: 2, Command: "finish"},
		})
	}))

	episodes, err := client.TaskEpisodes(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("task episodes: %v", err)
	}
	if len(episodes) != 2 || episodes[1].Command != "finish" {
		t.Fatalf("unexpected episodes: %+v", episodes)
	}
}

func TestGetTaskError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "task not found", http.StatusNotFound)
	}))

	_, err := client.GetTask(context.Background(), "task-404")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "task not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestWaitForTaskPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "running"
		if calls.Add(1) >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: status})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	detail, err := client.WaitForTask(ctx, "task-1", time.Millisecond)
	if err != nil {
		t.Fatalf("wait for task: %v", err)
	}
	if detail.Status != "succeeded" {
		t.Fatalf("expected succeeded, got %q", detail.Status)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls.Load())
	}
}
