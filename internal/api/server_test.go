package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"OpenAgent-Loop/internal/auth"
	"OpenAgent-Loop/internal/integrations"
	"OpenAgent-Loop/internal/task"
)

func newTestService(t *testing.T) *task.Service {
	t.Helper()
	return task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(16), 3)
}

func TestHandleTaskDetailSuccess(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(16), 3)
	server := NewServer(":0", svc)

	sample := &task.Task{
		ID:         "task-success",
		Goal:       "demo",
		Status:     task.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		CreatedAt:  1700000000,
		UpdatedAt:  1700000001,
		Result: &task.ExecutionResult{
			Outcome: "finished",
			Summary: "ok",
		},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample task: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/task-success", nil)
	rec := httptest.NewRecorder()

	server.handleTaskDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected task id: got %q want %q", got.ID, sample.ID)
	}
	if got.Result == nil || got.Result.Summary != "ok" {
		t.Fatalf("unexpected task result: %+v", got.Result)
	}
}

func TestHandleTaskDetailErrors(t *testing.T) {
	server := NewServer(":0", newTestService(t))

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/task-1", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestHandleSubmitTask(t *testing.T) {
	server := NewServer(":0", newTestService(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"goal":"post a tweet about Go"}`))
	rec := httptest.NewRecorder()

	server.handleTasks(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %s", http.StatusAccepted, rec.Code, rec.Body.String())
	}
	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.Status != task.StatusPending {
		t.Fatalf("unexpected created task: %+v", created)
	}
}

func TestHandleSubmitTaskRejectsEmptyGoal(t *testing.T) {
	server := NewServer(":0", newTestService(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"goal":"  "}`))
	rec := httptest.NewRecorder()

	server.handleTasks(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestHandleListTasksFilters(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(16), 3)
	server := NewServer(":0", svc)
	ctx := context.Background()

	if err := store.Create(ctx, &task.Task{ID: "t1", Goal: "first", MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &task.Task{ID: "t2", Goal: "second", MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "t2"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=running", nil)
	rec := httptest.NewRecorder()

	server.handleTasks(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var tasks []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t2" {
		t.Fatalf("unexpected filter result: %+v", tasks)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=bogus", nil)
	rec = httptest.NewRecorder()
	server.handleTasks(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid status to be rejected, got %d", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(16), 3)
	server := NewServer(":0", svc)

	if err := store.Create(context.Background(), &task.Task{ID: "t1", Goal: "first"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()

	server.handleStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var stats task.TaskStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestIntegrationRoutes(t *testing.T) {
	manager := integrations.NewManager([]integrations.Provider{{
		Name:     "github",
		ClientID: "client-id",
		AuthURL:  "https://github.example/oauth/authorize",
		TokenURL: "https://github.example/oauth/token",
	}}, integrations.NewMemoryStore())
	server := NewServer(":0", newTestService(t), WithIntegrations(manager))
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/github/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login route failed: %d %s", rec.Code, rec.Body.String())
	}
	var login map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login["url"] == "" || login["state"] == "" {
		t.Fatalf("unexpected login payload: %v", login)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/integrations/unknown/login", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/integrations/github/callback?code=c&state=bogus", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad state, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/integrations/credentials", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("credentials route failed: %d", rec.Code)
	}
}

func TestMiddlewareOrdering(t *testing.T) {
	var order []string
	outer := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "outer")
			next.ServeHTTP(w, r)
		})
	}
	inner := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "inner")
			next.ServeHTTP(w, r)
		})
	}

	server := NewServer(":0", newTestService(t), WithMiddleware(outer, inner))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("unexpected middleware order: %v", order)
	}
}

func TestAuthTokenRouteBypassesMiddleware(t *testing.T) {
	store, err := auth.NewMemoryStore([]auth.Seed{{
		Username:    "ops",
		Password:    "secret",
		Permissions: []string{"tasks:write"},
	}})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	svc, err := auth.NewService(context.Background(), auth.Config{
		Mode: auth.ModeJWT,
		JWT:  auth.JWTOptions{Secret: "test-secret", Issuer: "test"},
	}, store)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}

	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "blocked", http.StatusUnauthorized)
		})
	}
	server := NewServer(":0", newTestService(t), WithAuth(svc), WithMiddleware(deny))
	handler := server.Handler()

	body := strings.NewReader(`{"grant_type":"password","username":"ops","password":"secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token route failed: %d %s", rec.Code, rec.Body.String())
	}
	var pair auth.TokenPair
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode token pair: %v", err)
	}
	if pair.AccessToken == "" {
		t.Fatal("expected an access token")
	}

	// 受保护路由仍由中间件拦截。
	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected protected route to be blocked, got %d", rec.Code)
	}
}

func TestAuthTokenRouteRejectsBadCredentials(t *testing.T) {
	store, err := auth.NewMemoryStore([]auth.Seed{{Username: "ops", Password: "secret"}})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	svc, err := auth.NewService(context.Background(), auth.Config{
		Mode: auth.ModeJWT,
		JWT:  auth.JWTOptions{Secret: "test-secret"},
	}, store)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	server := NewServer(":0", newTestService(t), WithAuth(svc))

	body := strings.NewReader(`{"grant_type":"password","username":"ops","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", body)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
