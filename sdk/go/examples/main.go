package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"OpenAgent-Loop/sdk/go/openagent"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openagent.Token{AccessToken: "demo-token", TokenType: "Bearer"})
	})
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(openagent.Task{
				ID:     "task-demo",
				Goal:   "research the latest release notes",
				Status: "pending",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openagent.Task{
			ID:     "task-demo",
			Status: "succeeded",
			Result: &openagent.TaskResult{
				Outcome: "finished",
				Summary: "release notes summarised",
				Cycles:  3,
			},
		})
	})
	mux.HandleFunc("/api/v1/tasks/task-demo/episodes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]openagent.Episode{
			{TaskID: "task-demo", Cycle: 1, Command: "web_search", Status: "success"},
			{TaskID: "task-demo", Cycle: 2, Command: "extract_content", Status: "success"},
			{TaskID: "task-demo", Cycle: 3, Command: "finish", Status: "success"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := openagent.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := client.Authenticate(ctx, openagent.Credentials{Username: "demo", Password: "secret"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("authenticated with token %s\n", token.AccessToken)

	created, err := client.SubmitTask(ctx, openagent.TaskSubmission{Goal: "research the latest release notes"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted task %s (status=%s)\n", created.ID, created.Status)

	detail, err := client.WaitForTask(ctx, created.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished: %s\n", detail.ID, detail.Result.Summary)

	episodes, err := client.TaskEpisodes(ctx, created.ID)
	if err != nil {
		panic(err)
	}
	for _, episode := range episodes {
		fmt.Printf("cycle %d: %s (%s)\n", episode.Cycle, episode.Command, episode.Status)
	}
}
