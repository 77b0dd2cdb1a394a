package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestStartInterviewRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/interviews": `{"id":"sess-1","state":"QUESTION","total_questions":10,"estimated_duration_ms":2400000}`,
	})

	client := ts.client()

	resp, err := client.post(ctx, "/v1/interviews", map[string]string{
		"user_id": "u1",
		"role_id": "backend-engineer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		ID             string `json:"id"`
		State          string `json:"state"`
		TotalQuestions int    `json:"total_questions"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result.ID != "sess-1" {
		t.Errorf("id = %q, want %q", result.ID, "sess-1")
	}
	if result.State != "QUESTION" {
		t.Errorf("state = %q, want QUESTION", result.State)
	}
	if result.TotalQuestions != 10 {
		t.Errorf("total_questions = %d, want 10", result.TotalQuestions)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(ts.requests))
	}
	req := ts.requests[0]
	if req.Auth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want bearer token", req.Auth)
	}
	if !strings.Contains(req.Body, `"user_id":"u1"`) {
		t.Errorf("request body missing user_id: %s", req.Body)
	}
	if !strings.Contains(req.Body, `"role_id":"backend-engineer"`) {
		t.Errorf("request body missing role_id: %s", req.Body)
	}
}

func TestSubmitAnswerRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/interviews/sess-1/answers": `{"answer_id":"ans-1","estimated_time_ms":2000,"partial_feedback":{"message":"Solid answer.","score":4,"partial":true}}`,
	})

	client := ts.client()

	resp, err := client.post(ctx, "/v1/interviews/sess-1/answers", map[string]any{
		"audio_url":   "file:///tmp/answer.wav",
		"duration_ms": int64(95000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		AnswerID        string `json:"answer_id"`
		PartialFeedback *struct {
			Score   int  `json:"score"`
			Partial bool `json:"partial"`
		} `json:"partial_feedback"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result.AnswerID != "ans-1" {
		t.Errorf("answer_id = %q, want %q", result.AnswerID, "ans-1")
	}
	if result.PartialFeedback == nil || result.PartialFeedback.Score != 4 {
		t.Errorf("partial_feedback = %+v, want score 4", result.PartialFeedback)
	}

	req := ts.requests[0]
	if !strings.Contains(req.Body, `"duration_ms":95000`) {
		t.Errorf("request body missing duration: %s", req.Body)
	}
}

func TestDecodeJSONServerError(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()

	resp, err := client.get(ctx, "/v1/interviews/nope")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var out any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response, got nil")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v, want it to mention status 404", err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want it to include the server message", err)
	}
}

func TestResultBodyDecoding(t *testing.T) {
	raw := `{
		"state": "QUESTION",
		"screen": "question",
		"payload": {
			"question": {"id":"q2","text":"Tell me about a conflict.","category":"behavioral","estimated_sec":120},
			"progress": {"answered":1,"total":10}
		}
	}`

	var res resultBody
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if res.State != "QUESTION" {
		t.Errorf("state = %q, want QUESTION", res.State)
	}
	if res.Payload.Question == nil || res.Payload.Question.ID != "q2" {
		t.Errorf("question = %+v, want id q2", res.Payload.Question)
	}
	if res.Payload.Progress == nil || res.Payload.Progress.Answered != 1 {
		t.Errorf("progress = %+v, want answered 1", res.Payload.Progress)
	}
	if res.Payload.Feedback != nil {
		t.Errorf("feedback = %+v, want nil", res.Payload.Feedback)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID = %q, want %q", got, "01234567")
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q, want %q", got, "abc")
	}
}
