package generators

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"Story-Loom/server/internal/config"
	"Story-Loom/server/internal/interfaces"
)

func TestLumaSubmitVideoWithContinuation(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/generations" {
			t.Errorf("request = %s %s, want POST /generations", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"id":"gen-2","state":"queued"}`))
	}))
	defer srv.Close()

	c := NewLumaClient(config.MediaConfig{BaseURL: srv.URL, APIKey: "secret", VideoModel: "ray-2"})
	id, err := c.Submit(context.Background(), &interfaces.GenerationRequest{
		Kind:         interfaces.MediaVideo,
		Prompt:       "the foundry at dusk",
		AspectRatio:  "16:9",
		ContinueFrom: "gen-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "gen-2" {
		t.Fatalf("id = %q, want gen-2", id)
	}
	if got["model"] != "ray-2" || got["aspect_ratio"] != "16:9" {
		t.Fatalf("body = %v", got)
	}
	frame0 := got["keyframes"].(map[string]interface{})["frame0"].(map[string]interface{})
	if frame0["type"] != "generation" || frame0["id"] != "gen-1" {
		t.Fatalf("frame0 = %v", frame0)
	}
}

func TestLumaSubmitImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generations/image" {
			t.Errorf("path = %s, want /generations/image", r.URL.Path)
		}
		w.Write([]byte(`{"id":"img-1","state":"queued"}`))
	}))
	defer srv.Close()

	c := NewLumaClient(config.MediaConfig{BaseURL: srv.URL})
	id, err := c.Submit(context.Background(), &interfaces.GenerationRequest{Kind: interfaces.MediaImage, Prompt: "portrait"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "img-1" {
		t.Fatalf("id = %q, want img-1", id)
	}
}

func TestLumaStatusMapsStates(t *testing.T) {
	cases := []struct {
		body string
		want interfaces.JobState
	}{
		{`{"id":"g","state":"queued"}`, interfaces.JobPending},
		{`{"id":"g","state":"dreaming"}`, interfaces.JobPending},
		{`{"id":"g","state":"completed","assets":{"video":"v","image":"i"}}`, interfaces.JobCompleted},
		{`{"id":"g","state":"failed","failure_reason":"nsfw"}`, interfaces.JobFailed},
	}
	for _, tc := range cases {
		body, want := tc.body, tc.want
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/generations/g" {
				t.Errorf("path = %s, want /generations/g", r.URL.Path)
			}
			w.Write([]byte(body))
		}))
		c := NewLumaClient(config.MediaConfig{BaseURL: srv.URL})

		status, err := c.Status(context.Background(), "g")
		srv.Close()
		if err != nil {
			t.Fatalf("Status(%s): %v", body, err)
		}
		if status.State != want {
			t.Fatalf("Status(%s).State = %q, want %q", body, status.State, want)
		}
	}
}

func TestLumaHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewLumaClient(config.MediaConfig{BaseURL: srv.URL})
	if _, err := c.Status(context.Background(), "g"); err == nil {
		t.Fatal("Status succeeded on HTTP 429")
	}
}

func TestLumaRejectsUnknownKind(t *testing.T) {
	c := NewLumaClient(config.MediaConfig{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.Submit(context.Background(), &interfaces.GenerationRequest{Kind: "audio"}); err == nil {
		t.Fatal("Submit accepted an unknown media kind")
	}
}

func TestLumaListGenerations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/generations" {
			t.Errorf("request = %s %s, want GET /generations", r.Method, r.URL.Path)
		}
		if q := r.URL.Query(); q.Get("limit") != "20" || q.Get("offset") != "40" {
			t.Errorf("query = %s, want limit=20 offset=40", r.URL.RawQuery)
		}
		w.Write([]byte(`{
			"generations": [
				{"id":"g1","state":"completed","generation_type":"video","model":"ray-2",
				 "assets":{"video":"https://cdn.example/g1.mp4","image":null},
				 "request":{"prompt":"the foundry at dusk","aspect_ratio":"16:9"}},
				{"id":"g2","state":"failed","generation_type":"image","failure_reason":"moderation","assets":{}}
			],
			"count": 2, "limit": 20, "offset": 40, "has_more": true
		}`))
	}))
	defer srv.Close()

	c := NewLumaClient(config.MediaConfig{BaseURL: srv.URL})
	page, err := c.ListGenerations(context.Background(), 20, 40)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if page.Count != 2 || page.Offset != 40 || !page.HasMore || len(page.Generations) != 2 {
		t.Fatalf("page = %+v", page)
	}
	g1 := page.Generations[0]
	if g1.Prompt != "the foundry at dusk" || g1.AspectRatio != "16:9" || g1.Model != "ray-2" {
		t.Fatalf("g1 = %+v", g1)
	}
	if len(g1.Assets) != 1 || g1.Assets["video"] != "https://cdn.example/g1.mp4" {
		t.Fatalf("g1 assets = %v, want only the video", g1.Assets)
	}
	if g2 := page.Generations[1]; g2.State != "failed" || g2.FailureReason != "moderation" {
		t.Fatalf("g2 = %+v", g2)
	}
}
