package httpexec

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quailhq/quail/internal/qerr"
)

func TestClientDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"method": r.Method,
				"header": r.Header.Get("X-Token"),
				"body":   string(body),
			})
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
			io.WriteString(w, "short and stout")
		case "/slow":
			time.Sleep(300 * time.Millisecond)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient()

	t.Run("round trip", func(t *testing.T) {
		resp, err := client.Do(context.Background(), &Request{
			Method:  "POST",
			URL:     srv.URL + "/echo",
			Headers: map[string]string{"X-Token": "t1"},
			Body:    "payload",
		})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d", resp.StatusCode)
		}
		var echoed map[string]any
		if err := json.Unmarshal([]byte(resp.Body), &echoed); err != nil {
			t.Fatalf("body %q is not json: %v", resp.Body, err)
		}
		if echoed["method"] != "POST" || echoed["header"] != "t1" || echoed["body"] != "payload" {
			t.Errorf("echoed = %#v", echoed)
		}
	})

	t.Run("http errors are responses", func(t *testing.T) {
		resp, err := client.Do(context.Background(), &Request{URL: srv.URL + "/teapot"})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if resp.StatusCode != http.StatusTeapot {
			t.Errorf("status = %d", resp.StatusCode)
		}
		if resp.Body != "short and stout" {
			t.Errorf("body = %q", resp.Body)
		}
	})

	t.Run("defaults to GET", func(t *testing.T) {
		resp, err := client.Do(context.Background(), &Request{URL: srv.URL + "/echo"})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		var echoed map[string]any
		json.Unmarshal([]byte(resp.Body), &echoed)
		if echoed["method"] != "GET" {
			t.Errorf("method = %v", echoed["method"])
		}
	})

	t.Run("per-request timeout", func(t *testing.T) {
		_, err := client.Do(context.Background(), &Request{
			URL:     srv.URL + "/slow",
			Timeout: 50 * time.Millisecond,
		})
		if !qerr.Is(err, qerr.ErrDispatchTimeout) {
			t.Errorf("error = %v, want %s", err, qerr.ErrDispatchTimeout)
		}
	})

	t.Run("missing url", func(t *testing.T) {
		_, err := client.Do(context.Background(), &Request{})
		if !qerr.Is(err, qerr.ErrBadArgument) {
			t.Errorf("error = %v, want %s", err, qerr.ErrBadArgument)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		_, err := client.Do(context.Background(), &Request{URL: "http://127.0.0.1:1/unreachable"})
		if !qerr.Is(err, qerr.ErrDispatch) {
			t.Errorf("error = %v, want %s", err, qerr.ErrDispatch)
		}
	})
}

func TestFromConfig(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		req, err := FromConfig(map[string]any{
			"url":     "https://api.example.com/v1",
			"method":  "put",
			"headers": map[string]any{"X-Id": "9", "skipped": 3},
			"body":    map[string]any{"n": float64(1)},
			"timeout": float64(1500),
		})
		if err != nil {
			t.Fatalf("FromConfig() error = %v", err)
		}
		if req.Method != "put" || req.URL != "https://api.example.com/v1" {
			t.Errorf("req = %+v", req)
		}
		if req.Headers["X-Id"] != "9" {
			t.Errorf("headers = %v", req.Headers)
		}
		if _, ok := req.Headers["skipped"]; ok {
			t.Error("non-string header value should be dropped")
		}
		if req.Timeout != 1500*time.Millisecond {
			t.Errorf("timeout = %v", req.Timeout)
		}
	})

	t.Run("url is required", func(t *testing.T) {
		if _, err := FromConfig(map[string]any{"method": "GET"}); !qerr.Is(err, qerr.ErrBadArgument) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("data aliases body", func(t *testing.T) {
		req, err := FromConfig(map[string]any{"url": "https://a", "data": "d"})
		if err != nil {
			t.Fatalf("FromConfig() error = %v", err)
		}
		if req.Body != "d" {
			t.Errorf("body = %v", req.Body)
		}
	})
}

func TestResponseToMap(t *testing.T) {
	t.Run("json body decoded", func(t *testing.T) {
		r := &Response{
			Status:     "200 OK",
			StatusCode: 200,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"ok":true}`,
			Duration:   120 * time.Millisecond,
		}
		m := r.ToMap()
		if m["status"] != float64(200) || m["statusText"] != "200 OK" {
			t.Errorf("map = %#v", m)
		}
		body, ok := m["body"].(map[string]any)
		if !ok || body["ok"] != true {
			t.Errorf("body = %#v", m["body"])
		}
		if m["duration"] != float64(120) {
			t.Errorf("duration = %v", m["duration"])
		}
	})

	t.Run("text body kept raw", func(t *testing.T) {
		r := &Response{StatusCode: 200, Body: "plain text"}
		if body := r.ToMap()["body"]; body != "plain text" {
			t.Errorf("body = %#v", body)
		}
	})

	t.Run("malformed json kept raw", func(t *testing.T) {
		r := &Response{StatusCode: 200, Body: "{not json"}
		if body := r.ToMap()["body"]; body != "{not json" {
			t.Errorf("body = %#v", body)
		}
	})
}
