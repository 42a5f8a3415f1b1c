package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL + "/")
}

func TestHealth(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/health" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok","connections":2,"listeners":3,"uptime":"5s"}`))
	})
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" || h.Connections != 2 || h.Listeners != 3 {
		t.Errorf("health = %+v", h)
	}
}

func TestConnectionsAndWindows(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/connections":
			w.Write([]byte(`{"connections":[{"id":"conn-1","phase":"Ready"}]}`))
		case "/v1/windows":
			w.Write([]byte(`{"windows":[{"id":"main","title":"Main","status":"FOCUSED"}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	conns, err := c.Connections(context.Background())
	if err != nil || len(conns) != 1 || conns[0].Phase != "Ready" {
		t.Fatalf("Connections = %+v, %v", conns, err)
	}
	wins, err := c.Windows(context.Background())
	if err != nil || len(wins) != 1 || wins[0].Status != "FOCUSED" {
		t.Fatalf("Windows = %+v, %v", wins, err)
	}
}

func TestEmit(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/events" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if string(body["name"]) != `"data.changed"` || string(body["payload"]) != `{"n":1}` {
			t.Errorf("body = %v", body)
		}
		if _, ok := body["source"]; ok {
			t.Error("empty source should be omitted")
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"evt-1","name":"data.changed","payload":{"n":1},"timestamp":7,"source":"http"}`))
	})
	e, err := c.Emit(context.Background(), "data.changed", json.RawMessage(`{"n":1}`), "")
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if e.ID != "evt-1" || e.Source != "http" {
		t.Errorf("event = %+v", e)
	}
}

func TestAPIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"name is required"}`))
	})
	_, err := c.Emit(context.Background(), "", nil, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "name is required" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestAPIError_PlainBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := c.Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "boom" {
		t.Fatalf("err = %v", err)
	}
}
