package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func embedServer(t *testing.T, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{0.6, 0.8}},
			},
		})
	}))
}

func TestRemoteClient_embed(t *testing.T) {
	var gotAuth, gotBody string
	srv := embedServer(t, func(r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req embeddingsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotBody = req.Input
		if req.Model != "acme/remote" {
			t.Errorf("model = %s", req.Model)
		}
		if req.EncodingFormat != "float" {
			t.Errorf("encoding_format = %s", req.EncodingFormat)
		}
	})
	defer srv.Close()

	c := NewRemoteClient(srv.URL, "sk-stored", "acme/remote", 2)
	vec, err := c.Embed(context.Background(), "black cat")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if gotAuth != "Bearer sk-stored" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody != "black cat" {
		t.Errorf("input = %q", gotBody)
	}
	if len(vec) != 2 || vec[0] != 0.6 {
		t.Errorf("vec = %v", vec)
	}
}

func TestRemoteClient_keyOverride(t *testing.T) {
	var gotAuth string
	srv := embedServer(t, func(r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	})
	defer srv.Close()

	c := NewRemoteClient(srv.URL, "sk-stored", "m", 2)
	if _, err := c.EmbedWithKey(context.Background(), "q", "sk-override"); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer sk-override" {
		t.Errorf("override should win: %q", gotAuth)
	}
}

func TestRemoteClient_non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, "bad", "m", 2)
	_, err := c.Embed(context.Background(), "q")
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remoteErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d", remoteErr.Status)
	}
	if remoteErr.Body == "" {
		t.Error("body should carry upstream diagnostics")
	}
}

func TestRemoteClient_emptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, "k", "m", 2)
	_, err := c.Embed(context.Background(), "q")
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError for empty data, got %v", err)
	}
}

func TestRemoteClient_connectionRefused(t *testing.T) {
	c := NewRemoteClient("http://127.0.0.1:1/v1/embeddings", "k", "m", 2)
	_, err := c.Embed(context.Background(), "q")
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remoteErr.Unwrap() == nil {
		t.Error("transport failure should carry the underlying error")
	}
}
