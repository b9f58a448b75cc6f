package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aimastermebjm-byte/azzahra-sync/internal/config"
)

func testFirestoreConfig(baseURL string) config.FirestoreConfig {
	return config.FirestoreConfig{
		ProjectID:       "azzahra-test",
		Collection:      "paymentDetectionsPending",
		UsersCollection: "users",
		OwnerRole:       "owner",
		BaseURL:         baseURL,
	}
}

func TestFirestoreClient_UpsertCommitsKeyedDocument(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewFirestoreClient(testFirestoreConfig(srv.URL), func() string { return "tok-123" })
	rec := ForwardRecord{
		DedupKey:  "abc123",
		Bank:      "com.bca",
		Amount:    10250,
		RawText:   "Transfer masuk Rp 10.250",
		OwnerID:   "uid-1",
		Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := c.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	wantPath := "/projects/azzahra-test/databases/(default)/documents:commit"
	if gotPath != wantPath {
		t.Errorf("path = %q, want %q", gotPath, wantPath)
	}

	var req fsCommitRequest
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("unmarshal commit body: %v", err)
	}
	if len(req.Writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(req.Writes))
	}
	w := req.Writes[0]
	if !strings.HasSuffix(w.Update.Name, "/paymentDetectionsPending/abc123") {
		t.Errorf("document name %q not keyed by dedup key", w.Update.Name)
	}
	if w.Update.Fields["amount"].IntegerValue != "10250" {
		t.Errorf("amount = %q, want 10250", w.Update.Fields["amount"].IntegerValue)
	}
	if got := *w.Update.Fields["bank"].StringValue; got != "com.bca" {
		t.Errorf("bank = %q, want com.bca", got)
	}
	if got := *w.Update.Fields["timestamp"].StringValue; got != "2025-06-01T10:00:00Z" {
		t.Errorf("timestamp = %q, want RFC3339", got)
	}
	if len(w.UpdateTransforms) != 1 || w.UpdateTransforms[0].FieldPath != "createdAt" {
		t.Error("commit must carry a createdAt server-time transform")
	}
}

func TestFirestoreClient_UpsertSameKeyOverwrites(t *testing.T) {
	docs := make(map[string]int64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req fsCommitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad commit body: %v", err)
		}
		for _, wr := range req.Writes {
			var amt int64
			json.Unmarshal([]byte(wr.Update.Fields["amount"].IntegerValue), &amt)
			docs[wr.Update.Name] = amt
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewFirestoreClient(testFirestoreConfig(srv.URL), nil)
	rec := ForwardRecord{DedupKey: "k1", Bank: "com.bca", Amount: 111, Timestamp: time.Now()}
	if err := c.Upsert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	rec.Amount = 222
	if err := c.Upsert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	if len(docs) != 1 {
		t.Errorf("store holds %d documents for one key, want 1", len(docs))
	}
	for _, amt := range docs {
		if amt != 222 {
			t.Errorf("document amount = %d, want latest write 222", amt)
		}
	}
}

func TestFirestoreClient_UpsertSurfacesStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"Missing or insufficient permissions"}}`))
	}))
	defer srv.Close()

	c := NewFirestoreClient(testFirestoreConfig(srv.URL), nil)
	err := c.Upsert(context.Background(), ForwardRecord{DedupKey: "k1", Timestamp: time.Now()})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "insufficient permissions") {
		t.Errorf("error %q does not carry the store's message", err)
	}
}

func TestFirestoreClient_FetchRole(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"fields":{"role":{"stringValue":"owner"}}}`))
	}))
	defer srv.Close()

	c := NewFirestoreClient(testFirestoreConfig(srv.URL), func() string { return "tok-9" })
	role, err := c.FetchRole(context.Background(), "uid-7")
	if err != nil {
		t.Fatalf("FetchRole error: %v", err)
	}
	if role != "owner" {
		t.Errorf("role = %q, want owner", role)
	}
	if !strings.HasSuffix(gotPath, "/documents/users/uid-7") {
		t.Errorf("path = %q, want users/uid-7 document", gotPath)
	}
	if gotAuth != "Bearer tok-9" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}
