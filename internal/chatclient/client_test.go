package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/request"
)

func testEnvelope() request.Envelope {
	lat := 40.7
	return request.Envelope{
		AppID:     "app-1",
		Version:   3,
		ChatName:  "alice",
		Latitude:  &lat,
		Timestamp: time.UnixMilli(1700000000000),
	}
}

func TestRegister(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	if err := c.Register(context.Background(), srv.URL+"/", testEnvelope()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if got.Method != http.MethodPost || got.URL.Path != "/chat/register" {
		t.Errorf("unexpected request %s %s", got.Method, got.URL.Path)
	}
	if name := got.URL.Query().Get(ChatNameParam); name != "alice" {
		t.Errorf("expected chat-name alice, got %q", name)
	}
	if got.Header.Get(HeaderAppID) != "app-1" {
		t.Errorf("expected app id header, got %q", got.Header.Get(HeaderAppID))
	}
	if got.Header.Get(HeaderAppVersion) != "3" {
		t.Errorf("expected version header 3, got %q", got.Header.Get(HeaderAppVersion))
	}
	if got.Header.Get(HeaderTimestamp) != "1700000000000" {
		t.Errorf("unexpected timestamp header %q", got.Header.Get(HeaderTimestamp))
	}
	if got.Header.Get(HeaderLatitude) != "40.7" {
		t.Errorf("expected latitude header 40.7, got %q", got.Header.Get(HeaderLatitude))
	}
	if _, ok := got.Header[HeaderLongitude]; ok {
		t.Error("unknown longitude must not be sent")
	}
}

func TestRegister_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"chat-name is required"}`))
	}))
	defer srv.Close()

	err := NewClient(time.Second).Register(context.Background(), srv.URL, testEnvelope())

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusBadRequest || se.Message != "chat-name is required" {
		t.Errorf("unexpected status error %+v", se)
	}
}

func TestPostMessage(t *testing.T) {
	msg := models.NewMessage("hi", "general", "alice")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/alice" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get(HeaderIdempotencyKey) != msg.UID {
			t.Errorf("expected idempotency key %q, got %q", msg.UID, r.Header.Get(HeaderIdempotencyKey))
		}

		var body models.Message
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Chatroom != "general" || body.Text != "hi" {
			t.Errorf("unexpected body %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	id, err := NewClient(time.Second).PostMessage(context.Background(), srv.URL, testEnvelope(), msg)
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if id != 42 {
		t.Errorf("expected id 42, got %d", id)
	}
}

func TestPostMessage_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	_, err := NewClient(20*time.Millisecond).PostMessage(context.Background(), srv.URL, testEnvelope(), models.NewMessage("hi", "general", "alice"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Errorf("timeout should be a transport error, got status error %v", se)
	}
}

func TestEndpoint_RejectsBadURI(t *testing.T) {
	for _, uri := range []string{"", "ftp://chat.example", "::nope"} {
		if _, err := endpoint(uri, "/chat/register"); err == nil {
			t.Errorf("expected error for %q", uri)
		}
	}
}

func TestGetMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/rooms/general/messages" || r.URL.Query().Get("since") != "5" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Write([]byte(`{"chatroom":"general","messages":[{"seqnum":6,"uid":"u","text":"hi","chatroom":"general","sender":"bob","ts":1}],"has_more":false}`))
	}))
	defer srv.Close()

	resp, err := NewClient(time.Second).GetMessages(context.Background(), srv.URL, "general", 5, 10)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].SeqNum != 6 {
		t.Errorf("unexpected messages %+v", resp.Messages)
	}
}
