package processor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/chatclient"
	"github.com/eldtechnologies/peerchat/internal/identity"
	"github.com/eldtechnologies/peerchat/internal/location"
	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/request"
	"github.com/eldtechnologies/peerchat/internal/store"
)

// recorder keeps the order of calls across the fake store and remote.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fakeStore is an in-memory store.LocalStore.
type fakeStore struct {
	rec       *recorder
	mu        sync.Mutex
	peers     map[string]models.Peer
	rooms     map[string]bool
	messages  map[int64]models.Message
	nextID    int64
	insertErr error
}

func newFakeStore(rec *recorder) *fakeStore {
	return &fakeStore{
		rec:      rec,
		peers:    make(map[string]models.Peer),
		rooms:    make(map[string]bool),
		messages: make(map[int64]models.Message),
	}
}

func (s *fakeStore) Close() {}

func (s *fakeStore) UpsertPeer(_ context.Context, peer *models.Peer) error {
	s.rec.add("upsertPeer")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[peer.Name] = *peer
	return nil
}

func (s *fakeStore) GetPeer(_ context.Context, name string) (*models.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[name]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *fakeStore) InsertChatroom(_ context.Context, room *models.Chatroom) error {
	s.rec.add("insertChatroom")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.Name] = true
	return nil
}

func (s *fakeStore) ListChatrooms(context.Context) ([]models.Chatroom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []models.Chatroom
	for name := range s.rooms {
		rooms = append(rooms, models.Chatroom{Name: name})
	}
	return rooms, nil
}

func (s *fakeStore) InsertMessage(_ context.Context, msg *models.Message) (int64, error) {
	s.rec.add("insertMessage")
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	s.messages[msg.ID] = *msg
	return msg.ID, nil
}

func (s *fakeStore) UpdateMessageSequence(_ context.Context, id, seqNum int64) error {
	s.rec.add("updateMessageSequence")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	if m.SeqNum != nil {
		return store.ErrSequenceAlreadySet
	}
	m.SeqNum = &seqNum
	s.messages[id] = m
	return nil
}

func (s *fakeStore) GetMessage(_ context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *fakeStore) ListMessages(context.Context, string) ([]models.Message, error) { return nil, nil }
func (s *fakeStore) ListUnsequenced(context.Context) ([]models.Message, error)      { return nil, nil }

// fakeRemote is a scripted RemoteChatService.
type fakeRemote struct {
	rec         *recorder
	registerErr error
	postErr     error
	seqNums     []int64

	registered []request.Envelope
	posted     []models.Message
}

func (r *fakeRemote) Register(_ context.Context, _ string, env request.Envelope) error {
	r.rec.add("register")
	r.registered = append(r.registered, env)
	return r.registerErr
}

func (r *fakeRemote) PostMessage(_ context.Context, _ string, _ request.Envelope, msg *models.Message) (int64, error) {
	r.rec.add("postMessage")
	r.posted = append(r.posted, *msg)
	if r.postErr != nil {
		return 0, r.postErr
	}
	seq := r.seqNums[0]
	r.seqNums = r.seqNums[1:]
	return seq, nil
}

// fakeSettings is an in-memory Settings.
type fakeSettings struct {
	rec       *recorder
	chatName  string
	serverURI string
}

func (s *fakeSettings) ChatName() string  { return s.chatName }
func (s *fakeSettings) ServerURI() string { return s.serverURI }
func (s *fakeSettings) SaveServerURI(uri string) error {
	s.rec.add("saveServerURI")
	s.serverURI = uri
	return nil
}
func (s *fakeSettings) SaveChatName(name string) error {
	s.rec.add("saveChatName")
	s.chatName = name
	return nil
}

type fakeIdentity struct {
	version    int64
	versionErr error
}

func (fakeIdentity) AppID() string                 { return "app-1" }
func (i fakeIdentity) AppVersion() (int64, error) { return i.version, i.versionErr }

type harness struct {
	rec      *recorder
	store    *fakeStore
	remote   *fakeRemote
	settings *fakeSettings
	proc     *Processor
}

func newHarness(t *testing.T, loc location.Provider, id identity.Provider) *harness {
	t.Helper()

	rec := &recorder{}
	h := &harness{
		rec:      rec,
		store:    newFakeStore(rec),
		remote:   &fakeRemote{rec: rec},
		settings: &fakeSettings{rec: rec},
	}
	h.proc = New(Deps{
		Settings: h.settings,
		Identity: id,
		Location: loc,
		Remote:   h.remote,
		Store:    h.store,
		Logger:   zerolog.New(io.Discard),
		Now:      func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	return h
}

func defaultHarness(t *testing.T) *harness {
	return newHarness(t, location.NewStatic(40.7, -74.0), fakeIdentity{version: 3})
}

// registered returns a harness whose peer is already registered as alice.
func registered(t *testing.T) *harness {
	t.Helper()
	h := defaultHarness(t)
	h.settings.chatName = "alice"
	h.settings.serverURI = "http://chat.test"
	return h
}

func TestEndToEnd_RegisterThenPost(t *testing.T) {
	h := defaultHarness(t)
	ctx := context.Background()

	resp := h.proc.Process(ctx, request.NewRegister("http://chat.test", "alice"))
	if _, ok := resp.(*request.RegisterResponse); !ok {
		t.Fatalf("expected *RegisterResponse, got %#v", resp)
	}

	peer, _ := h.store.GetPeer(ctx, "alice")
	if peer == nil {
		t.Fatal("expected peer alice to be persisted")
	}
	if peer.Latitude == nil || *peer.Latitude != 40.7 || peer.Longitude == nil || *peer.Longitude != -74.0 {
		t.Errorf("unexpected peer location %v,%v", peer.Latitude, peer.Longitude)
	}
	if !h.store.rooms[DefaultChatroom] {
		t.Error("expected default chatroom to be persisted")
	}
	if h.settings.chatName != "alice" || h.settings.serverURI != "http://chat.test" {
		t.Errorf("settings not saved: %+v", h.settings)
	}

	h.remote.seqNums = []int64{42}
	msg := &models.Message{Text: "hi", Chatroom: " general ", Sender: "alice"}
	resp = h.proc.Process(ctx, request.NewPostMessage(msg))

	post, ok := resp.(*request.PostMessageResponse)
	if !ok {
		t.Fatalf("expected *PostMessageResponse, got %#v", resp)
	}
	if post.MessageID != 42 {
		t.Errorf("expected message id 42, got %d", post.MessageID)
	}

	stored, _ := h.store.GetMessage(ctx, 1)
	if stored == nil {
		t.Fatal("expected message at local key 1")
	}
	if stored.Chatroom != "general" {
		t.Errorf("expected stored chatroom %q, got %q", "general", stored.Chatroom)
	}
	if stored.SeqNum == nil || *stored.SeqNum != 42 {
		t.Errorf("expected sequence number 42, got %v", stored.SeqNum)
	}
	if h.remote.posted[0].Chatroom != "general" {
		t.Errorf("expected uploaded chatroom %q, got %q", "general", h.remote.posted[0].Chatroom)
	}
}

func TestDecorate_EnvelopeCompleteness(t *testing.T) {
	h := registered(t)
	h.remote.seqNums = []int64{1}

	req := request.NewPostMessage(models.NewMessage("hi", "general", ""))
	h.proc.Process(context.Background(), req)

	if req.AppID != "app-1" {
		t.Errorf("expected app id app-1, got %q", req.AppID)
	}
	if req.ChatName != "alice" {
		t.Errorf("expected chat name from settings, got %q", req.ChatName)
	}
	if req.Version != 3 {
		t.Errorf("expected version 3, got %d", req.Version)
	}
	if req.Latitude == nil || *req.Latitude != 40.7 {
		t.Errorf("expected latitude 40.7, got %v", req.Latitude)
	}
	if req.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if req.Message.Sender != "alice" || req.Message.AppID != "app-1" {
		t.Errorf("expected sender metadata on message, got %+v", req.Message)
	}
}

func TestDecorate_RegisterKeepsChatName(t *testing.T) {
	h := registered(t)

	req := request.NewRegister("http://chat.test", "bob")
	h.proc.Process(context.Background(), req)

	if req.ChatName != "bob" {
		t.Errorf("expected register chat name to be kept, got %q", req.ChatName)
	}
	if h.remote.registered[0].ChatName != "bob" {
		t.Errorf("expected bob to be registered, got %q", h.remote.registered[0].ChatName)
	}
}

func TestDecorate_VersionUnavailableIsNotFatal(t *testing.T) {
	h := newHarness(t, location.NewStatic(1, 2), fakeIdentity{versionErr: identity.ErrVersionUnavailable})

	req := request.NewRegister("http://chat.test", "alice")
	resp := h.proc.Process(context.Background(), req)

	if _, ok := resp.(*request.RegisterResponse); !ok {
		t.Fatalf("expected registration to proceed, got %#v", resp)
	}
	if req.Version != 0 {
		t.Errorf("expected version left at default, got %d", req.Version)
	}
}

func TestDecorate_UnknownLocation(t *testing.T) {
	h := newHarness(t, location.Unknown{}, fakeIdentity{version: 1})

	req := request.NewRegister("http://chat.test", "alice")
	resp := h.proc.Process(context.Background(), req)

	if _, ok := resp.(*request.RegisterResponse); !ok {
		t.Fatalf("expected registration to proceed, got %#v", resp)
	}
	if req.Latitude != nil || req.Longitude != nil {
		t.Error("expected unknown location to stay unset")
	}
	peer, _ := h.store.GetPeer(context.Background(), "alice")
	if peer.Latitude != nil || peer.Longitude != nil {
		t.Error("expected peer location to be unknown")
	}
}

func TestProcess_WithoutChatName(t *testing.T) {
	h := defaultHarness(t)

	resp := h.proc.Process(context.Background(), request.NewPostMessage(models.NewMessage("hi", "general", "")))

	errResp, ok := resp.(*request.ErrorResponse)
	if !ok || errResp.ResponseCode != request.CodeInvalid {
		t.Fatalf("expected invalid request error, got %#v", resp)
	}
	if calls := h.rec.list(); len(calls) != 0 {
		t.Errorf("expected no store or remote calls, got %v", calls)
	}
}

func TestProcess_Nil(t *testing.T) {
	h := defaultHarness(t)

	resp := h.proc.Process(context.Background(), nil)
	errResp, ok := resp.(*request.ErrorResponse)
	if !ok || errResp.ResponseCode != request.CodeUnsupported {
		t.Fatalf("expected unsupported request error, got %#v", resp)
	}
}

func TestRegister_FailureWritesNothing(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"server rejects", &chatclient.StatusError{StatusCode: 409, Status: "Conflict", Message: "name taken"}, 409},
		{"transport", errors.New("connection refused"), request.CodeTransport},
		{"timeout", context.DeadlineExceeded, request.CodeTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := defaultHarness(t)
			h.remote.registerErr = tt.err

			resp := h.proc.Process(context.Background(), request.NewRegister("http://chat.test", "alice"))

			errResp, ok := resp.(*request.ErrorResponse)
			if !ok {
				t.Fatalf("expected *ErrorResponse, got %#v", resp)
			}
			if errResp.ResponseCode != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, errResp.ResponseCode)
			}
			if calls := h.rec.list(); !reflect.DeepEqual(calls, []string{"register"}) {
				t.Errorf("expected only the remote call, got %v", calls)
			}
			if h.settings.chatName != "" || h.settings.serverURI != "" {
				t.Errorf("settings must not change on failure: %+v", h.settings)
			}
		})
	}
}

func TestRegister_Twice(t *testing.T) {
	h := defaultHarness(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp := h.proc.Process(ctx, request.NewRegister("http://chat.test", "alice"))
		if _, ok := resp.(*request.RegisterResponse); !ok {
			t.Fatalf("registration %d: expected *RegisterResponse, got %#v", i+1, resp)
		}
	}
	if len(h.store.rooms) != 1 {
		t.Errorf("expected one default chatroom, got %d", len(h.store.rooms))
	}
}

func TestPostMessage_OfflineFirstOrdering(t *testing.T) {
	tests := []struct {
		name    string
		postErr error
		want    []string
	}{
		{"accepted", nil, []string{"insertMessage", "postMessage", "updateMessageSequence"}},
		{"rejected", &chatclient.StatusError{StatusCode: 503, Status: "Service Unavailable"}, []string{"insertMessage", "postMessage"}},
		{"unreachable", errors.New("no route to host"), []string{"insertMessage", "postMessage"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := registered(t)
			h.remote.postErr = tt.postErr
			h.remote.seqNums = []int64{7}

			h.proc.Process(context.Background(), request.NewPostMessage(models.NewMessage("hi", "general", "alice")))

			if calls := h.rec.list(); !reflect.DeepEqual(calls, tt.want) {
				t.Errorf("expected calls %v, got %v", tt.want, calls)
			}
		})
	}
}

func TestPostMessage_UploadFailureKeepsMessage(t *testing.T) {
	h := registered(t)
	h.remote.postErr = &chatclient.StatusError{StatusCode: 503, Status: "Service Unavailable", Message: "try later"}

	resp := h.proc.Process(context.Background(), request.NewPostMessage(models.NewMessage("hi", "general", "alice")))

	errResp, ok := resp.(*request.ErrorResponse)
	if !ok {
		t.Fatalf("expected *ErrorResponse, got %#v", resp)
	}
	if errResp.ResponseCode != 503 || errResp.ResponseMessage != "Service Unavailable" || errResp.ErrorMessage != "try later" {
		t.Errorf("unexpected error response %+v", errResp)
	}

	stored, _ := h.store.GetMessage(context.Background(), 1)
	if stored == nil {
		t.Fatal("message must stay in the local store")
	}
	if stored.SeqNum != nil {
		t.Errorf("expected unset sequence number, got %d", *stored.SeqNum)
	}
}

func TestPostMessage_RejectionIsLoggedAsError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel string
		rejected  bool
	}{
		{"refused by server", &chatclient.StatusError{StatusCode: 400, Message: "text is required"}, "error", true},
		{"too long", &chatclient.StatusError{StatusCode: 422}, "error", true},
		{"rate limited", &chatclient.StatusError{StatusCode: 429}, "warn", false},
		{"server down", &chatclient.StatusError{StatusCode: 503}, "warn", false},
		{"offline", errors.New("offline"), "warn", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := registered(t)
			var buf bytes.Buffer
			h.proc.logger = zerolog.New(&buf)
			h.remote.postErr = tt.err

			h.proc.Process(context.Background(), request.NewPostMessage(models.NewMessage("hi", "general", "alice")))

			out := buf.String()
			if !strings.Contains(out, `"level":"`+tt.wantLevel+`"`) {
				t.Errorf("expected %s log, got %s", tt.wantLevel, out)
			}
			if got := strings.Contains(out, "server rejected message"); got != tt.rejected {
				t.Errorf("rejection logged = %v, want %v: %s", got, tt.rejected, out)
			}
		})
	}
}

func TestPostMessage_InsertFailureSkipsUpload(t *testing.T) {
	h := registered(t)
	h.store.insertErr = errors.New("disk full")

	resp := h.proc.Process(context.Background(), request.NewPostMessage(models.NewMessage("hi", "general", "alice")))

	errResp, ok := resp.(*request.ErrorResponse)
	if !ok || errResp.ResponseCode != request.CodeLocalStore {
		t.Fatalf("expected local store error, got %#v", resp)
	}
	if calls := h.rec.list(); !reflect.DeepEqual(calls, []string{"insertMessage"}) {
		t.Errorf("expected no upload after failed insert, got %v", calls)
	}
}

func TestPostMessage_SequenceSetOnce(t *testing.T) {
	h := registered(t)
	h.remote.seqNums = []int64{42, 43}
	ctx := context.Background()

	msg := models.NewMessage("hi", "general", "alice")
	if _, ok := h.proc.Process(ctx, request.NewPostMessage(msg)).(*request.PostMessageResponse); !ok {
		t.Fatal("expected first post to succeed")
	}

	// Resubmitting the sequenced message by its local key is refused
	again := &models.Message{ID: msg.ID}
	resp := h.proc.Process(ctx, request.NewPostMessage(again))
	errResp, ok := resp.(*request.ErrorResponse)
	if !ok || errResp.ResponseCode != request.CodeInvalid {
		t.Fatalf("expected invalid request error, got %#v", resp)
	}
	if len(h.remote.posted) != 1 {
		t.Errorf("expected a single upload, got %d", len(h.remote.posted))
	}

	stored, _ := h.store.GetMessage(ctx, msg.ID)
	if *stored.SeqNum != 42 {
		t.Errorf("expected sequence to stay 42, got %d", *stored.SeqNum)
	}
}

func TestPostMessage_Resubmission(t *testing.T) {
	h := registered(t)
	h.remote.postErr = errors.New("offline")
	ctx := context.Background()

	msg := models.NewMessage("hi", "general", "alice")
	h.proc.Process(ctx, request.NewPostMessage(msg))

	h.remote.postErr = nil
	h.remote.seqNums = []int64{9}
	resp := h.proc.Process(ctx, request.NewPostMessage(&models.Message{ID: msg.ID}))

	post, ok := resp.(*request.PostMessageResponse)
	if !ok || post.MessageID != 9 {
		t.Fatalf("expected post to succeed with id 9, got %#v", resp)
	}

	calls := h.rec.list()
	want := []string{"insertMessage", "postMessage", "postMessage", "updateMessageSequence"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("expected calls %v, got %v", want, calls)
	}
	if h.remote.posted[0].UID != h.remote.posted[1].UID {
		t.Error("resubmission must reuse the message uid")
	}
}

func TestPostMessage_UnknownLocalKey(t *testing.T) {
	h := registered(t)

	resp := h.proc.Process(context.Background(), request.NewPostMessage(&models.Message{ID: 99}))
	errResp, ok := resp.(*request.ErrorResponse)
	if !ok || errResp.ResponseCode != request.CodeInvalid {
		t.Fatalf("expected invalid request error, got %#v", resp)
	}
	if len(h.remote.posted) != 0 {
		t.Error("unknown message must not be uploaded")
	}
}

func TestGo(t *testing.T) {
	h := registered(t)
	h.remote.seqNums = []int64{5}

	msg := models.NewMessage("hi", " general", "alice")
	resp := <-h.proc.Go(context.Background(), request.NewPostMessage(msg))

	post, ok := resp.(*request.PostMessageResponse)
	if !ok || post.MessageID != 5 {
		t.Fatalf("expected post message response with id 5, got %#v", resp)
	}
	if msg.ID != 0 || msg.Chatroom != " general" {
		t.Error("caller's message must not be touched by the async handler")
	}

	stored, _ := h.store.GetMessage(context.Background(), 1)
	if stored == nil || stored.UID != msg.UID || stored.Chatroom != "general" {
		t.Errorf("unexpected stored message %+v", stored)
	}
}

func TestExactlyOneResponse(t *testing.T) {
	h := registered(t)
	h.remote.seqNums = []int64{1}

	reqs := []request.Request{
		request.NewRegister("http://chat.test", "alice"),
		request.NewPostMessage(models.NewMessage("hi", "general", "alice")),
	}
	for _, req := range reqs {
		resp := h.proc.Process(context.Background(), req)
		if resp == nil {
			t.Fatalf("%s: nil response", req.Kind())
		}
		if !request.Succeeded(req, resp) {
			if _, isErr := resp.(*request.ErrorResponse); !isErr {
				t.Errorf("%s: response %T is neither the expected success nor an error", req.Kind(), resp)
			}
		}
	}
}
