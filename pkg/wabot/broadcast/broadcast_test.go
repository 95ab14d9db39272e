package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

type fakeDirectory struct {
	self     string
	contacts []channels.Contact
	err      error
}

func (d *fakeDirectory) SelfID() string { return d.self }

func (d *fakeDirectory) Contacts(context.Context) ([]channels.Contact, error) {
	return d.contacts, d.err
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	times  []time.Time
	fail   map[string]bool
	onSend func()
}

func (s *fakeSender) Send(_ context.Context, to string, msg *channels.OutgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onSend != nil {
		s.onSend()
	}
	if s.fail[to] {
		return errors.New("send failed")
	}
	s.sent = append(s.sent, to)
	s.times = append(s.times, time.Now())
	return nil
}

func TestBroadcastAll(t *testing.T) {
	dir := &fakeDirectory{
		self: "5511999990000:3@s.whatsapp.net",
		contacts: []channels.Contact{
			{ID: "5511111111111@s.whatsapp.net"},
			{ID: "120363000000000000@g.us", IsGroup: true},
			{ID: "5511999990000@s.whatsapp.net"},
			{ID: ""},
			{ID: "5522222222222@s.whatsapp.net"},
			{ID: "5533333333333@s.whatsapp.net"},
			{ID: "5511111111111@c.us"},
			{ID: "status@broadcast"},
		},
	}
	sender := &fakeSender{fail: map[string]bool{"5522222222222@s.whatsapp.net": true}}

	th := New(dir, sender, Config{Delay: 20 * time.Millisecond}, nil)
	res, err := th.BroadcastAll(context.Background(), "hello all")
	if err != nil {
		t.Fatalf("BroadcastAll: %v", err)
	}

	if res.Attempted != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempted)
	}
	if res.Sent != 2 || res.Failed != 1 {
		t.Errorf("expected 2 sent and 1 failed, got %+v", res)
	}
	if res.Skipped != 5 {
		t.Errorf("expected 5 skipped, got %d", res.Skipped)
	}

	if len(sender.times) == 2 {
		gap := sender.times[1].Sub(sender.times[0])
		// Two limiter intervals separate the first and third recipients.
		if gap < 30*time.Millisecond {
			t.Errorf("sends not paced: gap %v", gap)
		}
	}
}

func TestBroadcastEnumerationFailure(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("store closed")}
	sender := &fakeSender{}

	res, err := New(dir, sender, Config{}, nil).BroadcastAll(context.Background(), "x")
	if err == nil {
		t.Fatal("expected enumeration error")
	}
	if res.Attempted != 0 || len(sender.sent) != 0 {
		t.Errorf("nothing should be sent, got %+v", res)
	}
}

func TestBroadcastCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := &fakeDirectory{contacts: []channels.Contact{
		{ID: "5511111111111@s.whatsapp.net"},
		{ID: "5522222222222@s.whatsapp.net"},
		{ID: "5533333333333@s.whatsapp.net"},
	}}
	sender := &fakeSender{onSend: cancel}

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		defer close(done)
		res, err = New(dir, sender, Config{Delay: time.Hour}, nil).BroadcastAll(ctx, "x")
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast did not stop after cancellation")
	}

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if res.Sent != 1 {
		t.Errorf("expected 1 send before cancellation, got %d", res.Sent)
	}
}

func TestNoPacing(t *testing.T) {
	dir := &fakeDirectory{contacts: []channels.Contact{
		{ID: "5511111111111@s.whatsapp.net"},
		{ID: "5522222222222@s.whatsapp.net"},
	}}
	sender := &fakeSender{}

	start := time.Now()
	res, err := New(dir, sender, Config{Delay: -1}, nil).BroadcastAll(context.Background(), "x")
	if err != nil {
		t.Fatalf("BroadcastAll: %v", err)
	}
	if res.Sent != 2 {
		t.Errorf("expected 2 sends, got %d", res.Sent)
	}
	if time.Since(start) > time.Second {
		t.Error("negative delay should disable pacing")
	}
}
