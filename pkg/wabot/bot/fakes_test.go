package bot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
	"github.com/jholhewres/wabot/pkg/wabot/features"
	"github.com/jholhewres/wabot/pkg/wabot/media"
	"github.com/jholhewres/wabot/pkg/wabot/remote"
)

const (
	adminID = "923001234567@s.whatsapp.net"
	userID  = "923009999999@s.whatsapp.net"
	selfID  = "923000000000@s.whatsapp.net"
	groupID = "120363000000000000@g.us"
)

type sentText struct {
	to  string
	msg *channels.OutgoingMessage
	at  time.Time
}

type sentMedia struct {
	to  string
	msg *channels.MediaMessage
}

// recordingMessenger records every call in order.
type recordingMessenger struct {
	mu sync.Mutex

	ops   []string
	texts []sentText
	media []sentMedia

	contacts     []channels.Contact
	participants []string
	download     []byte
	downloadMIME string
	saved        map[string]string
	bios         []string
	presence     int

	markReadErr error
	sendErr     map[string]error
}

func newRecordingMessenger() *recordingMessenger {
	return &recordingMessenger{saved: map[string]string{}, sendErr: map[string]error{}}
}

func (m *recordingMessenger) record(op string) {
	m.ops = append(m.ops, op)
}

func (m *recordingMessenger) Send(_ context.Context, to string, msg *channels.OutgoingMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendErr[to]; err != nil {
		return err
	}
	m.record("send:" + msg.Content)
	m.texts = append(m.texts, sentText{to: to, msg: msg, at: time.Now()})
	return nil
}

func (m *recordingMessenger) SendMedia(_ context.Context, to string, msg *channels.MediaMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("media:" + string(msg.Type))
	m.media = append(m.media, sentMedia{to: to, msg: msg})
	return nil
}

func (m *recordingMessenger) DownloadMedia(_ context.Context, info *channels.MediaInfo) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("download")
	if m.download == nil {
		return nil, "", errors.New("no payload")
	}
	return m.download, m.downloadMIME, nil
}

func (m *recordingMessenger) SendReaction(_ context.Context, chatID, senderID, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("react:" + emoji)
	return nil
}

func (m *recordingMessenger) MarkRead(_ context.Context, chatID, senderID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("read:" + chatID)
	return m.markReadErr
}

func (m *recordingMessenger) RejectCall(_ context.Context, from, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("reject:" + callID)
	return nil
}

func (m *recordingMessenger) SendTyping(_ context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("typing")
	return nil
}

func (m *recordingMessenger) SendRecording(_ context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("recording")
	return nil
}

func (m *recordingMessenger) SendPresence(_ context.Context, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence++
	return nil
}

func (m *recordingMessenger) SelfID() string { return selfID }

func (m *recordingMessenger) Contacts(context.Context) ([]channels.Contact, error) {
	return m.contacts, nil
}

func (m *recordingMessenger) GroupParticipants(context.Context, string) ([]string, error) {
	return m.participants, nil
}

func (m *recordingMessenger) SaveContact(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("save:" + name)
	m.saved[id] = name
	return nil
}

func (m *recordingMessenger) SetStatusMessage(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bios = append(m.bios, text)
	return nil
}

// textsTo returns the contents sent to a recipient.
func (m *recordingMessenger) textsTo(to string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.texts {
		if s.to == to {
			out = append(out, s.msg.Content)
		}
	}
	return out
}

func (m *recordingMessenger) lastText(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.texts) == 0 {
		t.Fatal("no text was sent")
	}
	return m.texts[len(m.texts)-1].msg.Content
}

func (m *recordingMessenger) opsSnapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// fakeExtractor serves a fixed source.
type fakeExtractor struct {
	formats []media.Format
	data    []byte
	opened  int
}

func (f *fakeExtractor) Resolve(_ context.Context, ref string) (*media.Source, error) {
	return &media.Source{ID: "dQw4w9WgXcQ", Title: "Test Song", Formats: f.formats}, nil
}

func (f *fakeExtractor) Open(context.Context, *media.Source, media.Format) (io.ReadCloser, error) {
	f.opened++
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

type fakeChat struct {
	key    string
	answer string
	err    error
}

func (f *fakeChat) Configured() bool { return f.key != "" }

func (f *fakeChat) Complete(context.Context, string) (string, error) {
	return f.answer, f.err
}

type fakeImages struct {
	photos []remote.Photo
}

func (f *fakeImages) Configured() bool { return true }

func (f *fakeImages) SearchImages(context.Context, string, int) ([]remote.Photo, error) {
	return f.photos, nil
}

type fakeSearch struct {
	results []remote.SearchResult
	queries []string
}

func (f *fakeSearch) Search(_ context.Context, q string, _ int) ([]remote.SearchResult, error) {
	f.queries = append(f.queries, q)
	return f.results, nil
}

type fakeScreenshots struct {
	shot *remote.Screenshot
}

func (f *fakeScreenshots) Capture(context.Context, string) (*remote.Screenshot, error) {
	return f.shot, nil
}

type testBot struct {
	*Bot
	msgr    *recordingMessenger
	tempDir string
}

// newTestBot builds a bot with admin adminID, a 20ms broadcast delay and
// deterministic emoji picks.
func newTestBot(t *testing.T, services Services) *testBot {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Admins = []string{"923001234567@c.us"}
	cfg.Broadcast.Delay = 20 * time.Millisecond
	cfg.Media.TempDir = t.TempDir()

	flags, err := features.New(nil)
	if err != nil {
		t.Fatalf("features.New: %v", err)
	}

	msgr := newRecordingMessenger()
	b, err := New(cfg, Deps{
		Messenger: msgr,
		Flags:     flags,
		Stager:    media.NewStager(cfg.Media, nil, nil),
		Services:  services,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.intn = func(int) int { return 0 }
	return &testBot{Bot: b, msgr: msgr, tempDir: cfg.Media.TempDir}
}

func (tb *testBot) setFlag(t *testing.T, name string, on bool) {
	t.Helper()
	if err := tb.flags.Set(name, on); err != nil {
		t.Fatalf("Set(%s): %v", name, err)
	}
}

// quiet turns off the reactive steps so only command traffic is recorded.
func (tb *testBot) quiet(t *testing.T) {
	t.Helper()
	for _, name := range []string{features.AutoViewStatus, features.AutoReact, features.AutoReply} {
		tb.setFlag(t, name, false)
	}
}

func (tb *testBot) stagedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(tb.tempDir)
	if err != nil {
		t.Fatalf("reading temp dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func dm(from, body string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:      "MSG" + strings.ToUpper(strings.ReplaceAll(body, " ", "")),
		Channel: "whatsapp",
		From:    from,
		ChatID:  from,
		Type:    channels.MessageText,
		Content: body,
	}
}

func inGroup(from, body string) *channels.IncomingMessage {
	msg := dm(from, body)
	msg.ChatID = groupID
	msg.IsGroup = true
	return msg
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}
