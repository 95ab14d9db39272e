package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

func newTestStager(t *testing.T) *Stager {
	t.Helper()
	return NewStager(Config{TempDir: t.TempDir(), MaxSizeMB: 1}, nil, nil)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetchURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dog.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg-bytes"))
		case "/big":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(bytes.Repeat([]byte("x"), 2*1024*1024))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	t.Run("stages body with requested category", func(t *testing.T) {
		s := newTestStager(t)
		art, err := s.FetchURL(ctx, srv.URL+"/dog.jpg", CategoryImage)
		if err != nil {
			t.Fatalf("FetchURL: %v", err)
		}
		defer art.Cleanup()

		if art.Category != CategoryImage {
			t.Errorf("expected category image, got %s", art.Category)
		}
		if art.MimeType != "image/jpeg" {
			t.Errorf("expected image/jpeg, got %s", art.MimeType)
		}
		if filepath.Ext(art.Path) != ".jpg" {
			t.Errorf("expected .jpg extension, got %s", art.Path)
		}
		data, err := art.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if string(data) != "jpeg-bytes" {
			t.Errorf("unexpected payload %q", data)
		}
	})

	t.Run("concurrent stagings get distinct paths", func(t *testing.T) {
		s := newTestStager(t)
		a, err := s.FetchURL(ctx, srv.URL+"/dog.jpg", CategoryImage)
		if err != nil {
			t.Fatalf("FetchURL a: %v", err)
		}
		b, err := s.FetchURL(ctx, srv.URL+"/dog.jpg", CategoryImage)
		if err != nil {
			t.Fatalf("FetchURL b: %v", err)
		}
		if a.Path == b.Path {
			t.Fatalf("expected distinct paths, both %s", a.Path)
		}

		a.Cleanup()
		if _, err := os.Stat(a.Path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected %s removed", a.Path)
		}
		if _, err := os.Stat(b.Path); err != nil {
			t.Errorf("expected %s to survive the other cleanup: %v", b.Path, err)
		}
		b.Cleanup()
	})

	t.Run("non 2xx is a fetch error", func(t *testing.T) {
		s := newTestStager(t)
		_, err := s.FetchURL(ctx, srv.URL+"/missing", CategoryImage)
		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("expected FetchError, got %v", err)
		}
		if fe.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", fe.StatusCode)
		}
		if n := len(listDir(t, s.TempDir())); n != 0 {
			t.Errorf("expected no files, found %d", n)
		}
	})

	t.Run("transport failure is a fetch error", func(t *testing.T) {
		s := newTestStager(t)
		_, err := s.FetchURL(ctx, "http://127.0.0.1:1/nothing", CategoryImage)
		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("expected FetchError, got %v", err)
		}
	})

	t.Run("oversized body is rejected and removed", func(t *testing.T) {
		s := newTestStager(t)
		_, err := s.FetchURL(ctx, srv.URL+"/big", CategoryDocument)
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("expected ErrTooLarge, got %v", err)
		}
		if n := len(listDir(t, s.TempDir())); n != 0 {
			t.Errorf("expected partial file removed, found %d", n)
		}
	})

	t.Run("url checker rejects before request", func(t *testing.T) {
		s := NewStager(Config{TempDir: t.TempDir()}, nil, nil, WithURLChecker(rejectAll{}))
		_, err := s.FetchURL(ctx, srv.URL+"/dog.jpg", CategoryImage)
		var fe *FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("expected FetchError, got %v", err)
		}
	})
}

type rejectAll struct{}

func (rejectAll) Check(context.Context, string) error { return errors.New("blocked") }

type fakeDownloader struct {
	data []byte
	mime string
	err  error
}

func (d fakeDownloader) DownloadMedia(context.Context, *channels.MediaInfo) ([]byte, string, error) {
	return d.data, d.mime, d.err
}

func TestFromMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("nil info", func(t *testing.T) {
		s := newTestStager(t)
		_, err := s.FromMessage(ctx, fakeDownloader{}, nil, CategoryImage)
		if !errors.Is(err, ErrNoMediaFound) {
			t.Errorf("expected ErrNoMediaFound, got %v", err)
		}
	})

	t.Run("derives category from attachment", func(t *testing.T) {
		s := newTestStager(t)
		info := &channels.MediaInfo{Type: channels.MessageVideo, MimeType: "video/mp4"}
		art, err := s.FromMessage(ctx, fakeDownloader{data: []byte("video"), mime: "video/mp4"}, info, "")
		if err != nil {
			t.Fatalf("FromMessage: %v", err)
		}
		defer art.Cleanup()
		if art.Category != CategoryVideo {
			t.Errorf("expected video category, got %s", art.Category)
		}
		if filepath.Ext(art.Path) != ".mp4" {
			t.Errorf("expected .mp4, got %s", art.Path)
		}
	})

	t.Run("download error", func(t *testing.T) {
		s := newTestStager(t)
		info := &channels.MediaInfo{Type: channels.MessageImage}
		_, err := s.FromMessage(ctx, fakeDownloader{err: errors.New("boom")}, info, CategoryImage)
		if err == nil {
			t.Error("expected error")
		}
	})
}

type fakeExtractor struct {
	src  *Source
	body string
}

func (f *fakeExtractor) Resolve(context.Context, string) (*Source, error) {
	if f.src == nil {
		return nil, errors.New("not found")
	}
	return f.src, nil
}

func (f *fakeExtractor) Open(context.Context, *Source, Format) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestExtract(t *testing.T) {
	ctx := context.Background()
	formats := []Format{
		{ID: 18, Container: "mp4", HasAudio: true, HasVideo: true, Height: 360, Bitrate: 500},
		{ID: 140, Container: "mp4", HasAudio: true, AudioRank: 2, Bitrate: 128},
	}

	t.Run("audio", func(t *testing.T) {
		s := newTestStager(t)
		ex := &fakeExtractor{src: &Source{ID: "abc123", Title: "Song", Formats: formats}, body: "audio"}
		art, err := s.Extract(ctx, ex, "https://youtu.be/abc123", KindAudio)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		defer art.Cleanup()

		base := filepath.Base(art.Path)
		if !strings.HasPrefix(base, "abc123-") || !strings.HasSuffix(base, ".mp3") {
			t.Errorf("unexpected name %s", base)
		}
		if art.Category != CategoryAudio {
			t.Errorf("expected audio, got %s", art.Category)
		}
		if art.Filename != "Song.mp3" {
			t.Errorf("expected Song.mp3, got %s", art.Filename)
		}
	})

	t.Run("video", func(t *testing.T) {
		s := newTestStager(t)
		ex := &fakeExtractor{src: &Source{ID: "abc123", Formats: formats}, body: "video"}
		art, err := s.Extract(ctx, ex, "abc123", KindVideo)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		defer art.Cleanup()
		if filepath.Ext(art.Path) != ".mp4" {
			t.Errorf("expected .mp4, got %s", art.Path)
		}
	})

	t.Run("no suitable format creates nothing", func(t *testing.T) {
		s := newTestStager(t)
		ex := &fakeExtractor{src: &Source{ID: "x", Formats: []Format{
			{ID: 251, Container: "webm", HasAudio: true, HasVideo: true},
		}}}
		_, err := s.Extract(ctx, ex, "x", KindVideo)
		if !errors.Is(err, ErrNoSuitableFormat) {
			t.Fatalf("expected ErrNoSuitableFormat, got %v", err)
		}
		if _, err := os.Stat(s.TempDir()); err == nil {
			if n := len(listDir(t, s.TempDir())); n != 0 {
				t.Errorf("expected no staged files, found %d", n)
			}
		}
	})
}

func TestSelectFormat(t *testing.T) {
	formats := []Format{
		{ID: 1, Container: "mp4", HasAudio: true, HasVideo: true, Height: 360, Bitrate: 100},
		{ID: 2, Container: "mp4", HasAudio: true, HasVideo: true, Height: 720, Bitrate: 50},
		{ID: 3, Container: "webm", HasAudio: true, HasVideo: true, Height: 1080, Bitrate: 900},
		{ID: 4, Container: "mp4", HasVideo: true, Height: 2160},
		{ID: 5, Container: "webm", HasAudio: true, AudioRank: 3, Bitrate: 160},
		{ID: 6, Container: "mp4", HasAudio: true, AudioRank: 3, Bitrate: 128},
		{ID: 7, Container: "mp4", HasAudio: true, AudioRank: 1, Bitrate: 300},
	}

	tests := []struct {
		kind Kind
		want int
	}{
		{KindVideo, 2},
		{KindAudio, 5},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			got, err := SelectFormat(formats, tt.kind)
			if err != nil {
				t.Fatalf("SelectFormat: %v", err)
			}
			if got.ID != tt.want {
				t.Errorf("expected format %d, got %d", tt.want, got.ID)
			}
		})
	}

	t.Run("empty", func(t *testing.T) {
		if _, err := SelectFormat(nil, KindAudio); !errors.Is(err, ErrNoSuitableFormat) {
			t.Errorf("expected ErrNoSuitableFormat, got %v", err)
		}
	})
}

func TestSourceSelection(t *testing.T) {
	img := &channels.MediaInfo{Type: channels.MessageImage}
	quotedImg := &channels.MediaInfo{Type: channels.MessageImage, DirectPath: "/quoted"}

	t.Run("sticker prefers quoted image", func(t *testing.T) {
		msg := &channels.IncomingMessage{Media: img, Quoted: &channels.QuotedMessage{Media: quotedImg}}
		got, err := SelectStickerSource(msg)
		if err != nil || got != quotedImg {
			t.Errorf("expected quoted image, got %v (%v)", got, err)
		}
	})

	t.Run("sticker falls back to own image", func(t *testing.T) {
		msg := &channels.IncomingMessage{Media: img, Quoted: &channels.QuotedMessage{Content: "hi"}}
		got, err := SelectStickerSource(msg)
		if err != nil || got != img {
			t.Errorf("expected own image, got %v (%v)", got, err)
		}
	})

	t.Run("sticker without image", func(t *testing.T) {
		msg := &channels.IncomingMessage{Content: "!sticker"}
		if _, err := SelectStickerSource(msg); !errors.Is(err, ErrNoSourceImage) {
			t.Errorf("expected ErrNoSourceImage, got %v", err)
		}
	})

	t.Run("view once requires flag", func(t *testing.T) {
		msg := &channels.IncomingMessage{Quoted: &channels.QuotedMessage{Media: quotedImg}}
		if _, err := SelectViewOnceSource(msg); !errors.Is(err, ErrNotViewOnce) {
			t.Errorf("expected ErrNotViewOnce, got %v", err)
		}
		msg.Quoted.ViewOnce = true
		got, err := SelectViewOnceSource(msg)
		if err != nil || got != quotedImg {
			t.Errorf("expected quoted media, got %v (%v)", got, err)
		}
	})

	t.Run("view once without quote", func(t *testing.T) {
		if _, err := SelectViewOnceSource(&channels.IncomingMessage{}); !errors.Is(err, ErrNotViewOnce) {
			t.Errorf("expected ErrNotViewOnce, got %v", err)
		}
	})
}

func TestConvertToSticker(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 800, 400))
	for x := 0; x < 800; x++ {
		for y := 0; y < 400; y++ {
			src.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	out, err := ConvertToSticker(buf.Bytes())
	if err != nil {
		t.Fatalf("ConvertToSticker: %v", err)
	}
	if len(out) < 12 || string(out[0:4]) != "RIFF" || string(out[8:12]) != "WEBP" {
		t.Errorf("expected WebP output, got header %q", out[:min(12, len(out))])
	}

	if _, err := ConvertToSticker([]byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

type recordingSender struct {
	to  string
	msg *channels.MediaMessage
}

func (r *recordingSender) SendMedia(_ context.Context, to string, m *channels.MediaMessage) error {
	r.to, r.msg = to, m
	return nil
}

func TestPublish(t *testing.T) {
	s := newTestStager(t)
	art, err := s.StageBytes([]byte("ID3audio"), "audio/mpeg", CategoryAudio)
	if err != nil {
		t.Fatalf("StageBytes: %v", err)
	}
	defer art.Cleanup()
	art.Filename = "song.mp3"

	rec := &recordingSender{}
	if err := Publish(context.Background(), rec, "chat@s.whatsapp.net", art, PublishOptions{AsDocument: true}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if rec.msg.Type != channels.MessageDocument {
		t.Errorf("expected document, got %s", rec.msg.Type)
	}
	if rec.msg.Filename != "song.mp3" || rec.msg.MimeType != "audio/mpeg" {
		t.Errorf("unexpected message %+v", rec.msg)
	}
}

func TestSweepOrphans(t *testing.T) {
	s := NewStager(Config{TempDir: t.TempDir(), OrphanAge: time.Minute}, nil, nil)
	old := filepath.Join(s.TempDir(), "old.mp3")
	fresh := filepath.Join(s.TempDir(), "fresh.mp3")
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	n, err := s.SweepOrphans()
	if err != nil {
		t.Fatalf("SweepOrphans: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("expected fresh file kept: %v", err)
	}
}

func TestArtifactCleanupIsIdempotent(t *testing.T) {
	s := newTestStager(t)
	art, err := s.StageBytes([]byte("data"), "text/plain", CategoryDocument)
	if err != nil {
		t.Fatalf("StageBytes: %v", err)
	}
	art.Cleanup()
	art.Cleanup()
	var nilArt *Artifact
	nilArt.Cleanup()
}
