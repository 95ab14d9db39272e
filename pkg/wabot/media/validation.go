package media

import (
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
)

// DetectMimeType sniffs the payload and falls back to the file extension.
func DetectMimeType(data []byte, filename string) string {
	detected := http.DetectContentType(data)
	if detected != "application/octet-stream" {
		return detected
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".mp4":
		return "video/mp4"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".apk":
		return "application/vnd.android.package-archive"
	}
	return detected
}

// CategorizeType maps a MIME type to a category.
func CategorizeType(mimeType string) Category {
	base := baseMIME(mimeType)
	switch {
	case strings.HasPrefix(base, "image/"):
		return CategoryImage
	case strings.HasPrefix(base, "audio/"):
		return CategoryAudio
	case strings.HasPrefix(base, "video/"):
		return CategoryVideo
	default:
		return CategoryDocument
	}
}

// ExtFromMIME returns a file extension for common MIME types.
func ExtFromMIME(mimeType string) string {
	switch baseMIME(mimeType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4":
		return ".m4a"
	case "audio/webm":
		return ".weba"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "application/pdf":
		return ".pdf"
	case "application/vnd.android.package-archive":
		return ".apk"
	}
	if exts, err := mime.ExtensionsByType(baseMIME(mimeType)); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// extFromURL returns the extension of the URL path, if it has a plausible one.
func extFromURL(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	return ext
}

func baseMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// sanitizeFilename strips path separators and control characters.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		if r >= 32 && r != 127 && r != '/' && r != '\\' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return ""
	}
	if len(out) > 200 {
		ext := filepath.Ext(out)
		if len(ext) > 10 {
			ext = ""
		}
		out = out[:200-len(ext)] + ext
	}
	return out
}
