package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// StickerSize is the edge length of a WhatsApp sticker.
const StickerSize = 512

// ConvertToSticker decodes an image and re-encodes it as a 512x512 WebP
// sticker. The image is scaled to fit and centered on a transparent canvas.
func ConvertToSticker(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	fitted := imaging.Fit(src, StickerSize, StickerSize, imaging.Lanczos)
	canvas := imaging.New(StickerSize, StickerSize, color.NRGBA{})
	canvas = imaging.PasteCenter(canvas, fitted)

	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, canvas, nil); err != nil {
		return nil, fmt.Errorf("encoding webp: %w", err)
	}
	return buf.Bytes(), nil
}
