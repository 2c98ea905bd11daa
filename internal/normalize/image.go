package normalize

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	"image/png"

	"github.com/gen2brain/heic"

	"github.com/sitewalk/bill-intake/constants"
)

// toPNG converts any supported image upload to PNG. HEIC/HEIF (the common
// phone-camera format) needs its own decoder; everything else goes through
// the standard image registry.
func toPNG(data []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	if constants.IsHEICMIME(mimeType) || isHEICBytes(data) {
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding heic image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICBytes sniffs the ftyp box brands HEIC containers start with.
func isHEICBytes(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}
