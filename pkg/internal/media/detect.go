// Package media detects MIME types from binary data signatures.
package media

// DetectImageMIME detects an image format from binary data.
// Returns the MIME type based on file signature (magic numbers), or ""
// when no known signature matches.
func DetectImageMIME(data []byte) string {
	// Check PNG signature: 89 50 4E 47 0D 0A 1A 0A
	if len(data) >= 8 &&
		data[0] == 0x89 && data[1] == 0x50 &&
		data[2] == 0x4E && data[3] == 0x47 &&
		data[4] == 0x0D && data[5] == 0x0A &&
		data[6] == 0x1A && data[7] == 0x0A {
		return "image/png"
	}

	// Check GIF signature: 47 49 46 38 (GIF8)
	if len(data) >= 4 &&
		data[0] == 0x47 && data[1] == 0x49 &&
		data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}

	// Check WebP signature: 52 49 46 46 xx xx xx xx 57 45 42 50
	// RIFF....WEBP; bytes 8-11 exclude non-image RIFF containers
	if len(data) >= 12 &&
		data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}

	// Check JPEG signature: FF D8
	if len(data) >= 2 &&
		data[0] == 0xFF && data[1] == 0xD8 {
		return "image/jpeg"
	}

	return ""
}
