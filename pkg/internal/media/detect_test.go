package media

import "testing"

func TestDetectImageMIME(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{
			name: "png",
			data: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00},
			want: "image/png",
		},
		{
			name: "jpeg",
			data: []byte{0xFF, 0xD8, 0xFF, 0xE0},
			want: "image/jpeg",
		},
		{
			name: "gif",
			data: []byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61},
			want: "image/gif",
		},
		{
			name: "webp",
			data: []byte{0x52, 0x49, 0x46, 0x46, 0x10, 0x00, 0x00, 0x00, 0x57, 0x45, 0x42, 0x50},
			want: "image/webp",
		},
		{
			name: "riff but not webp",
			data: []byte{0x52, 0x49, 0x46, 0x46, 0x10, 0x00, 0x00, 0x00, 0x41, 0x56, 0x49, 0x20},
			want: "",
		},
		{
			name: "unknown",
			data: []byte{0x00, 0x01, 0x02, 0x03},
			want: "",
		},
		{
			name: "too short",
			data: []byte{0x89},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectImageMIME(tt.data); got != tt.want {
				t.Errorf("DetectImageMIME(%s) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}
