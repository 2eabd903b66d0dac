package gallery

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestStorageKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "c.jpg", want: "1700000000000_c.jpg"},
		{name: "spaces kept", in: "  summer wedding.JPG ", want: "1700000000000_summer wedding.JPG"},
		{name: "unix path", in: "uploads/2024/c.jpg", want: "1700000000000_c.jpg"},
		{name: "windows path", in: `C:\Users\me\c.jpg`, want: "1700000000000_c.jpg"},
		{name: "dot dot", in: "..", want: "1700000000000_image"},
		{name: "empty", in: "", want: "1700000000000_image"},
		{name: "control chars", in: "a\x00b\tc.png", want: "1700000000000_abc.png"},
		{name: "nfc", in: "cafe\u0301.png", want: "1700000000000_caf\u00e9.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StorageKey(1700000000000, tt.in))
		})
	}
}

func TestStorageKey_TruncatesLongNames(t *testing.T) {
	name := strings.Repeat("é", 150) + ".jpeg"
	key := StorageKey(1, name)

	assert.True(t, strings.HasSuffix(key, ".jpeg"))
	assert.True(t, utf8.ValidString(key))
	assert.LessOrEqual(t, len(key), len("1_")+maxNameBytes)
}

func TestNewPendingID(t *testing.T) {
	a, b := newPendingID(), newPendingID()

	assert.True(t, strings.HasPrefix(a, "blob-"))
	assert.NotEqual(t, a, b)
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name string
		file File
		want string
	}{
		{name: "declared wins", file: File{Name: "x.txt", ContentType: "image/png"}, want: "image/png"},
		{name: "extension", file: File{Name: "x.PNG"}, want: "image/png"},
		{name: "sniffed", file: File{Name: "x", Data: []byte("\x89PNG\r\n\x1a\n0000")}, want: "image/png"},
		{name: "nothing", file: File{Name: "x"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectContentType(tt.file))
		})
	}
}

func TestIsImageType(t *testing.T) {
	assert.True(t, isImageType("image/jpeg"))
	assert.True(t, isImageType("IMAGE/PNG"))
	assert.False(t, isImageType("text/plain; charset=utf-8"))
	assert.False(t, isImageType(""))
}
