package gallery

import (
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// maxNameBytes bounds the display-name part of a storage key so that
// keys stay well within object store limits.
const maxNameBytes = 200

// newPendingID returns a fresh temporary id for a not-yet-uploaded entry.
func newPendingID() string {
	return pendingIDPrefix + uuid.NewString()
}

// StorageKey builds the persisted id for an upload from a millisecond
// timestamp and the original file name: "<millis>_<name>". The name is
// NFC-normalized and stripped of path separators so the key stays a
// single segment under BlobPrefix.
func StorageKey(millis int64, name string) string {
	return strconv.FormatInt(millis, 10) + "_" + cleanName(name)
}

func cleanName(name string) string {
	name = norm.NFC.String(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base("/" + name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}

		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" || name == "/" || name == "." || name == ".." {
		return "image"
	}

	if len(name) > maxNameBytes {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}

		cut := maxNameBytes - len(ext)
		for cut > 0 && !utf8Start(name[cut]) {
			cut--
		}

		name = name[:cut] + ext
	}

	return name
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// detectContentType resolves the media type of f: the declared type
// first, then the file extension, then content sniffing.
func detectContentType(f File) string {
	if ct := strings.TrimSpace(f.ContentType); ct != "" {
		return ct
	}

	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(f.Name))); ct != "" {
		return ct
	}

	if len(f.Data) > 0 {
		return http.DetectContentType(f.Data)
	}

	return ""
}

// isImageType reports whether a media type is an image/* type.
func isImageType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}
