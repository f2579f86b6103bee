package media

import (
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindUnknown Kind = ""
)

var extensions = map[string]Kind{
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".webp": KindImage,
	".heic": KindImage,
	".mp4":  KindVideo,
	".mov":  KindVideo,
	".m4v":  KindVideo,
	".webm": KindVideo,
	".avi":  KindVideo,
	".mkv":  KindVideo,
}

// KindFromName classifies a file by extension only.
func KindFromName(name string) Kind {
	return extensions[strings.ToLower(filepath.Ext(name))]
}

// KindFromMime classifies a mime type such as image/png or video/mp4.
func KindFromMime(mimeType string) Kind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindUnknown
	}
}

// Sniff inspects the magic bytes and returns the detected mime type, or "" if unknown.
func Sniff(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown {
		return ""
	}
	return kind.MIME.Value
}

// ResolveMime prefers the reported mime type and falls back to sniffing the content
// when the store did not report a usable one.
func ResolveMime(reported string, data []byte) string {
	if KindFromMime(reported) != KindUnknown {
		return reported
	}
	if sniffed := Sniff(data); sniffed != "" {
		return sniffed
	}
	if reported == "" {
		return "application/octet-stream"
	}
	return reported
}

// ExtensionFor returns the dotted extension filetype knows for a mime type, or "".
func ExtensionFor(mimeType string) string {
	for _, t := range filetype.Types {
		if t.MIME.Value == mimeType {
			return "." + t.Extension
		}
	}
	return ""
}
