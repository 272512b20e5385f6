package artifact

import (
	"fmt"
	"net/http"
	"strings"

	dErrors "ekyc/pkg/domain-errors"
)

// MediaClass groups the capture formats a step accepts.
type MediaClass string

const (
	MediaImage MediaClass = "image"
	MediaVideo MediaClass = "video"
	MediaAudio MediaClass = "audio"
)

// Policy bounds what a media class accepts. Content types are matched
// against what the bytes sniff as, never what the client declared.
type Policy struct {
	Class        MediaClass
	MaxBytes     int64
	ContentTypes []string
}

const mib = 1 << 20

// DefaultPolicies returns the stock per-class limits.
func DefaultPolicies() map[MediaClass]Policy {
	return map[MediaClass]Policy{
		MediaImage: {Class: MediaImage, MaxBytes: 10 * mib, ContentTypes: []string{"image/jpeg", "image/png"}},
		MediaVideo: {Class: MediaVideo, MaxBytes: 50 * mib, ContentTypes: []string{"video/mp4", "video/webm"}},
		MediaAudio: {Class: MediaAudio, MaxBytes: 10 * mib, ContentTypes: []string{"audio/wave", "audio/mpeg", "application/ogg", "video/webm"}},
	}
}

// Inspect validates data against the policy and returns the sniffed content
// type. Every failure carries CodeInvalidEvidence.
func (p Policy) Inspect(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", dErrors.New(dErrors.CodeInvalidEvidence, "artifact is empty")
	}
	if int64(len(data)) > p.MaxBytes {
		return "", dErrors.New(dErrors.CodeInvalidEvidence,
			fmt.Sprintf("%s artifact exceeds %d bytes", p.Class, p.MaxBytes))
	}
	sniffed := SniffContentType(data)
	if !p.allows(sniffed) {
		return "", dErrors.New(dErrors.CodeInvalidEvidence,
			fmt.Sprintf("%s artifact has unsupported content type %s", p.Class, sniffed))
	}
	if declared != "" && !compatible(declared, sniffed) {
		return "", dErrors.New(dErrors.CodeInvalidEvidence,
			fmt.Sprintf("declared content type %s does not match content %s", declared, sniffed))
	}
	return sniffed, nil
}

func (p Policy) allows(contentType string) bool {
	for _, ct := range p.ContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}

// SniffContentType returns the bare media type detected from the content.
func SniffContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// aliases maps commonly declared types onto what the sniffer reports.
var aliases = map[string]string{
	"image/jpg":      "image/jpeg",
	"image/pjpeg":    "image/jpeg",
	"audio/wav":      "audio/wave",
	"audio/x-wav":    "audio/wave",
	"audio/vnd.wave": "audio/wave",
	"audio/mp3":      "audio/mpeg",
	"audio/ogg":      "application/ogg",
	"audio/webm":     "video/webm",
}

func compatible(declared, sniffed string) bool {
	d := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(d, ';'); i >= 0 {
		d = strings.TrimSpace(d[:i])
	}
	if d == "application/octet-stream" {
		return true
	}
	if alias, ok := aliases[d]; ok {
		d = alias
	}
	return d == sniffed
}

// Extension returns the file extension stored refs use for a content type.
func Extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "audio/wave":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "application/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
