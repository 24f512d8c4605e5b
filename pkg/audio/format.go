package audio

import (
	"strings"
)

// PreferredFormats lists the recording MIME types in order of preference.
var PreferredFormats = []string{
	"audio/webm;codecs=opus",
	"audio/mp4",
}

// SelectFormat returns the first entry of [PreferredFormats] the device
// supports, or [ErrUnsupportedFormat].
func SelectFormat(dev Device) (string, error) {
	for _, mt := range PreferredFormats {
		if dev.Supports(mt) {
			return mt, nil
		}
	}
	return "", ErrUnsupportedFormat
}

// FormatTag maps a MIME type onto the short container tag used for file
// names on upload (webm, mp4, m4a, mp3, wav, ogg). Parameters such as
// ";codecs=opus" are ignored. A value without a slash is treated as an
// already-short tag and returned lower-cased.
func FormatTag(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	switch base {
	case "audio/webm", "video/webm":
		return "webm"
	case "audio/mp4", "video/mp4":
		return "mp4"
	case "audio/x-m4a", "audio/m4a":
		return "m4a"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg", "application/ogg":
		return "ogg"
	}
	if _, sub, ok := strings.Cut(base, "/"); ok {
		return sub
	}
	return base
}
