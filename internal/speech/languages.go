package speech

import "strings"

// supportedLanguages are the ISO 639-1 tags the recognition model
// accepts. Mirrors the Whisper multilingual model's language list.
var supportedLanguages = map[string]bool{
	"af": true, "ar": true, "az": true, "be": true, "bg": true,
	"bn": true, "bs": true, "ca": true, "cs": true, "cy": true,
	"da": true, "de": true, "el": true, "en": true, "es": true,
	"et": true, "fa": true, "fi": true, "fr": true, "gl": true,
	"he": true, "hi": true, "hr": true, "hu": true, "hy": true,
	"id": true, "is": true, "it": true, "ja": true, "ka": true,
	"kk": true, "kn": true, "ko": true, "lt": true, "lv": true,
	"mk": true, "mr": true, "ms": true, "ne": true, "nl": true,
	"no": true, "pl": true, "pt": true, "ro": true, "ru": true,
	"sk": true, "sl": true, "sr": true, "sv": true, "sw": true,
	"ta": true, "th": true, "tl": true, "tr": true, "uk": true,
	"ur": true, "vi": true, "zh": true,
}

// NormalizeLanguage lowers a BCP-47-ish tag ("de_DE", "de-DE", "DE") to
// its base ISO 639-1 code. Returns "" for tags the backend does not
// support.
func NormalizeLanguage(tag string) string {
	base := strings.ToLower(strings.TrimSpace(tag))
	for _, sep := range []string{"-", "_"} {
		if i := strings.Index(base, sep); i > 0 {
			base = base[:i]
		}
	}
	if !supportedLanguages[base] {
		return ""
	}
	return base
}
