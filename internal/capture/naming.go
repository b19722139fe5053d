package capture

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pscheid92/streamdvr/internal/domain"
)

// startedAtLayout renders the broadcast start; the colons become underscores
// once the name is sanitized.
const startedAtLayout = "2006-01-02 15:04:05"

// reservedNames are device names Windows refuses as file names, with or
// without an extension.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// SanitizeFileName makes name safe as a single path element on every
// platform we run on. Forbidden characters and control characters become
// '_', trailing dots and spaces are replaced, and reserved device names get
// a leading '_'.
func SanitizeFileName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteByte('_')
		case strings.ContainsRune(`:*?"<>|[]\/`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()

	if trimmed := strings.TrimRight(out, ". "); len(trimmed) != len(out) {
		out = trimmed + strings.Repeat("_", len(out)-len(trimmed))
	}
	if out == "" {
		return "_"
	}

	stem, _, _ := strings.Cut(out, ".")
	if _, ok := reservedNames[strings.ToUpper(strings.TrimRight(stem, " "))]; ok {
		out = "_" + out
	}
	return out
}

// maxFileNameBytes is NAME_MAX on the file systems captures are written to.
const maxFileNameBytes = 255

// OutputNames returns the sanitized transport stream and mp4 file names for
// req. Long titles are shortened so both names fit maxFileNameBytes and
// share the same stem; the trailing " [id]" is always kept.
func OutputNames(req domain.CaptureRequest, loc *time.Location) (ts, mp4 string) {
	if loc == nil {
		loc = time.Local
	}
	head := fmt.Sprintf("%s %s - %s", req.StartedAt.In(loc).Format(startedAtLayout), req.DisplayName, req.Title)
	tail := fmt.Sprintf(" [%s]", req.ID)

	head = truncateUTF8(strings.ToValidUTF8(head, string(utf8.RuneError)), maxFileNameBytes-len(tail)-len(".mp4"))
	return SanitizeFileName(head + tail + ".ts"), SanitizeFileName(head + tail + ".mp4")
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// LogNames returns the stdout and stderr log file names for one step
// ("capture" or "remux") of req.
func LogNames(step string, req domain.CaptureRequest) (stdout, stderr string) {
	base := SanitizeFileName(fmt.Sprintf("%s_%s_%s", step, req.Login, req.ID))
	return base + ".stdout.log", base + ".stderr.log"
}
