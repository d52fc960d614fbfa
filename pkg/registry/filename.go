package registry

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// PTT-20240115-WA0003.opus, AUD-20240115-WA0012.m4a
	reWhatsAppSequence = regexp.MustCompile(`^(?:PTT|AUD)-(\d{8})-WA(\d{4,})$`)
	// WhatsApp Audio 2024-01-15 at 10.30.45.ogg (an optional " (1)" suffix is ignored)
	reWhatsAppExport = regexp.MustCompile(`^WhatsApp (?:Audio|Ptt) (\d{4}-\d{2}-\d{2}) at (\d{1,2}\.\d{2}\.\d{2})(?: \(\d+\))?$`)
)

// ParseRecordedAt extracts the recording time WhatsApp encodes in exported file names.
// Sequence-style names only carry a date; the WA counter is added as seconds so that
// messages of the same day keep their relative order. Unknown names yield the zero time.
func ParseRecordedAt(path string) time.Time {
	base := filepath.Base(strings.TrimSpace(path))
	name := strings.TrimSuffix(base, filepath.Ext(base))

	if m := reWhatsAppSequence.FindStringSubmatch(name); m != nil {
		day, err := time.ParseInLocation("20060102", m[1], time.Local)
		if err != nil {
			return time.Time{}
		}
		seq, err := strconv.Atoi(m[2])
		if err != nil {
			return day
		}
		return day.Add(time.Duration(seq) * time.Second)
	}

	if m := reWhatsAppExport.FindStringSubmatch(name); m != nil {
		ts, err := time.ParseInLocation("2006-01-02 15.04.05", m[1]+" "+m[2], time.Local)
		if err != nil {
			return time.Time{}
		}
		return ts
	}

	return time.Time{}
}
