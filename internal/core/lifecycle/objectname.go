package lifecycle

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BuildObjectName makes a storage name that cannot collide with another
// user's upload of the same file: <base>-<unix millis>-<token>.<ext>.
func BuildObjectName(filename string, now time.Time, token string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(base))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(base))
	base = strings.Trim(base, "_")
	if base == "" {
		base = "document"
	}
	if len(base) > 80 {
		base = base[:80]
	}
	ext = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, ext)
	if ext == "" {
		ext = "pdf"
	}
	return fmt.Sprintf("%s-%d-%s.%s", base, now.UnixMilli(), token, ext)
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
