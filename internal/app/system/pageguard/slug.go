package pageguard

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dalemusser/waffle/pantry/text"
	"github.com/google/uuid"
)

// MaxSlugLen bounds the length of a stored slug, suffixes included.
const MaxSlugLen = 96

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidSlug reports whether s is lowercase alphanumeric words joined by
// single hyphens and fits MaxSlugLen.
func ValidSlug(s string) bool {
	return len(s) <= MaxSlugLen && slugPattern.MatchString(s)
}

// Slugify derives a slug from a page title. It returns "page" when the title
// has no usable characters.
func Slugify(title string) string {
	folded := text.Fold(title)
	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	for _, r := range folded {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r + ('a' - 'A'))
		default:
			pendingHyphen = true
		}
	}
	s := truncateSlug(b.String(), MaxSlugLen)
	if s == "" {
		return "page"
	}
	return s
}

// truncateSlug cuts s to at most n bytes without leaving a trailing hyphen.
func truncateSlug(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.TrimRight(s, "-")
}

// candidates yields the slugs tried for base, in order: base itself, then
// base-1 .. base-n. Each candidate fits MaxSlugLen.
func candidates(base string, n int) []string {
	out := make([]string, 0, n+1)
	out = append(out, base)
	for i := 1; i <= n; i++ {
		suffix := "-" + strconv.Itoa(i)
		out = append(out, truncateSlug(base, MaxSlugLen-len(suffix))+suffix)
	}
	return out
}

// fallbackSlug appends a time-ordered random token to base. Two calls never
// return the same value.
func fallbackSlug(base string) string {
	token := uuidToken()
	return truncateSlug(base, MaxSlugLen-len(token)-1) + "-" + token
}

func uuidToken() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}
