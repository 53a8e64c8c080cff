package pattern

import (
	"regexp"
	"strings"
	"time"

	"github.com/errorpulse/backend/internal/storage/models"
	"github.com/errorpulse/backend/pkg/utils"
)

var (
	uuidPattern    = regexp.MustCompile(`(?i)[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`)
	emailPattern   = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	digitPattern   = regexp.MustCompile(`\d+`)
	lineColPattern = regexp.MustCompile(`:\d+:\d+`)
)

const templateMaxLen = 200

// PatternStore is the persistence surface the matcher needs.
type PatternStore interface {
	UpsertPattern(hash, category, messageTemplate string, seenAt int64, severity string) error
}

// Matcher fingerprints errors so recurring ones group together regardless of
// embedded ids, addresses, or line numbers.
type Matcher struct {
	store PatternStore
}

func NewMatcher(store PatternStore) *Matcher {
	return &Matcher{store: store}
}

// Hash returns the MD5 signature of the normalized error. UUIDs and emails
// are collapsed before digit runs so that two UUIDs differing in their hex
// letters still normalize to the same token.
func (m *Matcher) Hash(e *models.ErrorEvent) string {
	normalized := uuidPattern.ReplaceAllString(e.Message, "UUID")
	normalized = emailPattern.ReplaceAllString(normalized, "EMAIL")
	normalized = digitPattern.ReplaceAllString(normalized, "N")
	normalized = strings.TrimSpace(strings.ToLower(normalized))

	stackSignature := ""
	if e.StackTrace != nil && *e.StackTrace != "" {
		lines := strings.Split(*e.StackTrace, "\n")
		if len(lines) > 3 {
			lines = lines[:3]
		}
		stackSignature = strings.Join(lines, "\n")
		stackSignature = lineColPattern.ReplaceAllString(stackSignature, ":N:N")
		stackSignature = digitPattern.ReplaceAllString(stackSignature, "N")
	}

	signature := e.Source + ":" + normalized + ":" + stackSignature
	return utils.HashString(signature)
}

// Track upserts the pattern row for e and returns its hash. Category and
// severity are last-writer-wins: the most recent AI judgment replaces the
// stored one.
func (m *Matcher) Track(e *models.ErrorEvent, aiCategory string) (string, error) {
	hash := m.Hash(e)

	category := aiCategory
	if category == "" {
		category = "Unknown"
	}

	severity := e.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}

	err := m.store.UpsertPattern(hash, category, truncate(e.Message, templateMaxLen),
		time.Now().UnixMilli(), severity)
	if err != nil {
		return "", err
	}

	return hash, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
