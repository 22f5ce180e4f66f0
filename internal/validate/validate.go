// Package validate implements the wire-format validators from spec §6:
// channel/port/denom pattern matching and memo content screening.
package validate

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/htlcrelay/relayer/internal/errs"
	"github.com/htlcrelay/relayer/internal/memo"
)

var (
	channelPattern = regexp.MustCompile(`^channel-\d+$`)
	portPattern    = regexp.MustCompile(`^(transfer|wasm\.[a-z0-9]+|[a-z]+)$`)
	denomPattern   = regexp.MustCompile(`^(ibc/[A-F0-9]{64}|[a-z]+)$`)
)

// Channel reports whether id matches the IBC channel identifier grammar.
func Channel(id string) bool { return channelPattern.MatchString(id) }

// Port reports whether id matches the IBC port identifier grammar.
func Port(id string) bool { return portPattern.MatchString(id) }

// Denom reports whether d matches the accepted denom grammar.
func Denom(d string) bool { return denomPattern.MatchString(d) }

// bidiOverrides are the Unicode bidirectional control characters that can
// be used to visually disguise memo content (CVE-2021-42574 class).
var bidiOverrides = map[rune]bool{
	'‪': true, '‫': true, '‬': true, '‭': true, '‮': true,
	'⁦': true, '⁧': true, '⁨': true, '⁩': true,
}

// injectionMarkers is a small denylist of substrings that indicate a memo
// field is trying to break out into a shell or SQL context downstream. This
// is a coarse content screen, not a sanitizer: the relayer never
// interprets memo content as a command or query itself, but downstream
// collaborators (indexers, the optional persistence layer) might, so
// obviously hostile payloads are rejected at the edge.
var injectionMarkers = []string{
	"; DROP TABLE", "' OR '1'='1", "$(", "`", "&&", "|| ", "\x00",
}

// MemoContent screens a raw memo payload for control bytes, bidi override
// characters, known injection markers, and the size cap, returning
// errs.ErrValidation (wrapped with a reason) on the first violation.
func MemoContent(raw []byte) error {
	if len(raw) > memo.MaxMemoBytes {
		return wrap("memo exceeds size cap")
	}

	for _, marker := range injectionMarkers {
		if strings.Contains(string(raw), marker) {
			return wrap("memo contains an injection marker")
		}
	}

	for _, r := range string(raw) {
		if bidiOverrides[r] {
			return wrap("memo contains a bidi override character")
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return wrap("memo contains a control byte")
		}
	}

	return nil
}

func wrap(reason string) error {
	return &validationError{reason: reason}
}

type validationError struct{ reason string }

func (e *validationError) Error() string { return "validation: " + e.reason }
func (e *validationError) Unwrap() error { return errs.ErrValidation }
