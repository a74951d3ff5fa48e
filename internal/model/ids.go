package model

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Namespaces for name-based (v5) identifiers. Changing them re-keys every stored row.
var (
	entityNamespace   = uuid.MustParse("6f1c0a52-6d0e-4a8b-9a43-0f1e5c7b2d11")
	edgeNamespace     = uuid.MustParse("0b7d6c3e-2f4a-4d51-8e6b-93c1a2f4e5d7")
	fragmentNamespace = uuid.MustParse("c4e2a9f1-57b3-4c08-b1d6-7a8e3f0d9c25")
)

// NormalizeName canonicalizes an entity reference: NFKC, case-folded, trimmed,
// inner whitespace collapsed to single spaces.
func NormalizeName(name string) string {
	s := norm.NFKC.String(name)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeRelation turns a relation label into snake_case lower form.
func NormalizeRelation(rel string) string {
	s := NormalizeName(rel)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return '_'
		}
		return r
	}, s)
	return s
}

// EntityID derives the stable identifier of an entity from its name.
func EntityID(name string) string {
	return uuid.NewSHA1(entityNamespace, []byte(NormalizeName(name))).String()
}

// EdgeID derives the stable identifier of the edge (source, target, relation).
func EdgeID(sourceID, targetID, relation string) string {
	key := sourceID + "\x00" + targetID + "\x00" + NormalizeRelation(relation)
	return uuid.NewSHA1(edgeNamespace, []byte(key)).String()
}

// FragmentID derives the identifier of a fragment from its source app and content,
// so that the same statement extracted twice resolves to the same fragment.
func FragmentID(sourceApp, content string) string {
	key := NormalizeName(sourceApp) + "\x00" + NormalizeName(content)
	return uuid.NewSHA1(fragmentNamespace, []byte(key)).String()
}

// SessionID groups fragments of one application per UTC day.
func SessionID(sourceApp string, t time.Time) string {
	return NormalizeName(sourceApp) + "/" + t.UTC().Format("2006-01-02")
}

func trimmedLen(s string) int {
	return len(strings.TrimSpace(s))
}
