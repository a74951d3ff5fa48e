package model

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Alice":                  "alice",
		"  ALICE  ":              "alice",
		"Rust   borrow\tchecker": "rust borrow checker",
		"\nRust Borrow Checker ": "rust borrow checker",
		"":                       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), "input %q", in)
	}
}

func TestNormalizeRelation(t *testing.T) {
	assert.Equal(t, "discussed_with", NormalizeRelation("Discussed With"))
	assert.Equal(t, "works_at", NormalizeRelation(" works-at "))
	assert.Equal(t, "discussed", NormalizeRelation("DISCUSSED"))
}

func TestEntityID_CaseAndWhitespaceInsensitive(t *testing.T) {
	assert.Equal(t, EntityID("Alice"), EntityID("  alice "))
	assert.Equal(t, EntityID("Rust borrow checker"), EntityID("rust  BORROW checker"))
	assert.NotEqual(t, EntityID("Alice"), EntityID("Bob"))
}

func TestEdgeID_Directed(t *testing.T) {
	a, b := EntityID("Alice"), EntityID("Bob")
	assert.Equal(t, EdgeID(a, b, "discussed_with"), EdgeID(a, b, "Discussed with"))
	assert.NotEqual(t, EdgeID(a, b, "discussed_with"), EdgeID(b, a, "discussed_with"))
	assert.NotEqual(t, EdgeID(a, b, "discussed_with"), EdgeID(a, b, "discussed"))
}

func TestFragmentID_StableAcrossCaptures(t *testing.T) {
	s := "Alice discussed the Rust borrow checker with Bob"
	assert.Equal(t, FragmentID("Slack", s), FragmentID("slack", s+" "))
	assert.NotEqual(t, FragmentID("Slack", s), FragmentID("Discord", s))
}

func TestSessionID(t *testing.T) {
	ts := time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "slack/2026-03-04", SessionID("Slack", ts))
}

func TestCaptureRecord_IsEmpty(t *testing.T) {
	assert.True(t, CaptureRecord{}.IsEmpty())
	assert.True(t, CaptureRecord{Text: "   \n"}.IsEmpty())
	assert.False(t, CaptureRecord{Text: "hi"}.IsEmpty())
	assert.False(t, CaptureRecord{Image: []byte{0x89}}.IsEmpty())
}

func TestEntityID_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("case and whitespace variants resolve to the same id", prop.ForAll(
		func(words []string, pad int) bool {
			name := strings.Join(words, " ")
			variant := strings.Repeat(" ", pad%4) + strings.ToUpper(strings.Join(words, "  \t")) + strings.Repeat("\n", pad%3)
			return EntityID(name) == EntityID(variant)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 12),
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(words []string) bool {
			n := NormalizeName(strings.Join(words, " \t "))
			return NormalizeName(n) == n
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
