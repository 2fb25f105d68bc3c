// Package reference parses and manipulates annotation references, the
// textual names processors use to describe the files they read and write.
//
// A reference has the form `<prefix.base>[:<prefix.attr>]` and may embed
// three kinds of placeholders that other packages expand:
//
//   - class placeholders in angle brackets, e.g. <token>, <token:word>
//   - wildcards in curly braces, e.g. {annotation}
//   - configuration placeholders in square brackets, e.g. [wsd.sense_model]
//
// A span reference has no colon; an attribute reference does.
package reference

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	classToken  = regexp.MustCompile(`<[a-z0-9_.:-]+>`)
	wildcardTok = regexp.MustCompile(`\{[a-z0-9_.-]+\}`)
	configTok   = regexp.MustCompile(`\[[a-z0-9_.-]+\]`)

	identifierRE = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// Ref is a parsed annotation reference: `<module>.<base>[:<module2>.<attr>]`.
// Before class/wildcard/config expansion the Base or Attr segments may still
// contain literal `<...>`, `{...}`, `[...]` placeholder text; Ref does not
// itself validate that they've been resolved.
type Ref struct {
	Module string // module identifier owning the span (e.g. "segment")
	Base   string // base annotation name (e.g. "token")
	Attr   string // attribute name, empty for a span reference
	AttrOf string // module identifier owning the attribute, "" if Attr == ""
}

// IsAttribute reports whether the reference names an attribute rather than
// a bare span.
func (r Ref) IsAttribute() bool { return r.Attr != "" }

// String renders the reference back to its canonical textual form.
func (r Ref) String() string {
	span := r.Module + "." + r.Base
	if !r.IsAttribute() {
		return span
	}
	return fmt.Sprintf("%s:%s.%s", span, r.AttrOf, r.Attr)
}

// Parse splits a fully-resolved (no more placeholders) annotation reference
// into its module/base/attr parts.
func Parse(raw string) (Ref, error) {
	span, attr, hasAttr := strings.Cut(raw, ":")
	sm, sb, ok := strings.Cut(span, ".")
	if !ok || sm == "" || sb == "" {
		return Ref{}, fmt.Errorf("reference: malformed span %q", span)
	}
	if !identifierRE.MatchString(sb) {
		return Ref{}, fmt.Errorf("reference: invalid base identifier %q", sb)
	}
	r := Ref{Module: sm, Base: sb}
	if hasAttr {
		am, ab, ok := strings.Cut(attr, ".")
		if !ok || am == "" || ab == "" {
			return Ref{}, fmt.Errorf("reference: malformed attribute %q", attr)
		}
		if !identifierRE.MatchString(ab) {
			return Ref{}, fmt.Errorf("reference: invalid attribute identifier %q", ab)
		}
		r.AttrOf = am
		r.Attr = ab
	}
	return r, nil
}

// Classes returns every distinct `<class>` or `<class:attr>` token appearing
// literally in raw, in order of first appearance.
func Classes(raw string) []string { return dedupe(classToken.FindAllString(raw, -1)) }

// Wildcards returns every distinct `{wildcard}` token appearing literally in
// raw, in order of first appearance.
func Wildcards(raw string) []string { return dedupe(wildcardTok.FindAllString(raw, -1)) }

// ConfigPlaceholders returns every distinct `[config.key]` token appearing
// literally in raw, in order of first appearance.
func ConfigPlaceholders(raw string) []string { return dedupe(configTok.FindAllString(raw, -1)) }

// HasPlaceholder reports whether raw still contains any class, wildcard, or
// config placeholder token.
func HasPlaceholder(raw string) bool {
	return classToken.MatchString(raw) || wildcardTok.MatchString(raw) || configTok.MatchString(raw)
}

// ClassName strips the angle brackets from a class token and returns its
// class identifier and, if present, its attribute part: "<token:word>" ->
// ("token", "word").
func ClassName(token string) (class, attr string) {
	inner := strings.TrimSuffix(strings.TrimPrefix(token, "<"), ">")
	class, attr, _ = strings.Cut(inner, ":")
	return class, attr
}

// WildcardName strips the curly braces from a wildcard token: "{annotation}"
// -> "annotation".
func WildcardName(token string) string {
	return strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
}

// ConfigKey strips the square brackets from a config placeholder token:
// "[wsd.sense_model]" -> "wsd.sense_model".
func ConfigKey(token string) string {
	return strings.TrimSuffix(strings.TrimPrefix(token, "["), "]")
}

// ReplaceToken returns raw with every occurrence of token replaced by
// replacement. It is a thin wrapper kept here so callers never hand-roll
// placeholder substitution outside this package.
func ReplaceToken(raw, token, replacement string) string {
	return strings.ReplaceAll(raw, token, replacement)
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
