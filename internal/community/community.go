// Package community maps free-text institution names onto the fixed
// vocabulary of community names used to scope ride visibility.
package community

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Name is a canonical community. The zero value is not a community; values
// are only produced by Normalize.
type Name struct {
	s string
}

func (n Name) String() string { return n.s }

func (n Name) IsZero() bool { return n.s == "" }

func (n Name) MarshalJSON() ([]byte, error) { return json.Marshal(n.s) }

// UnmarshalJSON re-normalizes the decoded string. Normalize is idempotent on
// its own output, so stored names round-trip unchanged.
func (n *Name) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, ok := Normalize(raw)
	if !ok {
		return fmt.Errorf("community: %q is not a community name", raw)
	}
	*n = v
	return nil
}

type alias struct {
	key      string
	name     string
	excluded bool
}

// aliases is scanned in order by the partial matcher, so more specific
// Claremont entries come before the generic ones.
var aliases = []alias{
	{key: "pomona", name: "Pomona"},
	{key: "pomona college", name: "Pomona"},
	{key: "pomona college california", name: "Pomona"},
	{key: "harvey mudd", name: "Harvey Mudd"},
	{key: "harvey mudd college", name: "Harvey Mudd"},
	{key: "hmc", name: "Harvey Mudd"},
	{key: "scripps", name: "Scripps"},
	{key: "scripps college", name: "Scripps"},
	{key: "pitzer", name: "Pitzer"},
	{key: "pitzer college", name: "Pitzer"},
	{key: "cmc", name: "CMC"},
	{key: "claremont mckenna", name: "CMC"},
	{key: "claremont mckenna college", name: "CMC"},
	{key: "claremont colleges", name: "5C"},
	{key: "5c", name: "5C"},
	{key: "five colleges", name: "5C"},
	{key: "claremont consortium", name: "5C"},

	{key: "usc", name: "USC"},
	{key: "university of southern california", name: "USC"},
	{key: "ucla", name: "UCLA"},
	{key: "university of california los angeles", name: "UCLA"},
	{key: "cal tech", name: "Caltech"},
	{key: "california institute of technology", name: "Caltech"},
	{key: "caltech", name: "Caltech"},
	{key: "carnegie mellon", name: "CMU"},
	{key: "carnegie mellon university", name: "CMU"},
	{key: "cmu", name: "CMU"},

	{key: "open to all", name: "Open to all"},
	{key: "unknown", excluded: true},
}

// OpenToAll is the community that makes a ride visible to every user.
var OpenToAll = Name{s: "Open to all"}

// Normalize maps raw to its canonical community. Lookup is case-insensitive:
// an exact alias match wins, then the first alias that contains or is
// contained in the input, then the title-cased input itself. Empty input and
// excluded aliases ("unknown") yield false.
func Normalize(raw string) (Name, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Name{}, false
	}
	key := strings.ToLower(trimmed)

	for _, a := range aliases {
		if a.key == key {
			if a.excluded {
				return Name{}, false
			}
			return Name{s: a.name}, true
		}
	}
	for _, a := range aliases {
		if a.excluded {
			continue
		}
		if strings.Contains(key, a.key) || strings.Contains(a.key, key) {
			return Name{s: a.name}, true
		}
	}
	return Name{s: titleCase(trimmed)}, true
}

// NormalizeAll normalizes names in order, dropping those that do not map to
// a community and any repeats.
func NormalizeAll(raw []string) []Name {
	out := make([]Name, 0, len(raw))
	for _, r := range raw {
		if n, ok := Normalize(r); ok {
			out = AppendUnique(out, n)
		}
	}
	return out
}

// AppendUnique appends n unless it is already present.
func AppendUnique(list []Name, n Name) []Name {
	if n.IsZero() || Contains(list, n) {
		return list
	}
	return append(list, n)
}

func Contains(list []Name, n Name) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

func Strings(list []Name) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.s
	}
	return out
}

// titleCase upper-cases the first letter of every word and lower-cases the
// rest, so "UCI" and "uci" land on the same name.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		b.WriteRune(r)
	}
	return b.String()
}
