package fsrepo

import (
	"fmt"
	"strings"

	"github.com/agentic-research/arbor/internal/freq"
	"github.com/agentic-research/arbor/internal/tree"
)

// Reserved names inside a dataset directory.
const (
	nodeDirName = "__node__"
	ProvSuffix  = ".prov"
	lockSuffix  = ".lock"
	synthMarker = "__"
	synthSep    = "="
)

const upperHex = "0123456789ABCDEF"

// escapePlain makes an identifier safe as a hierarchy level directory name.
// A leading "." or "_" is escaped so that level directories never look hidden
// or reserved.
func escapePlain(id string) string {
	return escape(id, func(i int, c byte) bool {
		return i == 0 && (c == '.' || c == '_')
	})
}

// escapeSynthID escapes an identifier inside a synthetic segment, where "_"
// separates components.
func escapeSynthID(id string) string {
	return escape(id, func(_ int, c byte) bool { return c == '_' })
}

func escape(s string, extra func(i int, c byte) bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '/' || c == '\\' || c == 0 || extra(i, c) {
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&15])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape in %q", s)
		}
		hi, lo := unhex(s[i+1]), unhex(s[i+2])
		if hi < 0 || lo < 0 {
			return "", fmt.Errorf("bad escape %q in %q", s[i:i+3], s)
		}
		b.WriteByte(byte(hi<<4 | lo))
		i += 2
	}
	return b.String(), nil
}

func unhex(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// synthSegment names the directory of a node whose frequency has bits no
// hierarchy level accounts for: "__<freq>=<id>[_<id>...]__". Member names never
// contain "=", so the first "=" always ends the frequency name.
func synthSegment(rem *tree.Remainder) string {
	parts := make([]string, len(rem.IDs))
	for i, id := range rem.IDs {
		parts[i] = escapeSynthID(id)
	}
	return synthMarker + rem.Frequency.String() + synthSep + strings.Join(parts, "_") + synthMarker
}

func isSynthSegment(name string) bool {
	return len(name) > 2*len(synthMarker) &&
		strings.HasPrefix(name, synthMarker) && strings.HasSuffix(name, synthMarker) &&
		name != nodeDirName
}

// parseSynthSegment decodes a synthetic segment into the remainder frequency
// and the identifiers it carries. It carries either one identifier for the
// whole frequency or one per basis layer.
func parseSynthSegment(space *freq.Space, name string) (freq.Frequency, tree.IDs, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(name, synthMarker), synthMarker)
	fname, rawIDs, ok := strings.Cut(inner, synthSep)
	if !ok {
		return freq.Frequency{}, nil, &tree.AmbiguousPathError{Path: name, Reason: "no frequency separator"}
	}
	f, err := space.Parse(fname)
	if err != nil || f.IsRoot() {
		return freq.Frequency{}, nil, &tree.AmbiguousPathError{Path: name, Reason: fmt.Sprintf("no frequency %q", fname)}
	}
	raw := strings.Split(rawIDs, "_")
	layers := f.Layers()
	if len(raw) != 1 && len(raw) != len(layers) {
		return freq.Frequency{}, nil, &tree.AmbiguousPathError{
			Path: name, Reason: fmt.Sprintf("%d ids for %s, want 1 or %d", len(raw), f, len(layers))}
	}
	vals := make([]string, len(raw))
	for i, r := range raw {
		id, err := unescape(r)
		if err != nil || id == "" {
			return freq.Frequency{}, nil, &tree.AmbiguousPathError{Path: name, Reason: fmt.Sprintf("bad id %q", r)}
		}
		vals[i] = id
	}

	ids := tree.IDs{}
	if len(vals) == 1 {
		ids[f] = vals[0]
	} else {
		for i, l := range layers {
			ids[l] = vals[i]
		}
	}
	return f, ids, nil
}
