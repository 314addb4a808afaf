// Package discovery provides the membership seeds a gate node joins through.
package discovery

import "strings"

// Discovery abstracts how seed nodes are provided.
type Discovery interface {
    Seeds() []string
}

type staticSeeds []string

func (s staticSeeds) Seeds() []string { return append([]string(nil), s...) }

// Static returns a Discovery that always returns the given seeds, trimmed
// and with blanks dropped.
func Static(seeds ...string) Discovery {
    cleaned := make(staticSeeds, 0, len(seeds))
    for _, v := range seeds {
        if v = strings.TrimSpace(v); v != "" {
            cleaned = append(cleaned, v)
        }
    }
    return cleaned
}

// Parse converts a comma-separated list into addresses.
func Parse(csv string) []string {
    if csv == "" {
        return nil
    }
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}
