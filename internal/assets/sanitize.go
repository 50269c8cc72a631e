// Package assets uploads receipt images to the object store under
// collision-resistant keys.
package assets

import (
	"crypto/rand"
	"io"
	"math/big"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Sanitizer turns user supplied file names into safe key fragments.
type Sanitizer struct {
	now    func() time.Time
	random io.Reader
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{now: time.Now, random: rand.Reader}
}

// SanitizeName keeps a printable ASCII name, replacing every character
// outside [A-Za-z0-9._-] with '_' and collapsing runs of '_'. Any other name
// is discarded and regenerated as Receipt_<unixMillis>_<XXXX>.<ext>, keeping
// only the ASCII alphanumerics of the original extension.
//
// The output is a fixed point: sanitizing it again returns it unchanged.
func (s *Sanitizer) SanitizeName(name string) string {
	if name == "" || !printableASCII(name) {
		return s.generate(name)
	}

	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !safeByte(c) {
			c = '_'
		}
		if c == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (s *Sanitizer) generate(original string) string {
	name := "Receipt_" + strconv.FormatInt(s.now().UnixMilli(), 10) + "_" + s.suffix()
	if ext := cleanExtension(original); ext != "" {
		name += "." + ext
	}
	return name
}

// suffix returns four uppercase base-36 characters.
func (s *Sanitizer) suffix() string {
	max := big.NewInt(int64(len(base36)))
	out := make([]byte, 4)
	for i := range out {
		n, err := rand.Int(s.random, max)
		if err != nil {
			// The random source failed; fall back to the clock.
			out[i] = base36[(s.now().UnixNano()>>(i*5))%int64(len(base36))]
			continue
		}
		out[i] = base36[n.Int64()]
	}
	return string(out)
}

func cleanExtension(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func printableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func safeByte(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '.' || c == '_' || c == '-'
}
