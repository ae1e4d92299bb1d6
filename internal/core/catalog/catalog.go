// Package catalog holds the static rule set the risk engine scores against:
// an ordered list of payload signatures and a denylist of networks.
//
// A Catalog is immutable once built and safe to share between goroutines.
package catalog

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

const (
	CategoryPromptInjection = "prompt_injection"
	CategoryXSS             = "xss"
	CategoryCodeInjection   = "code_injection"
	CategorySQLInjection    = "sql_injection"
)

// Signature is a named detection rule. A zero Weight means the engine's
// default signature penalty applies.
type Signature struct {
	Name     string
	Category string
	Pattern  *regexp.Regexp
	Weight   int
	Enabled  bool
}

func (s Signature) Match(text string) bool {
	return s.Enabled && s.Pattern != nil && s.Pattern.MatchString(text)
}

type Catalog struct {
	signatures []Signature
	blocked    []netip.Prefix
}

func New(signatures []Signature, blocked []netip.Prefix) *Catalog {
	c := &Catalog{
		signatures: make([]Signature, len(signatures)),
		blocked:    make([]netip.Prefix, len(blocked)),
	}
	copy(c.signatures, signatures)
	copy(c.blocked, blocked)
	return c
}

// Default returns the built-in rule set.
func Default() *Catalog {
	return New(defaultSignatures(), defaultBlockedNetworks())
}

func defaultSignatures() []Signature {
	return []Signature{
		sig("prompt_injection.ignore_instructions", CategoryPromptInjection, `(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|rules?)`),
		sig("prompt_injection.system_prompt", CategoryPromptInjection, `(?i)system\s*prompt`),
		sig("prompt_injection.persona_override", CategoryPromptInjection, `(?i)you\s+are\s+(now\s+)?(a\s+)?(different|new)`),
		sig("prompt_injection.forget_context", CategoryPromptInjection, `(?i)forget\s+(everything|all|what)\s+(you|i)\s+(know|said)`),
		sig("xss.script_tag", CategoryXSS, `(?i)<script[^>]*>`),
		sig("xss.javascript_url", CategoryXSS, `(?i)javascript:`),
		sig("xss.inline_event_handler", CategoryXSS, `(?i)on\w+\s*=`),
		sig("code_injection.eval_call", CategoryCodeInjection, `(?i)eval\s*\(`),
		sig("sql_injection.union_select", CategorySQLInjection, `(?i)\bunion\s+select\b`),
		sig("sql_injection.trailing_comment", CategorySQLInjection, `(?m)--;\s*$`),
	}
}

// TEST-NET-1/2/3 documentation ranges never carry real client traffic.
func defaultBlockedNetworks() []netip.Prefix {
	return []netip.Prefix{
		netip.MustParsePrefix("192.0.2.0/24"),
		netip.MustParsePrefix("198.51.100.0/24"),
		netip.MustParsePrefix("203.0.113.0/24"),
	}
}

func sig(name, category, pattern string) Signature {
	return Signature{
		Name:     name,
		Category: category,
		Pattern:  regexp.MustCompile(pattern),
		Enabled:  true,
	}
}

// Signatures returns a copy of every signature, enabled or not, in order.
func (c *Catalog) Signatures() []Signature {
	out := make([]Signature, len(c.signatures))
	copy(out, c.signatures)
	return out
}

// Match returns the enabled signatures matching text, in catalog order.
// Each signature appears at most once however often it occurs in text.
func (c *Catalog) Match(text string) []Signature {
	var matched []Signature
	for _, s := range c.signatures {
		if s.Match(text) {
			matched = append(matched, s)
		}
	}
	return matched
}

func (c *Catalog) BlockedNetworks() []netip.Prefix {
	out := make([]netip.Prefix, len(c.blocked))
	copy(out, c.blocked)
	return out
}

// IsBlocked reports whether ip falls inside a denylisted network.
// Unparseable input is never blocked.
func (c *Catalog) IsBlocked(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.blocked {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseNetwork accepts either a CIDR range or a single address.
func ParseNetwork(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid network %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
