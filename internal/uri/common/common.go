// Package common holds the decode/encode primitives shared by every
// internal/uri/* scheme codec, factored out of the original single-scheme
// parser so each codec package only has to own its own grammar.
package common

import (
	"encoding/base64"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DecodeB64ToBytes tries, in order, standard, URL-safe, and their unpadded
// raw variants, returning the first successful decode. Subscription
// producers disagree on padding and alphabet, so codecs must be liberal
// here even though Emit always writes one canonical form back out.
func DecodeB64ToBytes(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Base64StdNoPad encodes with the standard alphabet and no padding, the
// form most subscription consumers (SIP002 userinfo, VMess JSON blobs)
// expect on the wire.
func Base64StdNoPad(s string) string {
	return base64.RawStdEncoding.EncodeToString([]byte(s))
}

// DecodeB64ToString decodes and requires the result to be valid UTF-8.
func DecodeB64ToString(s string) (string, error) {
	b, err := DecodeB64ToBytes(s)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errInvalidUTF8
	}
	return string(b), nil
}

var errInvalidUTF8 = errString("decoded content is not valid utf-8")

type errString string

func (e errString) Error() string { return string(e) }

// RemoveSpaceTabCRLF strips whitespace producers sometimes inject into
// base64 blobs (line wrapping, copy/paste artifacts) before decoding.
func RemoveSpaceTabCRLF(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func StripUTF8BOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}

// TruncateSnippet produces the <=200 char, newline-free snippet AppError
// carries for diagnostics.
func TruncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// HasControlChars reports whether s contains a raw CR, LF or NUL byte —
// forbidden in names, credentials and plugin values across every scheme.
func HasControlChars(s string) bool {
	return strings.ContainsAny(s, "\r\n\x00")
}

// ParseHostPort splits "host:port", validating the port range.
func ParseHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, errString("empty host")
	}
	portInt, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return "", 0, err
	}
	if portInt < 1 || portInt > 65535 {
		return "", 0, errString("port out of range")
	}
	return host, portInt, nil
}

// ParseQueryParams parses a URI query string by '&' with '=' separating
// key/value, percent-decoding both sides. Unlike net/url.ParseQuery this
// rejects bare keys (no '=') since several schemes (SS plugin, SSR params)
// need unambiguous strict validation, and it does not special-case ';'.
func ParseQueryParams(query string) ([]KV, error) {
	if query == "" {
		return nil, nil
	}
	var out []KV
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		kRaw, vRaw, hasEq := strings.Cut(part, "=")
		if !hasEq {
			return nil, errString("query parameter must be key=value")
		}
		k, err := PercentDecode(kRaw)
		if err != nil {
			return nil, err
		}
		v, err := PercentDecode(vRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out, nil
}

// KV is a tiny ordered pair used before values are attached to model types,
// avoiding an import cycle with internal/model from this leaf package.
type KV struct {
	Key   string
	Value string
}

// PercentDecode decodes a query component, accepting '+' as space like
// application/x-www-form-urlencoded producers commonly emit.
func PercentDecode(s string) (string, error) {
	return url.QueryUnescape(s)
}

// PathUnescape decodes a path/fragment component (e.g. the "#name" part of
// a URI) where '+' is a literal plus, not a space.
func PathUnescape(s string) (string, error) {
	return url.PathUnescape(s)
}

// URIParts is the common "scheme://user@host:port?query#frag" shape shared
// by vless/trojan/hysteria2/socks/http links.
type URIParts struct {
	User  string // percent-decoded
	Host  string
	Port  int
	Query map[string]string
	Name  string // percent-decoded fragment
}

// SplitURIParts strips the given scheme prefix and parses the remaining
// "[user@]host:port[?query][#frag]" tail. It does not use net/url.Parse
// directly because several schemes put raw, unescaped characters in the
// userinfo segment that net/url rejects.
func SplitURIParts(scheme, raw string) (URIParts, error) {
	var out URIParts
	s := strings.TrimSpace(raw)
	prefix := scheme + "://"
	if !strings.HasPrefix(s, prefix) {
		return out, errString("expected " + prefix + " scheme")
	}
	s = strings.TrimPrefix(s, prefix)

	s, frag, hasFrag := strings.Cut(s, "#")
	if hasFrag {
		name, err := PathUnescape(frag)
		if err != nil {
			return out, err
		}
		if HasControlChars(name) {
			return out, errString("name contains control characters")
		}
		out.Name = name
	}

	s, query, hasQuery := strings.Cut(s, "?")
	if hasQuery {
		out.Query = map[string]string{}
		for _, part := range strings.Split(query, "&") {
			if part == "" {
				continue
			}
			k, v, _ := strings.Cut(part, "=")
			k, err := PercentDecode(k)
			if err != nil {
				return out, err
			}
			v, err = PercentDecode(v)
			if err != nil {
				return out, err
			}
			out.Query[k] = v
		}
	}

	hostPart := s
	if at := strings.LastIndexByte(s, '@'); at >= 0 {
		user, err := PathUnescape(s[:at])
		if err != nil {
			return out, err
		}
		out.User = user
		hostPart = s[at+1:]
	}

	host, port, err := ParseHostPort(hostPart)
	if err != nil {
		return out, err
	}
	out.Host, out.Port = host, port
	return out, nil
}
