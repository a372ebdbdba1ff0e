// Package wireguard implements the wg:// URI codec (the wg-quick-derived
// share-link format: privkey as userinfo, peer pubkey and allowed-ips as
// query params). "wireguard://" is accepted on parse as an alias.
package wireguard

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/curve25519"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/uri/common"
)

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}
func (e *ParseError) Unwrap() error { return e.Cause }

func newErr(sourceURL, snippet, code, message string, cause error) error {
	return &ParseError{AppError: model.AppError{Code: code, Message: message, Stage: "parse_uri", URL: sourceURL, Snippet: snippet}, Cause: cause}
}

// validateKey checks that the decoded key is a well-formed Curve25519 scalar:
// exactly 32 bytes, and not a small-order point that would make X25519
// degenerate to an all-zero shared secret regardless of the peer's key. It
// performs no actual key exchange.
func validateKey(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return "", err
	}
	if len(raw) != curve25519.PointSize {
		return "", fmt.Errorf("wireguard key must be %d bytes, got %d", curve25519.PointSize, len(raw))
	}
	shared, err := curve25519.X25519(basepointScalar, raw)
	if err != nil {
		return "", fmt.Errorf("wireguard key is a low-order point: %w", err)
	}
	if isAllZero(shared) {
		return "", fmt.Errorf("wireguard key is a low-order point")
	}
	return b64, nil
}

// basepointScalar is an arbitrary fixed clamped scalar used only to probe
// whether a candidate key is a small-order point: X25519(basepointScalar,
// candidate) collapses to all-zero for every low-order point regardless of
// which scalar is used, and curve25519.X25519 itself rejects a handful of
// them outright.
var basepointScalar = func() []byte {
	s := make([]byte, curve25519.ScalarSize)
	s[0] = 1
	return s
}()

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func Parse(sourceURL, raw string) (model.Proxy, error) {
	parts, err := common.SplitURIParts("wg", raw)
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "malformed wireguard uri", err)
	}
	privKey, err := validateKey(parts.User)
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "invalid wireguard private key", err)
	}
	pubKey, err := validateKey(parts.Query["publickey"])
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "invalid wireguard peer public key", err)
	}

	p := model.Proxy{
		Kind:   model.KindWireGuard,
		Remark: parts.Name,
		Host:   parts.Host,
		Port:   parts.Port,
		WireGuard: &model.WireGuardFields{
			PrivateKey: privKey,
			Addresses:  splitNonEmpty(parts.Query["address"]),
			DNS:        splitNonEmpty(parts.Query["dns"]),
			Peers: []model.WireGuardPeer{{
				PublicKey:  pubKey,
				AllowedIPs: splitNonEmpty(parts.Query["allowedips"]),
				Endpoint:   fmt.Sprintf("%s:%d", parts.Host, parts.Port),
			}},
		},
	}
	if mtu := parts.Query["mtu"]; mtu != "" {
		fmt.Sscanf(mtu, "%d", &p.WireGuard.MTU)
	}
	return p, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	out := strings.Split(s, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

// Emit renders "wg://privkey@host:port?publickey=&address=&allowedips=#name".
func Emit(p model.Proxy) (string, error) {
	if p.Kind != model.KindWireGuard || p.WireGuard == nil || len(p.WireGuard.Peers) == 0 {
		return "", fmt.Errorf("wireguard.Emit: not a wireguard proxy")
	}
	peer := p.WireGuard.Peers[0]
	q := url.Values{}
	q.Set("publickey", peer.PublicKey)
	if len(p.WireGuard.Addresses) > 0 {
		q.Set("address", strings.Join(p.WireGuard.Addresses, ","))
	}
	if len(peer.AllowedIPs) > 0 {
		q.Set("allowedips", strings.Join(peer.AllowedIPs, ","))
	}
	if len(p.WireGuard.DNS) > 0 {
		q.Set("dns", strings.Join(p.WireGuard.DNS, ","))
	}
	if p.WireGuard.MTU > 0 {
		q.Set("mtu", fmt.Sprintf("%d", p.WireGuard.MTU))
	}
	u := fmt.Sprintf("wg://%s@%s:%d?%s", url.PathEscape(p.WireGuard.PrivateKey), p.Host, p.Port, q.Encode())
	if p.Remark != "" {
		u += "#" + url.PathEscape(p.Remark)
	}
	return u, nil
}
