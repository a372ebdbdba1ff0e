package wireguard

import (
	"encoding/base64"
	"strings"
	"testing"
)

const privKey = "yAnz5TF+lXXJte14tji3zlMNq+hd2rYUIgJBgB3fBmk="
const pubKey = "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="

func TestParse_Basic(t *testing.T) {
	uri := "wg://" + privKey + "@example.com:51820?publickey=" + pubKey + "&address=10.0.0.2%2F32&allowedips=0.0.0.0%2F0#n"
	p, err := Parse("", uri)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.WireGuard.PrivateKey != privKey {
		t.Fatalf("privkey=%q", p.WireGuard.PrivateKey)
	}
	if len(p.WireGuard.Peers) != 1 || p.WireGuard.Peers[0].PublicKey != pubKey {
		t.Fatalf("peers=%+v", p.WireGuard.Peers)
	}
}

func TestParse_BadKeyLength(t *testing.T) {
	if _, err := Parse("", "wg://short@example.com:51820?publickey="+pubKey); err == nil {
		t.Fatalf("expected error for bad key length")
	}
}

func TestParse_RejectsLowOrderKey(t *testing.T) {
	zeroKey := base64.StdEncoding.EncodeToString(make([]byte, 32))
	uri := "wg://" + zeroKey + "@example.com:51820?publickey=" + pubKey
	if _, err := Parse("", uri); err == nil {
		t.Fatalf("expected error for all-zero (low-order) private key")
	}

	uri = "wg://" + privKey + "@example.com:51820?publickey=" + zeroKey
	if _, err := Parse("", uri); err == nil {
		t.Fatalf("expected error for all-zero (low-order) public key")
	}
}

func TestValidateKey_AcceptsGenuineKeys(t *testing.T) {
	for _, k := range []string{privKey, pubKey} {
		if _, err := validateKey(k); err != nil {
			t.Fatalf("unexpected rejection of genuine key %q: %v", k, err)
		}
	}
}

func TestValidateKey_RejectsMalformedBase64(t *testing.T) {
	if _, err := validateKey(strings.Repeat("!", 44)); err == nil {
		t.Fatalf("expected error for malformed base64")
	}
}

func TestEmit_RoundTrip(t *testing.T) {
	uri := "wg://" + privKey + "@example.com:51820?publickey=" + pubKey + "&address=10.0.0.2%2F32#n"
	p, err := Parse("", uri)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := Emit(p)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	round, err := Parse("", out)
	if err != nil {
		t.Fatalf("round-trip: %v", err)
	}
	if round.WireGuard.PrivateKey != p.WireGuard.PrivateKey {
		t.Fatalf("mismatch: %+v", round)
	}
}
