package hysteria

import "testing"

func TestParseV2_Basic(t *testing.T) {
	p, err := ParseV2("", "hysteria2://s3cret@example.com:443?sni=example.com&obfs=salamander&insecure=1#n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Hysteria.Password != "s3cret" || p.Hysteria.Obfs != "salamander" {
		t.Fatalf("hysteria=%+v", p.Hysteria)
	}
	if !p.TLS.SkipCertVerify {
		t.Fatalf("expected skip cert verify")
	}
}

func TestParseV1_Basic(t *testing.T) {
	p, err := ParseV1("", "hysteria://example.com:443?auth=tok&peer=example.com&upmbps=10&downmbps=50#n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Hysteria.Auth != "tok" || p.TLS.SNI != "example.com" {
		t.Fatalf("hysteria=%+v tls=%+v", p.Hysteria, p.TLS)
	}
}

func TestEmitV2_RoundTrip(t *testing.T) {
	p, err := ParseV2("", "hysteria2://s3cret@example.com:443?sni=example.com#n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := EmitV2(p)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	round, err := ParseV2("", out)
	if err != nil {
		t.Fatalf("round-trip: %v", err)
	}
	if round.Hysteria.Password != p.Hysteria.Password {
		t.Fatalf("mismatch: %+v", round)
	}
}
