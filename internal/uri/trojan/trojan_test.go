package trojan

import "testing"

func TestParse_Basic(t *testing.T) {
	p, err := Parse("", "trojan://s3cr3t@example.com:443?sni=example.com&allowInsecure=1#n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Trojan.Password != "s3cr3t" {
		t.Fatalf("password=%q", p.Trojan.Password)
	}
	if !p.TLS.Enabled || !p.TLS.SkipCertVerify {
		t.Fatalf("tls=%+v", p.TLS)
	}
}

func TestParse_MissingPassword(t *testing.T) {
	if _, err := Parse("", "trojan://@example.com:443"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEmit_RoundTrip(t *testing.T) {
	p, err := Parse("", "trojan://s3cr3t@example.com:443?sni=example.com#n")
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
	if round.Trojan.Password != p.Trojan.Password {
		t.Fatalf("mismatch: %+v", round)
	}
}
