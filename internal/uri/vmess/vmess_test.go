package vmess

import (
	"encoding/base64"
	"testing"
)

const sampleJSON = `{"v":"2","ps":"node-a","add":"example.com","port":443,"id":"b831381d-6324-4d53-ad4f-8cda48b30811","aid":"0","scy":"auto","net":"ws","type":"none","host":"example.com","path":"/ray","tls":"tls","sni":"example.com"}`

func TestParse_Basic(t *testing.T) {
	uri := "vmess://" + base64.StdEncoding.EncodeToString([]byte(sampleJSON))
	p, err := Parse("", uri)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Host != "example.com" || p.Port != 443 {
		t.Fatalf("host/port=%q/%d", p.Host, p.Port)
	}
	if p.VMess.UUID != "b831381d-6324-4d53-ad4f-8cda48b30811" {
		t.Fatalf("uuid=%q", p.VMess.UUID)
	}
	if !p.TLS.Enabled || p.TLS.SNI != "example.com" {
		t.Fatalf("tls=%+v", p.TLS)
	}
}

func TestParse_SecurityFallsBackToSecurityKey(t *testing.T) {
	js := `{"v":"2","ps":"node-b","add":"example.com","port":443,"id":"b831381d-6324-4d53-ad4f-8cda48b30811","aid":"0","security":"chacha20-poly1305","net":"tcp"}`
	uri := "vmess://" + base64.StdEncoding.EncodeToString([]byte(js))
	p, err := Parse("", uri)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.VMess.Security != "chacha20-poly1305" {
		t.Fatalf("security=%q, want chacha20-poly1305", p.VMess.Security)
	}
}

func TestParse_ScyWinsOverSecurity(t *testing.T) {
	js := `{"v":"2","ps":"node-c","add":"example.com","port":443,"id":"b831381d-6324-4d53-ad4f-8cda48b30811","aid":"0","scy":"aes-128-gcm","security":"chacha20-poly1305","net":"tcp"}`
	uri := "vmess://" + base64.StdEncoding.EncodeToString([]byte(js))
	p, err := Parse("", uri)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.VMess.Security != "aes-128-gcm" {
		t.Fatalf("security=%q, want aes-128-gcm (scy wins)", p.VMess.Security)
	}
}

func TestParse_SNIFallsBackToHost(t *testing.T) {
	js := `{"v":"2","ps":"node-d","add":"example.com","port":443,"id":"b831381d-6324-4d53-ad4f-8cda48b30811","aid":"0","net":"ws","host":"cdn.example.com","path":"/ray","tls":"tls"}`
	uri := "vmess://" + base64.StdEncoding.EncodeToString([]byte(js))
	p, err := Parse("", uri)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.TLS.Enabled || p.TLS.SNI != "cdn.example.com" {
		t.Fatalf("tls=%+v, want sni falling back to host", p.TLS)
	}
}

func TestParse_RejectsWrongScheme(t *testing.T) {
	if _, err := Parse("", "ss://foo"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEmit_RoundTrip(t *testing.T) {
	uri := "vmess://" + base64.StdEncoding.EncodeToString([]byte(sampleJSON))
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
		t.Fatalf("round-trip parse: %v", err)
	}
	if round.Host != p.Host || round.VMess.UUID != p.VMess.UUID {
		t.Fatalf("round trip mismatch: %+v vs %+v", p, round)
	}
}
