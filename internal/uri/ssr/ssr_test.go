package ssr

import (
	"testing"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

func sampleProxy() model.Proxy {
	return model.Proxy{
		Kind:   model.KindShadowsocksR,
		Remark: "node",
		Host:   "example.com",
		Port:   8388,
		SSR: &model.ShadowsocksRFields{
			Cipher:   "aes-128-cfb",
			Password: "pass",
			Protocol: "origin",
			Obfs:     "plain",
		},
	}
}

func TestEmit_RoundTrip(t *testing.T) {
	out, err := Emit(sampleProxy())
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	p, err := Parse("", out)
	if err != nil {
		t.Fatalf("parse generated uri: %v", err)
	}
	if p.Host != "example.com" || p.Port != 8388 {
		t.Fatalf("host/port=%q/%d", p.Host, p.Port)
	}
	if p.SSR.Cipher != "aes-128-cfb" || p.SSR.Obfs != "plain" || p.SSR.Protocol != "origin" {
		t.Fatalf("ssr=%+v", p.SSR)
	}
	if p.Remark != "node" {
		t.Fatalf("remark=%q", p.Remark)
	}
}

func TestParse_WrongScheme(t *testing.T) {
	if _, err := Parse("", "ss://foo"); err == nil {
		t.Fatalf("expected error")
	}
}
