package snell

import "testing"

func TestParse_Basic(t *testing.T) {
	p, err := Parse("", "snell://mypsk@example.com:8388?version=4#n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Snell.PSK != "mypsk" || p.Snell.Version != 4 {
		t.Fatalf("snell=%+v", p.Snell)
	}
}

func TestEmit_RoundTrip(t *testing.T) {
	p, err := Parse("", "snell://mypsk@example.com:8388?version=3#n")
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
	if round.Snell.Version != 3 {
		t.Fatalf("mismatch: %+v", round)
	}
}
