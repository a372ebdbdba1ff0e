package document

import (
	"encoding/base64"
	"testing"
)

func TestDetect_ClashYAML(t *testing.T) {
	doc := "proxies:\n  - name: a\n    type: ss\n    server: 1.2.3.4\n    port: 443\n    cipher: aes-128-gcm\n    password: pw\n"
	out, err := Detect("http://x", doc)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Remark != "a" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestDetect_SingboxJSON(t *testing.T) {
	doc := `{"outbounds":[{"type":"shadowsocks","tag":"a","server":"1.2.3.4","server_port":443,"method":"aes-128-gcm","password":"pw"}]}`
	out, err := Detect("http://x", doc)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Kind != "ss" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestDetect_SSDJSON(t *testing.T) {
	doc := `{"airport":"a","port":443,"encryption":"aes-128-gcm","password":"pw","servers":[{"remarks":"n1","server":"1.2.3.4"}]}`
	out, err := Detect("http://x", doc)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Remark != "n1" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestDetect_SIP008JSON(t *testing.T) {
	doc := `{"version":1,"servers":[{"id":"1","remarks":"n1","server":"1.2.3.4","server_port":443,"method":"aes-128-gcm","password":"pw"}]}`
	out, err := Detect("http://x", doc)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Remark != "n1" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestDetect_SurgeINI(t *testing.T) {
	doc := "[Proxy]\nn1 = ss, 1.2.3.4, 443, encrypt-method=aes-128-gcm, password=pw\n"
	out, err := Detect("http://x", doc)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Remark != "n1" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestDetect_QuanXINI(t *testing.T) {
	doc := "[server_local]\nshadowsocks = 1.2.3.4:443, method=aes-128-gcm, password=pw, tag=n1\n"
	out, err := Detect("http://x", doc)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Remark != "n1" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestDetect_Base64List(t *testing.T) {
	link := "ss://YWVzLTEyOC1nY206cHc@1.2.3.4:443#n1"
	doc := base64.StdEncoding.EncodeToString([]byte(link))
	out, err := Detect("http://x", doc)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Remark != "n1" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestDetect_PlainLinkList(t *testing.T) {
	doc := "ss://YWVzLTEyOC1nY206cHc@1.2.3.4:443#n1\n"
	out, err := Detect("http://x", doc)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Remark != "n1" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

// TestDetect_OrderPinned checks that a Clash proxies: list whose YAML
// comment mentions an INI section header is still read by the Clash probe.
// iniFlavor only counts lines that begin with "[", so the commented
// "# [Proxy]" line is not a section header to the INI probe either.
func TestDetect_OrderPinned(t *testing.T) {
	doc := "# [Proxy]\nproxies:\n  - name: a\n    type: ss\n    server: 1.2.3.4\n    port: 443\n    cipher: aes-128-gcm\n    password: pw\n"
	out, err := Detect("http://x", doc)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Remark != "a" {
		t.Fatalf("expected clash parse to win, got: %+v", out)
	}
}

func TestDetect_Unrecognized(t *testing.T) {
	if _, err := Detect("http://x", "\x00\x01\x02 not a subscription"); err == nil {
		t.Fatalf("expected an error for unrecognized content")
	}
}
