// Package model holds the canonical proxy representation shared by every
// codec, parser, pipeline step and generator in this module.
package model

import (
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the outbound protocol a Proxy describes.
type Kind string

const (
	KindShadowsocks  Kind = "ss"
	KindShadowsocksR Kind = "ssr"
	KindVMess        Kind = "vmess"
	KindVLESS        Kind = "vless"
	KindTrojan       Kind = "trojan"
	KindHTTP         Kind = "http"
	KindHTTPS        Kind = "https"
	KindSocks5       Kind = "socks5"
	KindHysteria     Kind = "hysteria"
	KindHysteria2    Kind = "hysteria2"
	KindWireGuard    Kind = "wireguard"
	KindSnell        Kind = "snell"
	KindUnknown      Kind = "unknown"
)

// Tri is a tri-state flag: unset defers to settings/target default.
type Tri int8

const (
	TriUnset Tri = iota
	TriTrue
	TriFalse
)

func TriFromBool(b bool) Tri {
	if b {
		return TriTrue
	}
	return TriFalse
}

// Bool resolves the tri-state against a default used when unset.
func (t Tri) Bool(def bool) bool {
	switch t {
	case TriTrue:
		return true
	case TriFalse:
		return false
	default:
		return def
	}
}

func (t Tri) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	default:
		return "unset"
	}
}

// KV is an ordered key/value pair; plugin options and SSR params must
// preserve insertion order to keep generator output deterministic.
type KV struct {
	Key   string
	Value string
}

type ShadowsocksFields struct {
	Cipher     string
	Password   string
	PluginName string
	PluginOpts []KV
}

type ShadowsocksRFields struct {
	Cipher        string
	Password      string
	Protocol      string
	ProtocolParam string
	Obfs          string
	ObfsParam     string
	// Extra carries recognized-but-unconsumed params (remarks/group) and any
	// unknown keys, verbatim, per spec.md §4.1.
	Extra []KV
}

type VMessFields struct {
	UUID     string
	AlterID  int
	Security string // defaults to "auto"
}

type VLESSFields struct {
	UUID string
	Flow string
}

type TrojanFields struct {
	Password string
}

// HTTPFields covers http/https/socks5, which all share user/pass auth.
type HTTPFields struct {
	Username string
	Password string
}

type HysteriaFields struct {
	Auth     string
	Password string
	Obfs     string
	Up       string
	Down     string
	Protocol string // "udp" (hysteria1); unused for hysteria2
}

type WireGuardPeer struct {
	PublicKey  string
	AllowedIPs []string
	Endpoint   string
}

type WireGuardFields struct {
	PrivateKey string
	Addresses  []string
	DNS        []string
	MTU        int
	Peers      []WireGuardPeer
}

type SnellFields struct {
	PSK     string
	Version int
}

type TransportKind string

const (
	TransportTCP  TransportKind = "tcp"
	TransportWS   TransportKind = "ws"
	TransportHTTP TransportKind = "http"
	TransportH2   TransportKind = "h2"
	TransportGRPC TransportKind = "grpc"
	TransportQUIC TransportKind = "quic"
	TransportKCP  TransportKind = "kcp"
)

type TransportDescriptor struct {
	Kind TransportKind

	Path        string // ws/http/h2
	Host        string // Host header for ws/http/h2
	ServiceName string // grpc
	Seed        string // kcp
	HeaderType  string // kcp/tcp header obfuscation type
}

type RealityDescriptor struct {
	PublicKey string
	ShortID   string
	SpiderX   string
}

type TLSDescriptor struct {
	Enabled        bool
	SNI            string
	ALPN           []string
	Fingerprint    string
	SkipCertVerify bool
	TLS13          bool
	Reality        *RealityDescriptor
}

// Proxy is the canonical representation of one outbound endpoint.
type Proxy struct {
	Kind   Kind
	Remark string
	Group  string
	Host   string
	Port   int

	SS        *ShadowsocksFields
	SSR       *ShadowsocksRFields
	VMess     *VMessFields
	VLESS     *VLESSFields
	Trojan    *TrojanFields
	HTTPProxy *HTTPFields
	Hysteria  *HysteriaFields
	WireGuard *WireGuardFields
	Snell     *SnellFields

	Transport TransportDescriptor
	TLS       TLSDescriptor

	UDP            Tri
	TFO            Tri
	SkipCertVerify Tri
	TLS13          Tri
}

// Validate checks the invariants spec.md §3 names. It never mutates p.
func (p *Proxy) Validate() error {
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("port out of range: %d", p.Port)
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("empty host")
	}
	switch p.Kind {
	case KindShadowsocks:
		if p.SS == nil || p.SS.Cipher == "" || p.SS.Password == "" {
			return fmt.Errorf("shadowsocks node missing cipher/password")
		}
	case KindShadowsocksR:
		if p.SSR == nil || p.SSR.Cipher == "" || p.SSR.Password == "" || p.SSR.Protocol == "" || p.SSR.Obfs == "" {
			return fmt.Errorf("shadowsocksr node missing required fields")
		}
	case KindVMess:
		if p.VMess == nil || p.VMess.UUID == "" {
			return fmt.Errorf("vmess node missing uuid")
		}
	case KindVLESS:
		if p.VLESS == nil || p.VLESS.UUID == "" {
			return fmt.Errorf("vless node missing uuid")
		}
	case KindTrojan:
		if p.Trojan == nil || p.Trojan.Password == "" {
			return fmt.Errorf("trojan node missing password")
		}
	case KindHTTP, KindHTTPS, KindSocks5:
		// credentials optional
	case KindHysteria, KindHysteria2:
		if p.Hysteria == nil {
			return fmt.Errorf("hysteria node missing fields")
		}
	case KindWireGuard:
		if p.WireGuard == nil || p.WireGuard.PrivateKey == "" || len(p.WireGuard.Addresses) == 0 {
			return fmt.Errorf("wireguard node requires private key and at least one address")
		}
	case KindSnell:
		if p.Snell == nil || p.Snell.PSK == "" {
			return fmt.Errorf("snell node missing psk")
		}
	default:
		return fmt.Errorf("unknown proxy kind: %s", p.Kind)
	}
	if !p.TLS.Enabled && p.TLS.Reality != nil {
		return fmt.Errorf("reality fields set without tls enabled")
	}
	return nil
}

// Normalize applies the defaulting rules spec.md §3 calls out (VMess
// security defaults to auto, host lowercased) without touching Remark.
func (p *Proxy) Normalize() {
	p.Host = strings.ToLower(strings.TrimSpace(p.Host))
	if p.VMess != nil && strings.TrimSpace(p.VMess.Security) == "" {
		p.VMess.Security = "auto"
	}
}

// IdentityKey returns the stable dedup identity: (kind, host, port,
// credentials, transport fingerprint). Remark is deliberately excluded.
func (p *Proxy) IdentityKey() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|", p.Kind, p.Host, p.Port)
	switch p.Kind {
	case KindShadowsocks:
		fmt.Fprintf(&b, "%s|%s|%s", p.SS.Cipher, p.SS.Password, p.SS.PluginName)
		writeKVs(&b, p.SS.PluginOpts)
	case KindShadowsocksR:
		fmt.Fprintf(&b, "%s|%s|%s|%s|%s|%s", p.SSR.Cipher, p.SSR.Password, p.SSR.Protocol, p.SSR.ProtocolParam, p.SSR.Obfs, p.SSR.ObfsParam)
	case KindVMess:
		fmt.Fprintf(&b, "%s|%d|%s", p.VMess.UUID, p.VMess.AlterID, p.VMess.Security)
	case KindVLESS:
		fmt.Fprintf(&b, "%s|%s", p.VLESS.UUID, p.VLESS.Flow)
	case KindTrojan:
		b.WriteString(p.Trojan.Password)
	case KindHTTP, KindHTTPS, KindSocks5:
		if p.HTTPProxy != nil {
			fmt.Fprintf(&b, "%s|%s", p.HTTPProxy.Username, p.HTTPProxy.Password)
		}
	case KindHysteria, KindHysteria2:
		fmt.Fprintf(&b, "%s|%s|%s", p.Hysteria.Auth, p.Hysteria.Password, p.Hysteria.Obfs)
	case KindWireGuard:
		fmt.Fprintf(&b, "%s|%s", p.WireGuard.PrivateKey, strings.Join(p.WireGuard.Addresses, ","))
	case KindSnell:
		fmt.Fprintf(&b, "%s|%d", p.Snell.PSK, p.Snell.Version)
	}
	fmt.Fprintf(&b, "|%s|%s|%s|%s", p.Transport.Kind, p.Transport.Path, p.Transport.Host, p.Transport.ServiceName)
	if p.TLS.Enabled {
		fmt.Fprintf(&b, "|tls:%s:%s", p.TLS.SNI, strings.Join(p.TLS.ALPN, ","))
	}
	return b.String()
}

func writeKVs(b *strings.Builder, kvs []KV) {
	// Sort a copy so option order never affects identity, per spec.md §3
	// ("key order" is explicitly excluded from equality).
	cp := make([]KV, len(kvs))
	copy(cp, kvs)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Key < cp[j].Key })
	for _, kv := range cp {
		fmt.Fprintf(b, "|%s=%s", kv.Key, kv.Value)
	}
}

// Equal implements the round-trip equality property from spec.md §8:
// remark whitespace and plugin/param key order are ignored.
func (p *Proxy) Equal(o *Proxy) bool {
	if p == nil || o == nil {
		return p == o
	}
	if strings.TrimSpace(p.Remark) != strings.TrimSpace(o.Remark) {
		return false
	}
	return p.IdentityKey() == o.IdentityKey()
}
