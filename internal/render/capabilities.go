package render

import "github.com/John-Robertt/subconverter-go/internal/model"

// Supports reports whether target's generator can represent kind at all.
// A false result means the node is silently skipped and counted in the
// Diagnostics value Render returns, per spec.md §4.8.
func Supports(target Target, kind model.Kind) bool {
	set, ok := capabilityMatrix[target]
	if !ok {
		return false
	}
	_, ok = set[kind]
	return ok
}

var allKinds = map[model.Kind]struct{}{
	model.KindShadowsocks: {}, model.KindShadowsocksR: {}, model.KindVMess: {}, model.KindVLESS: {},
	model.KindTrojan: {}, model.KindHTTP: {}, model.KindHTTPS: {}, model.KindSocks5: {},
	model.KindHysteria: {}, model.KindHysteria2: {}, model.KindWireGuard: {}, model.KindSnell: {},
}

// capabilityMatrix is the protocol x target support table spec.md §4.8
// calls for. Absence of a target key means "every kind unsupported".
var capabilityMatrix = map[Target]map[model.Kind]struct{}{
	TargetClash: {
		model.KindShadowsocks: {}, model.KindShadowsocksR: {}, model.KindVMess: {}, model.KindVLESS: {},
		model.KindTrojan: {}, model.KindHTTP: {}, model.KindHTTPS: {}, model.KindSocks5: {},
		model.KindHysteria2: {}, model.KindWireGuard: {}, model.KindSnell: {},
		// KindHysteria (v1) has no stable Clash-core field mapping in this module.
	},
	TargetSurge: {
		model.KindShadowsocks: {}, model.KindVMess: {}, model.KindTrojan: {}, model.KindHTTP: {},
		model.KindHTTPS: {}, model.KindSocks5: {}, model.KindSnell: {},
		// Surge never gained SSR/VLESS/hysteria/wireguard support.
	},
	TargetShadowrocket: allKinds, // Shadowrocket is a superset Surge-config consumer.
	TargetQuan: {
		model.KindShadowsocks: {}, model.KindShadowsocksR: {}, model.KindVMess: {},
		model.KindHTTP: {}, model.KindHTTPS: {},
		// Classic Quantumult never gained trojan/socks5/vless support; that's QuanX.
	},
	TargetQuanx: {
		model.KindShadowsocks: {}, model.KindVMess: {}, model.KindTrojan: {}, model.KindHTTP: {},
		model.KindHTTPS: {}, model.KindSocks5: {},
	},
	TargetSingbox: allKinds,
	TargetLoon: {
		model.KindShadowsocks: {}, model.KindShadowsocksR: {}, model.KindVMess: {}, model.KindTrojan: {},
		model.KindHTTP: {}, model.KindHTTPS: {}, model.KindSocks5: {}, model.KindWireGuard: {},
	},
	TargetMellow: {
		model.KindShadowsocks: {}, model.KindVMess: {}, model.KindTrojan: {}, model.KindSocks5: {},
	},
	TargetSSD:   {model.KindShadowsocks: {}}, // SSD is a Shadowsocks-only legacy format.
	TargetSSSub: {model.KindShadowsocks: {}},
	TargetMixed: allKinds, // a raw link list can carry any scheme uri.Emit knows.
}

// AllowedRuleTypes returns the rule TYPE allow-list for the target, used at
// compile time to fail fast instead of producing an unimportable document.
func AllowedRuleTypes(target Target) map[model.RuleType]struct{} {
	base := map[model.RuleType]struct{}{
		model.RuleDomain: {}, model.RuleDomainSuffix: {}, model.RuleDomainKeyword: {},
		model.RuleIPCIDR: {}, model.RuleIPCIDR6: {}, model.RuleGEOIP: {},
		model.RuleProcessName: {}, model.RuleMatch: {},
	}
	switch target {
	case TargetClash, TargetSurge, TargetShadowrocket, TargetQuanx, TargetLoon, TargetSingbox:
		base[model.RuleURLRegex] = struct{}{}
		base[model.RuleUserAgent] = struct{}{}
		return base
	case TargetQuan:
		base[model.RuleUserAgent] = struct{}{}
		return base
	case TargetMellow:
		return base
	default:
		return nil
	}
}
