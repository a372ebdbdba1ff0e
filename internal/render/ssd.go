package render

import (
	"encoding/json"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
)

// ssdServer is one entry of the legacy SSD subscription document's
// "server" array.
type ssdServer struct {
	ID            int    `json:"id"`
	Remarks       string `json:"remarks"`
	Server        string `json:"server"`
	Port          int    `json:"port"`
	Encryption    string `json:"encryption"`
	Password      string `json:"password"`
	Plugin        string `json:"plugin,omitempty"`
	PluginOptions string `json:"plugin_options,omitempty"`
}

type ssdDocument struct {
	Airport string      `json:"airport"`
	Port    int         `json:"port"`
	Server  []ssdServer `json:"server"`
}

// renderSSD produces the legacy Shadowsocks-only SSD document; every
// non-ss node is a skip, per spec.md §4.8.
func renderSSD(res *compiler.Result) (Blocks, Diagnostics, error) {
	var diag Diagnostics

	doc := ssdDocument{Airport: "subconverter-go", Server: make([]ssdServer, 0, len(res.Proxies))}
	for i, p := range res.Proxies {
		if !Supports(TargetSSD, p.Kind) {
			diag.skip(p, kindSkipReason(TargetSSD, p.Kind))
			continue
		}
		srv := ssdServer{
			ID:         i + 1,
			Remarks:    p.Remark,
			Server:     p.Host,
			Port:       p.Port,
			Encryption: p.SS.Cipher,
			Password:   p.SS.Password,
		}
		if p.SS.PluginName != "" {
			mode, host, err := parseSSObfsPlugin(p)
			if err != nil {
				return Blocks{}, diag, err
			}
			srv.Plugin = "obfs-local"
			srv.PluginOptions = "obfs=" + mode
			if host != "" {
				srv.PluginOptions += ";obfs-host=" + host
			}
		}
		if len(doc.Server) == 0 {
			doc.Port = p.Port
		}
		doc.Server = append(doc.Server, srv)
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Blocks{}, diag, &RenderError{AppError: model.AppError{
			Code: "INVALID_ARGUMENT", Message: "SSD JSON 编码失败", Stage: "render",
		}, Cause: err}
	}
	return Blocks{Proxies: string(body)}, diag, nil
}
