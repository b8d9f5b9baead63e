package rewrite

import (
	_ "embed"
	"encoding/json"
	"strings"
)

//go:embed runtime.js
var runtimeSource string

const configPlaceholder = "__WEBRELAY_CONFIG__"

// runtimeConfig is serialized into the runtime script. encoding/json escapes
// <, > and & so no value can close the surrounding script element.
type runtimeConfig struct {
	Target      string `json:"target"`
	Origin      string `json:"origin"`
	Navigate    string `json:"navigate"`
	Resource    string `json:"resource"`
	Forward     string `json:"forward,omitempty"`
	LinkMarker  string `json:"linkMarker"`
	FormMarker  string `json:"formMarker"`
	MessageType string `json:"messageType"`
}

// Script returns the runtime override script, bridge included, configured for c.
func Script(c *Context) string {
	cfg := runtimeConfig{
		Target:      c.Base.String(),
		Origin:      c.Origin,
		Navigate:    c.PublicBase + NavigatePath,
		Resource:    c.PublicBase + ResourcePath,
		Forward:     c.Forward,
		LinkMarker:  LinkMarker,
		FormMarker:  FormMarker,
		MessageType: BridgeMessageType,
	}
	// string fields only
	data, _ := json.Marshal(cfg)
	body := strings.Replace(runtimeSource, configPlaceholder, string(data), 1)
	return "<script data-webrelay-runtime>" + body + "</script>"
}
