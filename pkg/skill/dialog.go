package skill

import "math/rand/v2"

// dialogs maps a dialog name to its spoken variants.
var dialogs = map[string][]string{
	"why": {
		"The access key changed, so the assistant has to restart before Node-RED can connect again.",
	},
	"bad_key": {
		"A Node-RED connection was rejected.",
		"Node-RED tried to connect with the wrong key.",
	},
	"converse_on": {
		"Node-RED conversation is already on.",
	},
	"converse_enable": {
		"Node-RED will now follow the conversation.",
		"Conversation with Node-RED enabled.",
	},
	"converse_off": {
		"Node-RED conversation is already off.",
	},
	"converse_disable": {
		"Node-RED will stop following the conversation.",
		"Conversation with Node-RED disabled.",
	},
}

// render picks one variant of the named dialog. Unknown names are spoken as
// written with underscores replaced.
func render(name string) string {
	variants := dialogs[name]
	switch len(variants) {
	case 0:
		out := []rune(name)
		for i, r := range out {
			if r == '_' {
				out[i] = ' '
			}
		}
		return string(out)
	case 1:
		return variants[0]
	default:
		return variants[rand.IntN(len(variants))]
	}
}
