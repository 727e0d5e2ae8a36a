package model

// DefaultModel is used when the caller omits or misspells the model name.
const DefaultModel = "V4_5"

var validModels = map[string]bool{
	"V5":       true,
	"V4_5PLUS": true,
	"V4_5":     true,
	"V4":       true,
	"V3_5":     true,
}

// Aliases accepted from callers for retired model family names.
var modelAliases = map[string]string{
	"V4_5ALL": "V4_5",
	"V4ALL":   "V4",
}

// Downgrade chain used when a model rejects a submission with a
// retriable error.
var fallbackChain = map[string]string{
	"V5":       "V4_5PLUS",
	"V4_5PLUS": "V4_5",
	"V4":       "V3_5",
}

// ResolveModel maps a caller-supplied model name to a valid provider
// model, applying aliases and falling back to the default for unknown
// names. An empty input resolves to the default.
func ResolveModel(requested string) string {
	if requested == "" {
		return DefaultModel
	}
	if alias, ok := modelAliases[requested]; ok {
		return alias
	}
	if validModels[requested] {
		return requested
	}
	return DefaultModel
}

// IsValidModel reports whether name is a model the provider accepts.
func IsValidModel(name string) bool {
	return validModels[name]
}

// NextFallback returns the next model to try after a retriable failure,
// or "" when the chain is exhausted.
func NextFallback(current string) string {
	return fallbackChain[current]
}
