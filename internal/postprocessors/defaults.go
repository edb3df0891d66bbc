package postprocessors

import (
	"github.com/custodia-labs/covera/internal/core/ports/driven"
	"github.com/custodia-labs/covera/internal/postprocessors/chunker"
	"github.com/custodia-labs/covera/internal/postprocessors/metadata"
)

// RegisterDefaults registers all built-in processors with the registry.
// Call this during application initialisation to enable standard processors.
func RegisterDefaults(r *Registry) {
	r.Register("chunker", buildChunker)
	r.Register("metadata", func(_ map[string]any) (driven.PostProcessor, error) {
		return metadata.New(), nil
	})
}

// buildChunker creates a chunker processor from generic config.
// Supported config keys:
//   - max_tokens (int): Upper bound of tokens per chunk (default: 256)
//   - min_tokens (int): Chunks below this are merged with neighbours (default: 32)
func buildChunker(cfg map[string]any) (driven.PostProcessor, error) {
	var opts []chunker.Option

	if cfg != nil {
		if n := getIntFromConfig(cfg, "max_tokens"); n > 0 {
			opts = append(opts, chunker.WithMaxTokens(n))
		}
		if _, ok := cfg["min_tokens"]; ok {
			opts = append(opts, chunker.WithMinTokens(getIntFromConfig(cfg, "min_tokens")))
		}
	}

	return chunker.New(opts...), nil
}

// getIntFromConfig safely extracts an int from generic config map.
// Handles int, int64, and float64 types that may come from TOML/JSON parsing.
func getIntFromConfig(cfg map[string]any, key string) int {
	val, ok := cfg[key]
	if !ok {
		return 0
	}

	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
