/*
Package config loads runtime settings and provides type-safe extraction
from map[string]any option blocks.

# Settings

LoadSettings reads an optional YAML file, overlays environment variables
prefixed with ORCHESTRA_ and validates the result:

	s, err := config.LoadSettings("orchestra.yaml")
	// ORCHESTRA_REDIS_URL=redis://localhost:6379/0 overrides redis_url
	// ORCHESTRA_HISTORY_BACKEND=sqlite overrides history.backend

# Option maps

Channels carry free-form options. Config wraps such a map and returns
defaults for missing keys or mismatched types:

	cfg := config.New(map[string]any{"latency": "20ms", "healthy": true})
	latency := cfg.Duration("latency", 0)  // 20ms
	healthy := cfg.Bool("healthy", false)  // true
	prefix := cfg.String("prefix", "echo") // "echo"

LoadOptions and ParseOptions build a Config from YAML or JSON. A channel
entry may name an options_file; its keys are loaded first and the inline
options override them:

	channels:
	  - name: kiosk
	    type: multimodal
	    options_file: kiosk.yaml
	    options:
	      chunk_size: 4

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
