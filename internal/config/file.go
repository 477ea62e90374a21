package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// readConfigFile parses the JSON file at path and flattens it one level
// deep into dotted keys ("openai.api_key"). A missing file yields an
// empty map; a malformed one is reported and otherwise ignored so that
// environment variables can still carry the day.
func readConfigFile(path string) map[string]any {
	flat := map[string]any{}

	data, err := os.ReadFile(path)
	if err != nil {
		return flat
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] ignoring config file %s: %v\n", path, err)
		return flat
	}

	for section, v := range raw {
		nested, ok := v.(map[string]any)
		if !ok {
			flat[section] = v
			continue
		}
		for key, val := range nested {
			flat[section+"."+key] = val
		}
	}
	return flat
}
