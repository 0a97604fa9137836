package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// readConfigMap loads config.yaml as a generic map so dotted-key commands
// can traverse it. A missing file is an empty map, not an error.
func readConfigMap(path string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return out, nil
	case err != nil:
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// writeConfigMap serializes the map back to disk, creating the parent
// directory on first use.
func writeConfigMap(path string, data map[string]interface{}) error {
	raw, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// getConfigValue resolves a dotted key such as "agent_a.model" against
// nested maps.
func getConfigValue(data map[string]interface{}, key string) (interface{}, bool) {
	var node interface{} = data
	for rest := key; rest != ""; {
		var part string
		part, rest, _ = strings.Cut(rest, ".")
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if node, ok = m[part]; !ok {
			return nil, false
		}
	}
	return node, true
}

// setConfigValue writes a dotted key, materializing intermediate maps as
// needed. Non-map intermediates are replaced.
func setConfigValue(data map[string]interface{}, key string, value interface{}) error {
	node := data
	rest := key
	for {
		part, tail, nested := strings.Cut(rest, ".")
		if !nested {
			node[part] = value
			return nil
		}
		child, ok := node[part].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			node[part] = child
		}
		node = child
		rest = tail
	}
}

// parseValue stores CLI input as the narrowest YAML scalar that fits:
// bool, then integer, then float, falling back to the raw string.
func parseValue(raw string) interface{} {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// prettyValue renders a looked-up value for terminal output. Scalars and
// lists stay on one line; maps fall back to YAML blocks.
func prettyValue(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		raw, _ := yaml.Marshal(val)
		return strings.TrimSpace(string(raw))
	case []interface{}:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = prettyValue(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	default:
		return fmt.Sprint(val)
	}
}
