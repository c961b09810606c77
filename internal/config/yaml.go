package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when present; a missing file is not an error.
const DefaultConfigFile = "keygate.yaml"

// YAML is a kong.ConfigurationLoader. Keys match flag names, with either
// dashes or underscores, and nested mappings join their keys with a dash:
//
//	listen: ":34953"
//	redis:
//	  addr: "localhost:6379"
//
// sets --listen and --redis-addr.
func YAML(r io.Reader) (kong.Resolver, error) {
	doc := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse yaml config: %w", err)
	}

	values := make(map[string]any)
	flatten("", doc, values)

	return kong.ResolverFunc(func(kctx *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		v, ok := values[flag.Name]
		if !ok {
			return nil, nil
		}
		return v, nil
	}), nil
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		name := strings.ReplaceAll(strings.ToLower(k), "_", "-")
		if prefix != "" {
			name = prefix + "-" + name
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(name, val, out)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[name] = strings.Join(parts, ",")
		case nil:
		default:
			out[name] = val
		}
	}
}
