// Package config loads the AssemblerMapping configuration table (spec.md
// §6's Config: service/method/version/non-TP-message-type flow kinds
// mapped to max-rx-size and allocator choice) from a YAML or JSON file,
// matching the teacher's examples/configuration/{json,yaml} conventions
// and server/registry.go's mapstructure decode idiom. TOML is not wired:
// see DESIGN.md.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"encoding/json"

	"github.com/quickcom/someip-ipc-core/someip"
	"github.com/quickcom/someip-ipc-core/someip/tp"
)

// rawEntry is the file-level shape of one AssemblerMapping config entry,
// decoded first into a loosely-typed tree and then into tp.ConfigEntry by
// mapstructure, the same two-step "decode untyped map into struct" idiom
// server/registry.go applies to tool-call arguments.
type rawEntry struct {
	ServiceID             uint16 `mapstructure:"service_id"`
	MajorVersion          uint8  `mapstructure:"major_version"`
	MethodID              uint16 `mapstructure:"method_id"`
	NonTPMessageType      uint8  `mapstructure:"non_tp_message_type"`
	MaxRxMessageSize      int    `mapstructure:"max_rx_message_size"`
	UseDeterministicAlloc bool   `mapstructure:"use_deterministic_alloc"`
}

type rawConfig struct {
	PreAllocationSize int        `mapstructure:"pre_allocation_size"`
	Entries           []rawEntry `mapstructure:"entries"`
}

// LoadAssemblerMapping reads path (extension-sniffed: .yaml/.yml or
// .json) into a loosely-typed tree, then decodes it into a tp.Config via
// mapstructure.
func LoadAssemblerMapping(path string) (tp.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tp.Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var tree map[string]interface{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return tp.Config{}, fmt.Errorf("config: parse yaml %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &tree); err != nil {
			return tp.Config{}, fmt.Errorf("config: parse json %s: %w", path, err)
		}
	default:
		return tp.Config{}, fmt.Errorf("config: unsupported extension %q (want .yaml, .yml or .json)", ext)
	}

	var raw rawConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return tp.Config{}, fmt.Errorf("config: building decoder: %w", err)
	}
	if err := decoder.Decode(tree); err != nil {
		return tp.Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg := tp.Config{
		Entries:           make(map[tp.ConfigKey]tp.ConfigEntry, len(raw.Entries)),
		PreAllocationSize: raw.PreAllocationSize,
	}
	for _, e := range raw.Entries {
		key := tp.ConfigKey{
			ServiceID:        e.ServiceID,
			MajorVersion:     e.MajorVersion,
			MethodID:         e.MethodID,
			NonTPMessageType: someip.MessageType(e.NonTPMessageType),
		}
		cfg.Entries[key] = tp.ConfigEntry{
			MaxRxMessageSize:      e.MaxRxMessageSize,
			UseDeterministicAlloc: e.UseDeterministicAlloc,
		}
	}
	return cfg, nil
}
