// Package config assembles the LLMConfig/OperationConfigs value described
// in spec.md's Design Notes ("Global configuration and per-operation
// config objects"), plus the YAML and TOML file formats that feed it.
package config

import (
	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// DefaultAIModel is the model name used when no config layer overrides it,
// matching the teacher's config.DefaultAIModel used by the Haiku client.
const DefaultAIModel = "claude-haiku-4-5"

// Defaults returns the handle-level OperationConfigs baseline. Per-call and
// per-operation overrides are layered on top via types.LLMConfig.Merge.
func Defaults() types.OperationConfigs {
	base := types.LLMConfig{
		Model:       DefaultAIModel,
		Temperature: 0.2,
		TopP:        1.0,
		MaxTokens:   1024,
	}
	// Merge skips zero-valued override fields, so a zero temperature is
	// set on a copy directly.
	merge := base
	merge.Temperature = 0.0
	return types.OperationConfigs{
		Chat:     base,
		Merge:    merge,
		Compress: base.Merge(types.LLMConfig{Temperature: 0.3, MaxTokens: 2048}),
		Collapse: base.Merge(types.LLMConfig{Temperature: 0.3, MaxTokens: 2048}),
	}
}

// Resolve layers overrides on top of defaults in the documented order:
// per-call override > per-operation default > handle default. handleLevel
// and opLevel may be the zero value, meaning "no override at this layer".
func Resolve(handleLevel, opLevel, callLevel types.LLMConfig) types.LLMConfig {
	return handleLevel.Merge(opLevel).Merge(callLevel)
}
