package config

import (
	"fmt"

	"helmsman/pkg/confkit"
	"helmsman/pkg/engine"
	"helmsman/pkg/exchange"
	"helmsman/pkg/llm"
)

// MustLoadLLM loads etc/llm.yaml from the project root and panics on error.
func MustLoadLLM() *llm.Config {
	path := confkit.MustProjectPath("etc/llm.yaml")
	cfg, err := llm.LoadConfig(path)
	if err != nil {
		panic(fmt.Errorf("load llm config %s: %w", path, err))
	}
	return cfg
}

// MustLoadExchange loads etc/exchange.yaml from the project root and panics
// on error. It isolates venue config so tests that only need the exchange
// client skip the other sections.
func MustLoadExchange() *exchange.Config {
	path := confkit.MustProjectPath("etc/exchange.yaml")
	cfg, err := exchange.LoadConfig(path)
	if err != nil {
		panic(fmt.Errorf("load exchange config %s: %w", path, err))
	}
	return cfg
}

// MustLoadEngine loads etc/engine.yaml from the project root and panics on
// error.
func MustLoadEngine() *engine.Config {
	path := confkit.MustProjectPath("etc/engine.yaml")
	cfg, err := engine.LoadConfig(path)
	if err != nil {
		panic(fmt.Errorf("load engine config %s: %w", path, err))
	}
	return cfg
}
