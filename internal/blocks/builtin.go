package blocks

import "time"

// BuiltinConfig configures the in-process blocks.
type BuiltinConfig struct {
	HTTP HTTPConfig
	Now  func() time.Time
}

// RegisterBuiltins registers every in-process block in reg.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	blocks := []struct {
		name string
		acts []Action
	}{
		{HTTPBlock, HTTPActions(cfg.HTTP)},
		{DataBlock, DataActions()},
		{CoreBlock, CoreActions(cfg.Now)},
	}
	for _, b := range blocks {
		if _, err := reg.RegisterBlock(b.name, b.acts); err != nil {
			return err
		}
	}
	return nil
}
