package commands

import (
	"fmt"
	"time"
)

// ValidateCmd implements the 'validate' command.
type ValidateCmd struct {
	File string `short:"f" required:"" help:"Envelope JSON file" type:"existingfile"`
}

func (v *ValidateCmd) Run(global *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	now := time.Now()
	env, err := readEnvelope(v.File, now)
	if err != nil {
		return err
	}
	validated, err := registry.Validate(env, now)
	if err != nil {
		return err
	}

	fmt.Fprintf(global.Out, "valid %s v%s channel=%s\n", env.Type, env.Version, validated.Channel)
	return nil
}
