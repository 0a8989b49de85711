package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// SchemasCmd implements the 'schemas' command.
type SchemasCmd struct{}

func (s *SchemasCmd) Run(global *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(global.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tMAJOR VERSIONS\tCHANNEL")
	for _, eventType := range registry.Types() {
		channel, err := registry.ChannelFor(eventType)
		if err != nil {
			return err
		}
		versions := registry.Versions(eventType)
		majors := make([]string, len(versions))
		for i, v := range versions {
			majors[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", eventType, strings.Join(majors, ","), channel)
	}
	fmt.Fprintf(w, "(dead letters)\t\t%s\n", registry.DeadLetterChannel())
	return w.Flush()
}
