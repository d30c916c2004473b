package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/entities"
)

func entitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List the entities the agent can control",
		Run: func(cmd *cobra.Command, args []string) {
			runEntities()
		},
	}
	return cmd
}

func runEntities() {
	cfg := config.LoadOrDefault(cfgPath)
	if cfg.EntitiesSeed == "" {
		fmt.Fprintln(os.Stderr, "No entities_seed configured.")
		os.Exit(1)
	}

	store := entities.NewStore()
	if err := store.LoadSeedFile(cfg.EntitiesSeed); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, id := range store.List() {
		e := store.Get(id)
		if e == nil {
			continue
		}
		kind := ""
		if e.Group {
			kind = fmt.Sprintf("  (group of %d)", len(e.Members))
		}
		fmt.Printf("%-30s %-12s %s%s\n", e.ID, e.Domain, e.State, kind)
	}
}
