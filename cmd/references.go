package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/faceverify/internal/config"
	"github.com/example/faceverify/internal/reference"
)

var referencesCmd = &cobra.Command{
	Use:   "references",
	Short: "List the enrolled reference images",
	Args:  cobra.NoArgs,
	RunE:  runReferences,
}

func init() {
	rootCmd.AddCommand(referencesCmd)

	referencesCmd.Flags().Bool("json", false, "Output as JSON")
}

func runReferences(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := reference.NewStore(cfg.References.Dir, zap.NewNop())
	if err != nil {
		return err
	}
	refs, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if mustGetBool(cmd, "json") {
		if refs == nil {
			refs = []string{}
		}
		return json.NewEncoder(out).Encode(map[string]interface{}{
			"directory":  store.Dir(),
			"references": refs,
			"count":      len(refs),
		})
	}

	for _, id := range refs {
		fmt.Fprintln(out, id)
	}
	fmt.Fprintf(out, "\n%d references in %s\n", len(refs), store.Dir())
	return nil
}
