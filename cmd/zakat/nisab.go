package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/sadaka-platform/zakat/internal/nisab"
)

var nisabStrict bool

var nisabCmd = &cobra.Command{
	Use:   "nisab",
	Short: "Print the current nisab",
	Long: `Fetches the nisab from the configured backend. Without a backend, or
when the backend fails, prints the configured static nisab unless --strict
is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := resolveNisab(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

func init() {
	nisabCmd.Flags().BoolVar(&nisabStrict, "strict", false, "fail instead of falling back when the backend is unavailable")
}

func resolveNisab(ctx context.Context) (nisab.Info, error) {
	if nisabStrict && cfg.Backend.BaseURL == "" {
		return nisab.Info{}, errors.New("--strict requires a backend url")
	}
	provider, _, _, err := buildNisabProvider(nisabStrict)
	if err != nil {
		return nisab.Info{}, err
	}
	return provider.Current(ctx)
}
