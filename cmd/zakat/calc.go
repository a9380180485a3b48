package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sadaka-platform/zakat"
	"github.com/sadaka-platform/zakat/internal/form"
)

var (
	calcFields     = make(map[string]*string, len(form.Fields))
	calcNisab      string
	calcRate       string
	calcFetchNisab bool
	calcJSON       bool
)

var calcCmd = &cobra.Command{
	Use:   "calc",
	Short: "Compute a zakat breakdown from flags",
	Long: `Computes total assets, liabilities, the zakatable amount and the zakat
due. Amounts accept spaces or underscores as digit grouping and a comma as
the decimal separator.

Example:
  zakat calc --bank-accounts 2000000 --debts 150000`,
	Args: cobra.NoArgs,
	RunE: runCalc,
}

func init() {
	for _, name := range form.Fields {
		calcFields[name] = calcCmd.Flags().String(flagName(name), "", "amount for "+name)
	}
	calcCmd.Flags().StringVar(&calcNisab, "nisab", "", "nisab threshold (default from config)")
	calcCmd.Flags().StringVar(&calcRate, "rate", "", "zakat rate (default from config)")
	calcCmd.Flags().BoolVar(&calcFetchNisab, "fetch-nisab", false, "fetch the nisab from the configured backend")
	calcCmd.Flags().BoolVar(&calcJSON, "json", false, "print the result as JSON")
}

func runCalc(cmd *cobra.Command, args []string) error {
	raw := make(map[string]string)
	for name, v := range calcFields {
		if cmd.Flags().Changed(flagName(name)) {
			raw[name] = *v
		}
	}

	in, err := form.Parse(raw)
	if err != nil {
		return err
	}

	zc, err := calcConfig(cmd.Context())
	if err != nil {
		return err
	}

	result := zc.Compute(in)
	if calcJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printResult(cmd.OutOrStdout(), result, zc.Currency)
}

func calcConfig(ctx context.Context) (zakat.Config, error) {
	zc, err := cfg.ZakatConfig()
	if err != nil {
		return zakat.Config{}, err
	}

	if calcFetchNisab {
		provider, _, _, err := buildNisabProvider(false)
		if err != nil {
			return zakat.Config{}, err
		}
		info, err := provider.Current(ctx)
		if err != nil {
			return zakat.Config{}, err
		}
		zc = info.Config()
	}

	if calcNisab != "" {
		amount, err := form.ParseAmount(calcNisab)
		if err != nil {
			return zakat.Config{}, fmt.Errorf("--nisab: %w", err)
		}
		zc = zc.WithNisab(amount)
	}
	if calcRate != "" {
		rate, err := form.ParseAmount(calcRate)
		if err != nil {
			return zakat.Config{}, fmt.Errorf("--rate: %w", err)
		}
		zc = zc.WithRate(rate)
	}
	if err := zc.Validate(); err != nil {
		return zakat.Config{}, err
	}
	return zc, nil
}

func printResult(w io.Writer, r zakat.Result, currency string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	rows := []struct {
		label string
		value string
	}{
		{"Total assets", r.TotalAssets.StringFixed(2)},
		{"Total liabilities", r.TotalLiabilities.StringFixed(2)},
		{"Zakatable amount", r.ZakatableAmount.StringFixed(2)},
		{"Nisab", r.NisabAmount.StringFixed(2)},
		{"Zakat due", r.ZakatAmountString()},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", row.label, row.value, currency)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.ExceedsNisab {
		_, err := fmt.Fprintf(w, "\nThe zakatable amount exceeds the nisab; zakat is due at %s%%.\n", r.Rate.Shift(2).String())
		return err
	}
	_, err := fmt.Fprintln(w, "\nThe zakatable amount does not exceed the nisab; no zakat is due.")
	return err
}

// flagName turns cash_at_home into cash-at-home.
func flagName(field string) string {
	return strings.ReplaceAll(field, "_", "-")
}
