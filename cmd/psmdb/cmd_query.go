package main

import (
	"context"

	"github.com/spf13/cobra"

	"psmdb/internal/bvl"
)

var queryFilters bvl.Filters

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search approved product applications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rows, err := bvl.QueryZulassung(context.Background(), st, queryFilters)
		if err != nil {
			return err
		}
		return printJSON(rows)
	},
}

var (
	mittelSearch string
	mittelLimit  int
)

var mittelCmd = &cobra.Command{
	Use:   "mittel",
	Short: "List products for autocomplete",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		refs, err := bvl.ListMittel(context.Background(), st, mittelSearch, mittelLimit)
		if err != nil {
			return err
		}
		return printJSON(refs)
	},
}

var withCount bool

var culturesCmd = &cobra.Command{
	Use:   "cultures",
	Short: "List crop codes referenced by any application",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		codes, err := bvl.ListCultures(context.Background(), st, withCount)
		if err != nil {
			return err
		}
		return printJSON(codes)
	},
}

var schadorgCmd = &cobra.Command{
	Use:   "schadorg",
	Short: "List pest codes referenced by any application",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		codes, err := bvl.ListSchadorg(context.Background(), st, withCount)
		if err != nil {
			return err
		}
		return printJSON(codes)
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryFilters.Kultur, "kultur", "", "crop code")
	queryCmd.Flags().StringVar(&queryFilters.Schadorg, "schadorg", "", "pest code")
	queryCmd.Flags().StringVar(&queryFilters.Text, "text", "", "free-text search over names, numbers and codes")
	queryCmd.Flags().StringVar(&queryFilters.Mittel, "mittel", "", "registration number")
	queryCmd.Flags().BoolVar(&queryFilters.IncludeExpired, "include-expired", false, "include applications past their approval end")

	mittelCmd.Flags().StringVar(&mittelSearch, "search", "", "contains match over name and registration number")
	mittelCmd.Flags().IntVar(&mittelLimit, "limit", 50, "maximum entries")

	culturesCmd.Flags().BoolVar(&withCount, "count", false, "include per-code application counts")
	schadorgCmd.Flags().BoolVar(&withCount, "count", false, "include per-code application counts")

	rootCmd.AddCommand(queryCmd, mittelCmd, culturesCmd, schadorgCmd)
}
