package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"psmdb/internal/store"
)

var metaCmd = &cobra.Command{
	Use:   "meta <key> [value]",
	Short: "Get or set a metadata key",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		if len(args) == 2 {
			return st.SetMeta(ctx, args[0], args[1])
		}
		value, err := st.GetMeta(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var synclogLimit int

var synclogCmd = &cobra.Command{
	Use:   "synclog",
	Short: "Show recent sync log entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ListSyncLog(context.Background(), synclogLimit)
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage application history records",
}

var (
	historyPage     int
	historyPageSize int
)

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List history entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		entries, total, err := st.ListHistory(context.Background(), historyPage, historyPageSize)
		if err != nil {
			return err
		}
		return printJSON(struct {
			Total   int                  `json:"total"`
			Entries []store.HistoryEntry `json:"entries"`
		}{total, entries})
	},
}

var historyAddCmd = &cobra.Command{
	Use:   "add <header> [item...]",
	Short: "Append a history entry; header and items are JSON payloads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := st.AppendHistoryEntry(context.Background(), args[0], args[1:])
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one history entry with its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		entry, items, err := st.GetHistoryEntry(context.Background(), id)
		if err != nil {
			return err
		}
		return printJSON(struct {
			Entry store.HistoryEntry `json:"entry"`
			Items []store.HistoryItem `json:"items"`
		}{entry, items})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a history entry and its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.DeleteHistoryEntry(context.Background(), id)
	},
}

var mediumCmd = &cobra.Command{
	Use:   "medium",
	Short: "Manage user-defined mediums",
}

var mediumListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mediums",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		mediums, err := st.ListMediums(context.Background())
		if err != nil {
			return err
		}
		return printJSON(mediums)
	},
}

var mediumData string

var mediumSetCmd = &cobra.Command{
	Use:   "set <id> <name>",
	Short: "Create or update a medium",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.UpsertMedium(context.Background(), store.Medium{
			ID:   args[0],
			Name: args[1],
			Data: mediumData,
		})
	},
}

var mediumDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a medium",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.DeleteMedium(context.Background(), args[0])
	},
}

func init() {
	synclogCmd.Flags().IntVar(&synclogLimit, "limit", 50, "maximum entries")

	historyListCmd.Flags().IntVar(&historyPage, "page", 1, "1-based page number")
	historyListCmd.Flags().IntVar(&historyPageSize, "page-size", 20, "entries per page")
	historyCmd.AddCommand(historyListCmd, historyAddCmd, historyShowCmd, historyDeleteCmd)

	mediumSetCmd.Flags().StringVar(&mediumData, "data", "", "JSON payload stored with the medium")
	mediumCmd.AddCommand(mediumListCmd, mediumSetCmd, mediumDeleteCmd)

	rootCmd.AddCommand(metaCmd, synclogCmd, historyCmd, mediumCmd)
}
