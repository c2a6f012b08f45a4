package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"psmdb/internal/bvl"
	"psmdb/internal/bvlapi"
	"psmdb/internal/store"
	"psmdb/internal/syncer"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database file and apply all schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		diag, err := st.Diagnose(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("schema version %d, %d tables\n", diag.SchemaVersion, len(diag.Tables))
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the remote dataset and import it when it changed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := bvlapi.New(cfg.API.BaseURL,
			time.Duration(cfg.API.TimeoutSeconds)*time.Second,
			cfg.API.RequestsPerSecond, nil)
		if err != nil {
			return err
		}
		drv := syncer.New(st, client, nil, func(p syncer.Progress) {
			fmt.Printf("fetching %s (%d/%d)\n", p.Endpoint, p.Index+1, p.Total)
		})
		res, err := drv.Run(context.Background())
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <dataset.json>",
	Short: "Import a dataset JSON file (map of collection name to record array)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var collections map[string][]map[string]any
		if err := json.Unmarshal(data, &collections); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := bvl.ImportDataset(context.Background(),
			st, bvl.DatasetFromCollections(collections))
		if err != nil {
			return err
		}
		return printJSON(counts)
	},
}

var importManifest []string

var importSqliteCmd = &cobra.Command{
	Use:   "import-sqlite <file.db>",
	Short: "Merge regulatory tables from another instance's database file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		manifest := map[string]string{}
		for _, kv := range importManifest {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("manifest entry %q: expected key=value", kv)
			}
			manifest[k] = v
		}

		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := bvl.ImportForeignInstance(context.Background(), st, data, manifest)
		if err != nil {
			return err
		}
		return printJSON(counts)
	},
}

var exportDBCmd = &cobra.Command{
	Use:   "export-db <out.db>",
	Short: "Write a compacted copy of the database to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		data, err := st.ExportRaw(context.Background())
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %d bytes to %s\n", len(data), args[0])
		return nil
	},
}

var importDBCmd = &cobra.Command{
	Use:   "import-db <in.db>",
	Short: "Replace the local database with a previously exported file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.ImportRaw(context.Background(), data)
	},
}

var exportSnapshotCmd = &cobra.Command{
	Use:   "export-snapshot",
	Short: "Print the user data (meta, mediums, history) as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := st.ExportSnapshot(context.Background())
		if err != nil {
			return err
		}
		return printJSON(snap)
	},
}

var importSnapshotCmd = &cobra.Command{
	Use:   "import-snapshot <snapshot.json>",
	Short: "Replace the user data from a snapshot JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var snap store.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.ImportSnapshot(context.Background(), &snap)
	},
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Report schema version, tables, columns and indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		diag, err := st.Diagnose(context.Background())
		if err != nil {
			return err
		}
		return printJSON(diag)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	importSqliteCmd.Flags().StringArrayVar(&importManifest, "manifest", nil,
		"source description recorded with the import, as key=value (repeatable)")
	rootCmd.AddCommand(initCmd, syncCmd, importCmd, importSqliteCmd,
		exportDBCmd, importDBCmd, exportSnapshotCmd, importSnapshotCmd, diagnoseCmd)
}
