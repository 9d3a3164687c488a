// Command urddb is the UrdDB command-line interface: run queries against a
// database's segments, publish snapshots, and manage branches.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/orneryd/urddb/pkg/config"
	"github.com/orneryd/urddb/pkg/urddb"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var dataDir string

	root := &cobra.Command{
		Use:   "urddb",
		Short: "UrdDB: an embeddable branch-versioned graph database",
	}
	root.PersistentFlags().StringVar(&dataDir, "data", "", "data directory (default $URDDB_DATA_DIR or ./data)")

	openEngine := func() (*urddb.Engine, error) {
		cfg := config.LoadFromEnv()
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		walBytes, err := cfg.WalSegmentBytes()
		if err != nil {
			return nil, err
		}
		return urddb.Open(cfg.DataDir, &urddb.Options{
			Logger:          cfg.Logger(),
			ProcessLock:     cfg.ProcessLock,
			WalSegmentBytes: walBytes,
		})
	}

	queryCmd := &cobra.Command{
		Use:   "query <db> <query>",
		Short: "Load a database's segments and run a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			db, err := engine.OpenDatabase(args[0])
			if err != nil {
				return err
			}
			store, err := engine.LoadBranch(db)
			if err != nil {
				return err
			}
			res, err := engine.ExecuteOnStore(store, args[1], nil)
			if err != nil {
				return err
			}

			names := make([]string, len(res.Columns))
			for i, c := range res.Columns {
				names[i] = c.Name
			}
			out := map[string]any{"columns": names, "rows": res.Rows}
			if res.Stats != nil {
				out["stats"] = res.Stats
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	snapshotCmd := &cobra.Command{
		Use:   "snapshot <db> <branch>",
		Short: "Publish a snapshot on a branch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			db, err := engine.OpenDatabase(args[0])
			if err != nil {
				return err
			}
			branch, err := engine.OpenBranch(db, args[1])
			if err != nil {
				return err
			}
			ts, err := engine.Snapshot(branch)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ts)
			return nil
		},
	}

	snapshotsCmd := &cobra.Command{
		Use:   "snapshots <db> <branch>",
		Short: "List a branch's snapshot timestamps",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			db, err := engine.OpenDatabase(args[0])
			if err != nil {
				return err
			}
			branch, err := engine.OpenBranch(db, args[1])
			if err != nil {
				return err
			}
			tss, err := engine.ListSnapshotTimestamps(db, branch)
			if err != nil {
				return err
			}
			for _, ts := range tss {
				fmt.Fprintln(cmd.OutOrStdout(), ts)
			}
			return nil
		},
	}

	branchCmd := &cobra.Command{
		Use:   "branch",
		Short: "Branch administration",
	}

	branchListCmd := &cobra.Command{
		Use:   "list <db>",
		Short: "List branches of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			db, err := engine.OpenDatabase(args[0])
			if err != nil {
				return err
			}
			branches, err := engine.ListBranches(db)
			if err != nil {
				return err
			}
			for _, br := range branches {
				fmt.Fprintln(cmd.OutOrStdout(), br)
			}
			return nil
		},
	}

	var atFlag string
	branchCreateCmd := &cobra.Command{
		Use:   "create <db> <from> <new>",
		Short: "Fork a branch, optionally at a PITR timestamp",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			db, err := engine.OpenDatabase(args[0])
			if err != nil {
				return err
			}
			var at *uint64
			if atFlag != "" {
				ts, err := strconv.ParseUint(atFlag, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid --at timestamp %q: %w", atFlag, err)
				}
				at = &ts
			}
			return engine.CreateBranch(db, args[1], args[2], at)
		},
	}
	branchCreateCmd.Flags().StringVar(&atFlag, "at", "", "fork at this epoch-millisecond snapshot timestamp")

	branchCmd.AddCommand(branchListCmd, branchCreateCmd)
	root.AddCommand(queryCmd, snapshotCmd, snapshotsCmd, branchCmd)
	return root
}
