// Command basin opens a local encrypted document store and exposes
// CRUD, query, and sync-cycle operations against one demo collection.
// It is a thin operational shell around pkg/engine, not a server: the
// core contracts (storage, sync, crypto, coordinator) live in pkg/.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/basin/pkg/engine"
	"github.com/cuemby/basin/pkg/log"
	"github.com/cuemby/basin/pkg/schema"
	"github.com/cuemby/basin/pkg/storage"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "basin",
	Short: "basin - offline-first, end-to-end-encrypted document store",
	Long: `basin is a client-side, offline-first, end-to-end-encrypted
synchronizing document store: a full local replica with plaintext
local storage, encrypted only at the sync boundary.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("basin version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./basin-data.db", "bbolt file backing the local replica")
	rootCmd.PersistentFlags().String("space", "default", "space id folded into envelope AAD")
	rootCmd.PersistentFlags().String("passphrase", "basin-dev-passphrase", "passphrase hashed into this replica's root key (dev convenience; a real deployment supplies RootKey from an external key store)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(putCmd, getCmd, deleteCmd, listCmd, queryCmd, syncCmd, statusCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// notesBlueprint is the single demo collection every subcommand opens:
// free-form notes with a unique title index, matching the seed CRUD
// scenario in spec §8.
func notesBlueprint() schema.Blueprint {
	bp, err := schema.NewCollection("notes").
		Version(1, schema.Object(map[string]*schema.Node{
			"title": schema.String(),
			"body":  schema.Optional(schema.Text()),
		})).
		Index("title", schema.Unique()).
		Build()
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("invalid built-in notes blueprint")
	}
	return bp
}

// openDatabase assembles a standalone Database from the root's
// persistent flags. No Transport is wired (the CLI has no transport
// flag), so every invocation runs purely local, consistent with the spec's
// "can still be used purely locally" note on engine.Config.Transport.
func openDatabase(cmd *cobra.Command) (*engine.Database, *engine.Collection, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	space, _ := cmd.Flags().GetString("space")
	passphrase, _ := cmd.Flags().GetString("passphrase")

	rootKey := sha256.Sum256([]byte(space + "\x00" + passphrase))

	db, err := engine.Open(engine.Config{
		Path:    dataDir,
		SpaceID: space,
		RootKey: rootKey[:],
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	col, err := db.RegisterCollection(notesBlueprint())
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("register notes collection: %w", err)
	}
	return db, col, nil
}

var putCmd = &cobra.Command{
	Use:   "put TITLE BODY",
	Short: "Create or replace a note by title",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, col, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		opts := storage.PutOptions{}
		existing, err := col.Query(storage.Query{Filter: storage.Filter{"title": args[0]}, Limit: 1})
		if err != nil {
			return fmt.Errorf("put: %w", err)
		}
		if len(existing.Records) > 0 {
			opts.ID = existing.Records[0].ID
		}
		rec, err := col.Put(map[string]any{"title": args[0], "body": args[1]}, opts)
		if err != nil {
			return fmt.Errorf("put: %w", err)
		}
		fmt.Printf("✓ note stored\n  id: %s\n  updated_at: %s\n", rec.ID, rec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Fetch a note by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, col, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		rec, err := col.Get(args[0], storage.GetOptions{})
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		if rec == nil {
			fmt.Println("not found")
			return nil
		}
		return printJSON(rec.Data)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Tombstone a note by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, col, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		ok, err := col.Delete(args[0], storage.DeleteOptions{})
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if ok {
			fmt.Println("✓ deleted")
		} else {
			fmt.Println("not found")
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every note in insertion order",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, col, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := col.GetAll(storage.GetAllOptions{})
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		for _, rec := range records {
			fmt.Printf("%s  dirty=%v  %v\n", rec.ID, rec.Dirty, rec.Data)
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query TITLE-PREFIX",
	Short: "Query notes whose title starts with the given prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, col, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := col.Query(storage.Query{
			Filter: storage.Filter{"title": map[string]any{"startsWith": args[0]}},
		})
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		fmt.Printf("%d of %d matched\n", len(result.Records), result.Total)
		for _, rec := range result.Records {
			fmt.Printf("%s  %v\n", rec.ID, rec.Data)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one pull-then-push sync cycle across every collection",
	Long: `Without a configured transport this is a local no-op: the sync
engine returns without pulling or pushing anything rather than failing,
since engine.Config.Transport is optional for purely local use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Sync(context.Background()); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		fmt.Println("✓ sync cycle complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replica identity and collection names",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Printf("replica id: %s\n", db.ReplicaID())
		fmt.Printf("leader:     %v\n", db.IsLeader())
		fmt.Println("collections:")
		for _, name := range db.CollectionNames() {
			fmt.Printf("  - %s\n", name)
		}
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
