package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calder-labs/engram/internal/config"
	"github.com/calder-labs/engram/internal/engine"
)

var (
	designPath string
	dataDir    string
)

// openEngine loads the design file and opens its engine. The database lives
// next to the design file unless --data-dir says otherwise.
func openEngine() (*engine.Engine, error) {
	design, err := config.LoadDesign(designPath)
	if err != nil {
		return nil, err
	}

	base := dataDir
	if base == "" {
		base = filepath.Dir(designPath)
	}
	return engine.New(design, engine.Options{BasePath: base})
}

// --- init ---

var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Create a design file with default tuning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(designPath); err == nil {
			return fmt.Errorf("%s already exists", designPath)
		}
		design := config.NewDesign(args[0])
		if err := config.SaveDesign(designPath, design); err != nil {
			return err
		}
		printSuccess("Created design %q at %s", args[0], designPath)
		printStatus("Design ID", "%s", design.ID)
		return nil
	},
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Answer a query using stored knowledge and interaction history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		res, err := eng.ProcessQuery(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if res.Degraded {
			printWarning("answer degraded: provider unavailable or retrieval fell back")
		}
		fmt.Fprintln(os.Stdout, res.Response)
		return nil
	},
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a knowledge source into the engine",
	Long: `Ingest a knowledge source into the engine.

Re-ingesting a source id replaces its previous units.

Examples:
  engram ingest --id prefs --name "Preferences" --text "I prefer Go for backend services"
  engram ingest --id notes --name "Notes" --file ./notes.md
  engram ingest --id docs --name "Docs" --dir ./docs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		dir, _ := cmd.Flags().GetString("dir")

		src := config.KnowledgeSource{ID: id, Name: name}
		switch {
		case text != "":
			src.Type = config.SourceText
			src.Text = text
		case file != "":
			src.Type = config.SourceFile
			src.Path = file
		case dir != "":
			src.Type = config.SourceDirectory
			src.Path = dir
		default:
			return fmt.Errorf("one of --text, --file, or --dir is required")
		}
		if src.ID == "" {
			return fmt.Errorf("--id is required")
		}
		if src.Name == "" {
			src.Name = src.ID
		}

		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		res, err := eng.Ingest(cmd.Context(), src)
		if err != nil {
			return err
		}
		printSuccess("Ingested %d units from %s", res.Units, src.Name)
		if res.EmbedFailures > 0 {
			printWarning("%d units stored without embeddings (keyword search only)", res.EmbedFailures)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("id", "", "stable source id (required)")
	ingestCmd.Flags().String("name", "", "human-readable source name")
	ingestCmd.Flags().String("text", "", "inline text to ingest")
	ingestCmd.Flags().String("file", "", "file to ingest (.txt, .md, .pdf)")
	ingestCmd.Flags().String("dir", "", "directory to ingest recursively")
}

// --- records ---

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and manage stored interaction records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interaction records",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		records, err := eng.RecentRecords(limit)
		if err != nil {
			return err
		}
		for _, rec := range records {
			fmt.Fprintf(os.Stdout, "%s  %s  %s\n",
				rec.ID, rec.Timestamp.Format("2006-01-02 15:04"), truncate(rec.Query, 60))
		}
		if len(records) == 0 {
			printStatus("Records", "none")
		}
		return nil
	},
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		rec, err := eng.GetRecord(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"id":        rec.ID,
			"timestamp": rec.Timestamp,
			"query":     rec.Query,
			"response":  rec.Response,
			"metadata":  rec.Metadata,
		})
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		ok, err := eng.DeleteRecord(args[0])
		if err != nil {
			return err
		}
		if !ok {
			printWarning("no record with id %s", args[0])
			return nil
		}
		printSuccess("Deleted record %s", args[0])
		return nil
	},
}

func init() {
	recordsListCmd.Flags().Int("limit", 20, "maximum records to list")
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsDeleteCmd)
}

// --- prune ---

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove interaction records older than the retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if eng.Design().Memory.RetentionDays == 0 {
			printWarning("retention is disabled for this design; nothing to prune")
			return nil
		}
		removed, err := eng.Prune()
		if err != nil {
			return err
		}
		printSuccess("Pruned %d records", removed)
		return nil
	},
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
