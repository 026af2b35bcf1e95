package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/hiercluster/internal/cluster"
	"github.com/TobiSchelling/hiercluster/internal/config"
	"github.com/TobiSchelling/hiercluster/internal/database"
	"github.com/TobiSchelling/hiercluster/internal/pipeline"
	"github.com/TobiSchelling/hiercluster/internal/report"
	"github.com/TobiSchelling/hiercluster/internal/server"
	"github.com/TobiSchelling/hiercluster/internal/table"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = logrus.StandardLogger()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "hiercluster",
	Short:        "Hierarchical clustering of tabular data",
	Long:         "hiercluster groups the rows of a CSV table by agglomerative hierarchical clustering and keeps every run with its dendrogram.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetOutput(os.Stderr)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		switch {
		case err == nil:
			cfg, err = config.Load(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
		case configPath != "":
			return err
		default:
			cfg = config.Default()
		}

		level, err := cfg.LogLevel()
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
			logger.SetReportCaller(true)
		}
		if path != "" {
			logger.Debugf("Using config %s", path)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("hiercluster", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/hiercluster/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to change the default cluster count, linkage and distance.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s (schema v%d)\n\n", db.Path(), db.SchemaVersion())
		fmt.Println("Runs:")
		fmt.Printf("  Stored: %d\n", stats.Runs)
		fmt.Printf("  Rows clustered: %d\n", stats.Rows)
		fmt.Printf("  Fusion steps: %d\n", stats.FusionSteps)
		if stats.LastRun != nil {
			fmt.Printf("  Last run: %s\n", *stats.LastRun)
		}
		fmt.Println("\nDefaults:")
		fmt.Printf("  Clusters: %d\n", cfg.Clustering.NumClusters)
		fmt.Printf("  Linkage: %s\n", cfg.Clustering.Linkage)
		fmt.Printf("  Distance: %s\n", cfg.Clustering.Distance)
		fmt.Printf("  Cache distances: %t\n", cfg.Clustering.CacheDistances)
		return nil
	},
}

// Cluster command flags
var (
	clusterK       int
	clusterLinkage string
	clusterDist    string
	clusterCache   bool
	clusterColumns []string
	clusterOut     string
	clusterDryRun  bool
)

var clusterCmd = &cobra.Command{
	Use:   "cluster <file.csv>",
	Short: "Cluster the rows of a CSV file and store the run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		opts := cfg.ClusterOptions()
		flags := cmd.Flags()
		if flags.Changed("clusters") {
			opts.NumClusters = clusterK
		}
		if flags.Changed("linkage") {
			opts.Linkage = clusterLinkage
		}
		if flags.Changed("distance") {
			opts.Distance = clusterDist
		}
		if flags.Changed("cache") {
			opts.CacheDistances = clusterCache
		}
		if flags.Changed("columns") {
			opts.Columns = clusterColumns
		}
		opts.Progress = func(fraction float64, message string) {
			logger.Debugf("%3.0f%% %s", fraction*100, message)
		}

		req := pipeline.Request{Input: args[0], Options: opts, OutDir: clusterOut}
		p := pipeline.New(db, nil, logger)

		var result *pipeline.Result
		if clusterDryRun {
			result = p.DryRun(req)
		} else {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			result = p.Run(ctx, req)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/5: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if err := result.Err(); err != nil {
			if errors.Is(err, cluster.ErrCanceled) {
				fmt.Println("\nAborted.")
			}
			return err
		}
		if result.Run != nil {
			fmt.Printf("\nRun %s: %s\n", result.Run.RunID, strings.Join(clusterSizes(result.Output), ", "))
		}
		return nil
	},
}

func init() {
	f := clusterCmd.Flags()
	f.IntVarP(&clusterK, "clusters", "k", 3, "Number of clusters in the result table")
	f.StringVarP(&clusterLinkage, "linkage", "l", "SINGLE", "Linkage: SINGLE, AVERAGE or COMPLETE")
	f.StringVarP(&clusterDist, "distance", "d", "EUCLIDEAN", "Distance: EUCLIDEAN or MANHATTAN")
	f.BoolVar(&clusterCache, "cache", false, "Cache row-to-row distances for the whole run")
	f.StringSliceVar(&clusterColumns, "columns", nil, "Numeric columns to use (default: all numeric columns)")
	f.StringVarP(&clusterOut, "out", "o", "", "Directory for clusters.csv, fusion.csv, dendrogram.yaml and report.md")
	f.BoolVar(&clusterDryRun, "dry-run", false, "Validate input and settings without clustering")
}

// clusterSizes lists "label=size" in order of first appearance.
func clusterSizes(res *cluster.Result) []string {
	if res == nil {
		return nil
	}
	idx := res.Table.Spec.IndexOf(cluster.ClusterColumn)
	if idx < 0 {
		return nil
	}
	counts := map[string]int{}
	var order []string
	for _, row := range res.Table.Rows() {
		label := row.Cells[idx].Raw
		if _, seen := counts[label]; !seen {
			order = append(order, label)
		}
		counts[label]++
	}
	out := make([]string, len(order))
	for i, label := range order {
		out[i] = fmt.Sprintf("%s=%d", label, counts[label])
	}
	return out
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for browsing and creating runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.Serve(ctx, db, port, cfg.ClusterOptions(), logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to listen on")
}

// Runs subcommands

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored clustering runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs stored. Use 'hiercluster cluster <file.csv>' to create one.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE\tROWS\tCLUSTERS\tLINKAGE\tDISTANCE\tCREATED")
		for _, r := range runs {
			source, created := "-", "-"
			if r.Source != nil {
				source = *r.Source
			}
			if r.CreatedAt != nil {
				created = *r.CreatedAt
			}
			clusters := fmt.Sprintf("%d", r.ResultClusters)
			if r.Fallback {
				clusters += fmt.Sprintf(" (of %d)", r.NumClusters)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				shortID(r.RunID), source, r.RowCount, clusters, r.Linkage, r.Distance, created)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the report of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stored, err := loadRun(db, args[0])
		if err != nil {
			return err
		}
		fmt.Print(report.Compose(stored))
		return nil
	},
}

var (
	cutK   int
	cutOut string
)

var runsCutCmd = &cobra.Command{
	Use:   "cut <run-id>",
	Short: "Recut a stored dendrogram into k clusters and write the labelled rows as CSV",
	Long: `Recut a stored dendrogram into k clusters and write the labelled rows as CSV.

Merges are replayed in the order the run made them, so cutting at the run's
own cluster count reproduces its stored labels. As with 'cluster', asking for
more clusters than the run has rows falls back to a single cluster.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cutK <= 0 {
			return fmt.Errorf("--clusters must be > 0, got %d", cutK)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stored, err := loadRun(db, args[0])
		if err != nil {
			return err
		}

		out := table.New(stored.Input.Spec.Append(table.ColumnSpec{Name: cluster.ClusterColumn, Type: table.TypeString}))
		labels := cluster.Cut(stored.Dendrogram, stored.Root, cutK)
		for i, row := range stored.Input.Rows() {
			if err := out.AddRow(row.Append(table.StringCell(cluster.Label(labels[i])))); err != nil {
				return err
			}
		}

		if cutOut == "" {
			return table.WriteCSV(os.Stdout, out)
		}
		if err := table.WriteCSVFile(cutOut, out); err != nil {
			return err
		}
		fmt.Printf("Wrote %d rows to %s\n", out.Len(), cutOut)
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runID, err := db.ResolveRunID(args[0])
		if err != nil {
			return err
		}
		deleted, err := db.DeleteRun(runID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("run %s not found", args[0])
		}
		fmt.Printf("Deleted run %s\n", runID)
		return nil
	},
}

func init() {
	runsCutCmd.Flags().IntVarP(&cutK, "clusters", "k", 3, "Number of clusters")
	runsCutCmd.Flags().StringVarP(&cutOut, "out", "o", "", "Output CSV file (default: stdout)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsCutCmd)
	runsCmd.AddCommand(runsDeleteCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func loadRun(db *database.DB, prefix string) (*database.StoredRun, error) {
	runID, err := db.ResolveRunID(prefix)
	if err != nil {
		return nil, err
	}
	return db.LoadRun(runID)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "hiercluster.db")
	return database.Open(dbPath)
}
