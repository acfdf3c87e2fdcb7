package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeatlas/codeatlas/internal/config"
	"github.com/codeatlas/codeatlas/internal/cypher"
	"github.com/codeatlas/codeatlas/internal/incremental"
	"github.com/codeatlas/codeatlas/internal/store"
	"github.com/codeatlas/codeatlas/internal/watch"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "codeatlas",
		Short:         "Extract and query a code property graph",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newInitCmd(), newUpdateCmd(), newQueryCmd(), newStatusCmd(), newResetCmd())
	return root
}

// projectRoot resolves the working directory every command operates from.
func projectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Abs(wd)
}

func loadConfig() (*config.Config, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	return config.Load(root)
}

// signalContext cancels on SIGINT/SIGTERM; workers notice between files.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the store and write the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			cfg := config.Default(root)
			if err := cfg.Save(root); err != nil {
				return err
			}
			s, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Printf("initialized store at %s\n", cfg.Store.Path)
			fmt.Printf("wrote %s\n", filepath.Join(root, config.DefaultFileName))
			return nil
		},
	}
}

func newUpdateCmd() *cobra.Command {
	var full bool
	var path string
	var watchMode bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Reconcile the graph with the filesystem",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			target := cfg.ProjectRoot
			if path != "" {
				target, err = filepath.Abs(path)
				if err != nil {
					return err
				}
			}

			s, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer s.Close()
			s.SetBatchRows(cfg.Store.BatchSize)

			engine := incremental.New(cfg, s)
			ctx, cancel := signalContext()
			defer cancel()

			runOnce := func(ctx context.Context, full bool) error {
				summary, err := engine.Update(ctx, target, full)
				if err != nil {
					return err
				}
				printSummary(cmd, summary)
				return nil
			}

			if err := runOnce(ctx, full); err != nil {
				return err
			}
			if !watchMode {
				return nil
			}

			w, err := watch.New(target, func(ctx context.Context) error {
				return runOnce(ctx, false)
			})
			if err != nil {
				return err
			}
			defer w.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s for changes (ctrl-c to stop)\n", target)
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "drop the store and rebuild from scratch")
	cmd.Flags().StringVar(&path, "path", "", "subtree to update (default: project root)")
	cmd.Flags().BoolVar(&watchMode, "watch", false, "stay running and update on file changes")
	return cmd
}

func printSummary(cmd *cobra.Command, s *incremental.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "added %d, modified %d, deleted %d, unchanged %d\n",
		s.Added, s.Modified, s.Deleted, s.Unchanged)
	if s.EntityCount > 0 || s.EdgeCount > 0 {
		fmt.Fprintf(out, "wrote %d entities, %d edges in %s\n", s.EntityCount, s.EdgeCount, s.Duration.Round(time.Millisecond))
	}
	// Parse errors are reported but do not fail the run.
	for _, e := range s.ParseErrors {
		fmt.Fprintf(out, "  parse error: %s:%d %s\n", e.FilePath, e.Line, e.Message)
	}
	if s.Report != nil {
		for _, k := range s.Report.MissingKinds {
			fmt.Fprintf(out, "  schema: kind %s not declared\n", k)
		}
		for _, f := range s.Report.Failures {
			fmt.Fprintf(out, "  row rejected (%s): %s\n", f.Kind, f.Err)
		}
	}
}

func newQueryCmd() *cobra.Command {
	var format string
	var limit int

	cmd := &cobra.Command{
		Use:   "query QUERY",
		Short: "Run a one-shot read-only Cypher query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			query := args[0]
			if limit > 0 && !strings.Contains(strings.ToUpper(query), "LIMIT") {
				query = fmt.Sprintf("%s LIMIT %d", query, limit)
			}

			exec := &cypher.Executor{
				Store:   s,
				Timeout: time.Duration(cfg.Store.QueryTimeout) * time.Second,
			}
			result, err := exec.Query(cmd.Context(), query, nil)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), result, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table|json|csv")
	cmd.Flags().IntVar(&limit, "limit", 0, "append a LIMIT when the query has none")
	return cmd
}

func writeResult(out io.Writer, result *cypher.Result, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "csv":
		w := csv.NewWriter(out)
		if err := w.Write(result.Columns); err != nil {
			return err
		}
		for _, row := range result.Rows {
			record := make([]string, len(result.Columns))
			for i, col := range result.Columns {
				record[i] = cellString(row[col])
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	case "table":
		return writeTable(out, result)
	default:
		return fmt.Errorf("unknown format %q (table|json|csv)", format)
	}
}

func writeTable(out io.Writer, result *cypher.Result) error {
	widths := make([]int, len(result.Columns))
	for i, c := range result.Columns {
		widths[i] = len(c)
	}
	cells := make([][]string, len(result.Rows))
	for r, row := range result.Rows {
		cells[r] = make([]string, len(result.Columns))
		for i, col := range result.Columns {
			v := cellString(row[col])
			cells[r][i] = v
			if len(v) > widths[i] {
				widths[i] = len(v)
			}
		}
	}

	var sb strings.Builder
	for i, c := range result.Columns {
		fmt.Fprintf(&sb, "%-*s  ", widths[i], c)
	}
	sb.WriteByte('\n')
	for i := range result.Columns {
		sb.WriteString(strings.Repeat("-", widths[i]))
		sb.WriteString("  ")
	}
	sb.WriteByte('\n')
	for _, row := range cells {
		for i, v := range row {
			fmt.Fprintf(&sb, "%-*s  ", widths[i], v)
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "(%d rows)\n", len(result.Rows))
	_, err := out.Write([]byte(sb.String()))
	return err
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-kind counts and store health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("store unhealthy: %w", err)
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			nodeCounts, err := s.CountNodesByKind()
			if err != nil {
				return err
			}
			edgeCounts, err := s.CountEdgesByKind()
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "store: %s\n", s.Path())
			fmt.Fprintln(out, "entities:")
			printCounts(out, nodeCounts)
			fmt.Fprintln(out, "relationships:")
			printCounts(out, edgeCounts)

			journal, err := incremental.LoadJournal(cfg.JournalPath())
			if err == nil {
				fmt.Fprintf(out, "tracked files: %d\n", len(journal.Hashes))
			}
			fmt.Fprintln(out, "health: ok")
			return nil
		},
	}
}

func printCounts(out io.Writer, counts map[string]int) {
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(out, "  %-36s %d\n", k, counts[k])
	}
}

func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the store directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir := filepath.Dir(cfg.Store.Path)
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "this deletes %s; re-run with --yes to confirm\n", dir)
				return nil
			}
			if err := os.RemoveAll(dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation")
	return cmd
}
