package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/civicdesk/internal/config"
	"github.com/kalambet/civicdesk/internal/dispatch"
	"github.com/kalambet/civicdesk/internal/orgconfig"
	"github.com/kalambet/civicdesk/internal/retrieval"
	"github.com/kalambet/civicdesk/internal/storage"
)

// --- process / respond ---

var processCmd = &cobra.Command{
	Use:   "process <request-id>",
	Short: "Classify and route a stored request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequestStep(cmd, args[0], "process")
	},
}

var respondCmd = &cobra.Command{
	Use:   "respond <request-id>",
	Short: "Draft a reply to a stored request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRequestStep(cmd, args[0], "response")
	},
}

func init() {
	processCmd.Flags().Bool("json", false, "print the full request as JSON")
	respondCmd.Flags().Bool("json", false, "print the full request as JSON")
}

func runRequestStep(cmd *cobra.Command, rawID, step string) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid request id %q", rawID)
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(cmd.Context(), fmt.Sprintf("/requests/%d/%s", id, step), nil)
	if err != nil {
		return err
	}
	var req storage.Request
	if err := decodeJSON(resp, &req); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(out, req)
	}
	if step == "response" {
		if req.ResponseText == "" {
			printWarning("No reply drafted for request %d; see the activity log", id)
			return nil
		}
		fmt.Fprintln(out, req.ResponseText)
		return nil
	}
	if !req.AIProcessed {
		printWarning("Request %d was not processed; see the activity log", id)
	}
	formatRequest(out, req)
	return nil
}

func formatRequest(w io.Writer, r storage.Request) {
	printStatus(w, "Request", "%d (%s)", r.ID, r.Status)
	printStatus(w, "Subject", "%s", r.Subject)
	if r.AIClassification != "" {
		printStatus(w, "Category", "%s (%.2f)", r.AIClassification, r.AIConfidence)
	}
	if r.Priority != "" {
		printStatus(w, "Priority", "%s", r.Priority)
	}
	if r.DepartmentID != 0 {
		printStatus(w, "Department", "%d", r.DepartmentID)
	}
	if r.AssignedTo != "" {
		printStatus(w, "Assigned to", "%s", r.AssignedTo)
	}
	if r.Summary != "" {
		printStatus(w, "Summary", "%s", r.Summary)
	}
	if r.LedgerRef != "" {
		printStatus(w, "Ledger", "%s", r.LedgerRef)
	}
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		minScore, _ := cmd.Flags().GetFloat64("min-score")

		q := url.Values{}
		q.Set("q", strings.Join(args, " "))
		q.Set("limit", strconv.Itoa(limit))
		if minScore > 0 {
			q.Set("min_score", strconv.FormatFloat(minScore, 'f', -1, 64))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/knowledge/search?"+q.Encode())
		if err != nil {
			return err
		}
		var passages []retrieval.Passage
		if err := decodeJSON(resp, &passages); err != nil {
			return err
		}

		formatPassages(cmd.OutOrStdout(), passages)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum number of passages")
	searchCmd.Flags().Float64("min-score", 0, "minimum relevance score (default from server config)")
}

func formatPassages(w io.Writer, passages []retrieval.Passage) {
	if len(passages) == 0 {
		fmt.Fprintln(w, "No matching passages.")
		return
	}
	for _, p := range passages {
		text := p.Text
		if runes := []rune(text); len(runes) > 160 {
			text = string(runes[:160]) + "..."
		}
		fmt.Fprintf(w, "%s  %s\n    %s\n", colorize(colorCyan, fmt.Sprintf("%.2f", p.Score)), p.Source, text)
	}
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load departments, agents, rules and knowledge from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		stats, err := seedStore(cmd.Context(), store, args[0], cfg.Dispatch.MaxAttempts)
		if err != nil {
			return err
		}
		printSuccess("Seeded %s", stats)
		if n := len(stats.NewDocIDs) + len(stats.ChangedDocIDs); n > 0 {
			printStatus(cmd.ErrOrStderr(), "Queued", "%d knowledge docs for indexing", n)
		}
		return nil
	},
}

// seedStore seeds store from path and queues new and changed knowledge docs
// for indexing by the server's worker.
func seedStore(ctx context.Context, store *storage.Store, path string, maxAttempts int) (orgconfig.SeedStats, error) {
	stats, err := orgconfig.SeedFromFile(ctx, store, path)
	if err != nil {
		return stats, err
	}
	q := dispatch.NewQueue(store, maxAttempts)
	for _, id := range stats.NewDocIDs {
		if _, err := q.IndexKnowledge(ctx, id); err != nil {
			return stats, fmt.Errorf("queueing doc %s: %w", id, err)
		}
	}
	for _, id := range stats.ChangedDocIDs {
		if _, err := q.ReindexKnowledge(ctx, id); err != nil {
			return stats, fmt.Errorf("queueing reindex of doc %s: %w", id, err)
		}
	}
	return stats, nil
}

// --- status ---

type healthResponse struct {
	Status           string `json:"status"`
	KnowledgeVectors *int   `json:"knowledge_vectors"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and configuration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		printServerStatus(ctx, out, client, cfg.Server.Port)

		printStatus(out, "Retrieval", "%s (min score %.2f)", cfg.Retrieval.Backend, cfg.Retrieval.MinScore)
		printStatus(out, "Workers", "%d", cfg.Dispatch.Concurrency)
		printStatus(out, "Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

func printServerStatus(ctx context.Context, out io.Writer, client *apiClient, port int) {
	var health healthResponse
	resp, err := client.get(ctx, "/health")
	switch {
	case err != nil:
		printStatus(out, "Server", "stopped")
	case decodeJSON(resp, &health) != nil:
		printStatus(out, "Server", "unhealthy")
	default:
		printStatus(out, "Server", "running on port %d", port)
		if health.KnowledgeVectors != nil {
			printStatus(out, "Vectors", "%d", *health.KnowledgeVectors)
		}
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
