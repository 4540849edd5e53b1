package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calmweave/keepsake/internal/config"
)

var ctx = context.Background()

// --- ingest ---

var (
	ingestText  string
	ingestFile  string
	ingestTitle string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Store a conversation transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestText == "" && ingestFile == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{}
		if ingestTitle != "" {
			body["title"] = ingestTitle
		}
		if ingestFile != "" {
			data, err := os.ReadFile(ingestFile)
			if err != nil {
				return fmt.Errorf("reading %s: %w", ingestFile, err)
			}
			body["content_base64"] = base64.StdEncoding.EncodeToString(data)
			body["content_type"] = contentTypeFor(ingestFile)
			if ingestTitle == "" {
				body["title"] = filepath.Base(ingestFile)
			}
		} else {
			body["text"] = ingestText
		}

		resp, err := client.post(ctx, "/v1/conversations", body)
		if err != nil {
			return err
		}
		var result struct {
			ConversationID string   `json:"conversation_id"`
			TextUnitIDs    []string `json:"text_unit_ids"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored conversation %s (%d segments)", result.ConversationID, len(result.TextUnitIDs))
		for _, id := range result.TextUnitIDs {
			fmt.Fprintf(os.Stderr, "  %s\n", colorize(colorCyan, id))
		}
		return nil
	},
}

// contentTypeFor maps a file extension to the server's content_type values.
func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return "html"
	case ".pdf":
		return "pdf"
	default:
		return "text"
	}
}

// --- extract ---

var (
	extractForce bool
	extractModel string
)

var extractCmd = &cobra.Command{
	Use:   "extract <text-unit-id>",
	Short: "Run signal extraction on a text unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"force": extractForce}
		if extractModel != "" {
			body["model"] = extractModel
		}

		resp, err := client.post(ctx, "/v1/text-units/"+args[0]+"/extract", body)
		if err != nil {
			return err
		}
		var result struct {
			RunID               string `json:"ai_run_id"`
			Status              string `json:"status"`
			CandidatesGenerated int    `json:"candidates_generated"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Extraction %s (run %s)", result.Status, result.RunID)
		printStatus("Candidates", "%d awaiting review", result.CandidatesGenerated)
		return nil
	},
}

// --- queue ---

var queueLimit int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List candidates awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(ctx, "/v1/candidates?status=pending&limit="+strconv.Itoa(queueLimit))
		if err != nil {
			return err
		}
		var cands []struct {
			ID         string `json:"id"`
			SignalType string `json:"signal_type"`
			Label      string `json:"label"`
			Excerpt    string `json:"excerpt"`
		}
		if err := decodeJSON(resp, &cands); err != nil {
			return err
		}

		if len(cands) == 0 {
			fmt.Fprintln(os.Stderr, "Review queue is empty.")
			return nil
		}
		for _, c := range cands {
			fmt.Fprintf(os.Stderr, "%s  %-12s %s\n", colorize(colorCyan, shortID(c.ID)), c.SignalType, c.Label)
			fmt.Fprintf(os.Stderr, "          %q\n", truncate(c.Excerpt, 80))
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// --- review ---

var (
	reviewAccept    bool
	reviewReject    bool
	reviewDefer     string
	reviewEditLabel string
	reviewEditDesc  string
	reviewNote      string
	reviewElevated  bool
)

var reviewCmd = &cobra.Command{
	Use:   "review <candidate-id>",
	Short: "Accept, reject, defer or edit a candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		switch {
		case reviewAccept:
			body["action"] = "accept"
			if reviewElevated {
				body["elevated"] = true
			}
		case reviewReject:
			body["action"] = "reject"
		case reviewDefer != "":
			body["action"] = "defer"
			body["deferred_until"] = reviewDefer
		case reviewEditLabel != "" || reviewEditDesc != "":
			body["action"] = "edit"
			edit := map[string]string{}
			if reviewEditLabel != "" {
				edit["label"] = reviewEditLabel
			}
			if reviewEditDesc != "" {
				edit["description"] = reviewEditDesc
			}
			body["edit"] = edit
		default:
			return fmt.Errorf("one of --accept, --reject, --defer-until, or --edit-label/--edit-description is required")
		}
		if reviewNote != "" {
			body["note"] = reviewNote
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(ctx, "/v1/candidates/"+args[0]+"/review", body)
		if err != nil {
			return err
		}
		var result struct {
			Status         string `json:"status"`
			SignalID       string `json:"signal_id"`
			AlreadyExisted bool   `json:"already_existed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		switch result.Status {
		case "accepted":
			if result.AlreadyExisted {
				printSuccess("Already accepted (signal %s)", result.SignalID)
			} else {
				printSuccess("Accepted as signal %s", result.SignalID)
			}
		default:
			printSuccess("Candidate %s", result.Status)
		}
		return nil
	},
}

// --- signals ---

var (
	signalsStatus string
	signalsQuery  string
	signalsLimit  int
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "List accepted signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", strconv.Itoa(signalsLimit))
		if signalsStatus != "" {
			q.Set("status", signalsStatus)
		}
		if signalsQuery != "" {
			q.Set("q", signalsQuery)
		}

		resp, err := client.get(ctx, "/v1/signals?"+q.Encode())
		if err != nil {
			return err
		}
		var sigs []struct {
			ID             string `json:"id"`
			SignalType     string `json:"signal_type"`
			Label          string `json:"label"`
			Status         string `json:"status"`
			ActionRequired bool   `json:"action_required"`
		}
		if err := decodeJSON(resp, &sigs); err != nil {
			return err
		}

		if len(sigs) == 0 {
			fmt.Fprintln(os.Stderr, "No signals yet.")
			return nil
		}
		for _, s := range sigs {
			marker := "  "
			if s.ActionRequired {
				marker = colorize(colorYellow, "! ")
			}
			fmt.Fprintf(os.Stderr, "%s%s  %-12s %-8s %s\n", marker, colorize(colorCyan, shortID(s.ID)), s.SignalType, s.Status, s.Label)
		}
		return nil
	},
}

// --- feeds ---

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Manage calendar feeds",
}

var feedsAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Register an ICS calendar feed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(ctx, "/v1/feeds", map[string]string{
			"name": args[0],
			"url":  args[1],
		})
		if err != nil {
			return err
		}
		var feed struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &feed); err != nil {
			return err
		}
		printSuccess("Added feed %s (%s)", args[0], feed.ID)
		return nil
	},
}

var feedsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered calendar feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(ctx, "/v1/feeds")
		if err != nil {
			return err
		}
		var feeds []struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			URL          string `json:"url"`
			LastSyncedAt string `json:"last_synced_at"`
			LastError    string `json:"last_error"`
		}
		if err := decodeJSON(resp, &feeds); err != nil {
			return err
		}

		if len(feeds) == 0 {
			fmt.Fprintln(os.Stderr, "No feeds registered.")
			return nil
		}
		for _, f := range feeds {
			synced := f.LastSyncedAt
			if synced == "" {
				synced = "never"
			}
			fmt.Fprintf(os.Stderr, "%s  %-20s synced: %s\n", colorize(colorCyan, shortID(f.ID)), f.Name, synced)
			if f.LastError != "" {
				fmt.Fprintf(os.Stderr, "          %s\n", colorize(colorRed, f.LastError))
			}
		}
		return nil
	},
}

var feedsSyncCmd = &cobra.Command{
	Use:   "sync <feed-id>",
	Short: "Queue a sync for one feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(ctx, "/v1/feeds/"+args[0]+"/sync", nil)
		if err != nil {
			return err
		}
		var result struct {
			JobID string `json:"job_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Sync queued (job %s)", result.JobID)
		return nil
	},
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update the owner profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the owner profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(ctx, "/v1/profile")
		if err != nil {
			return err
		}
		var p map[string]any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		out, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, string(out))
		return nil
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set an owner profile field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(ctx, "/v1/profile", map[string]string{args[0]: args[1]})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change local configuration",
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
			fmt.Fprintf(os.Stderr, "%s %s\n", colorize(colorBold, k.Key+":"), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "transcript text to store")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to a text, HTML or PDF file to store")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "conversation title")

	extractCmd.Flags().BoolVar(&extractForce, "force", false, "re-extract even if already processed")
	extractCmd.Flags().StringVar(&extractModel, "model", "", "extraction model (default from config)")

	queueCmd.Flags().IntVar(&queueLimit, "limit", 20, "maximum candidates to list")

	reviewCmd.Flags().BoolVar(&reviewAccept, "accept", false, "accept the candidate as a signal")
	reviewCmd.Flags().BoolVar(&reviewReject, "reject", false, "reject the candidate")
	reviewCmd.Flags().StringVar(&reviewDefer, "defer-until", "", "defer until an RFC 3339 timestamp")
	reviewCmd.Flags().StringVar(&reviewEditLabel, "edit-label", "", "replace the candidate label")
	reviewCmd.Flags().StringVar(&reviewEditDesc, "edit-description", "", "replace the candidate description")
	reviewCmd.Flags().StringVar(&reviewNote, "note", "", "note to record with the action")
	reviewCmd.Flags().BoolVar(&reviewElevated, "elevated", false, "mark the accepted signal as needing action")

	signalsCmd.Flags().StringVar(&signalsStatus, "status", "", "filter by status (open, closed)")
	signalsCmd.Flags().StringVar(&signalsQuery, "query", "", "substring match on label and description")
	signalsCmd.Flags().IntVar(&signalsLimit, "limit", 50, "maximum signals to list")

	feedsCmd.AddCommand(feedsAddCmd, feedsListCmd, feedsSyncCmd)
	profileCmd.AddCommand(profileShowCmd, profileSetCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
