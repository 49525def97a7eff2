package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iapropria/iapropria/internal/vectorstore"
)

func newQueryCmd() *cobra.Command {
	var (
		tenant  string
		limit   int
		filters []string
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search a tenant's documents",
		Long: `Search a tenant's documents by semantic similarity.

Examples:
  iapropria query --tenant acme "invoices from march"
  iapropria query --tenant acme --filter category=invoice,receipt --limit 5 "march"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(filters)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if filter == nil {
				if saved, ok, err := a.settings.UserFilters(tenant); err == nil && ok {
					filter = saved
				}
			}
			results, err := a.vectors.Query(cmd.Context(), vectorstore.SearchRequest{
				TenantID: tenant,
				Query:    strings.Join(args, " "),
				Filter:   filter,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant id (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (default from config)")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "metadata filter key=v1,v2 (repeatable)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newUpsertCmd() *cobra.Command {
	var (
		tenant   string
		id       string
		file     string
		metadata []string
	)
	cmd := &cobra.Command{
		Use:   "upsert [text]",
		Short: "Store a document for a tenant",
		Long: `Store a document for a tenant. The text comes from the arguments, from
--file, or from stdin when neither is given.

Examples:
  iapropria upsert --tenant acme --id doc1 --meta category=invoice "March invoice"
  cat notes.txt | iapropria upsert --tenant acme`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			meta, err := parseMetadata(metadata)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.vectors.Upsert(cmd.Context(), vectorstore.UpsertRequest{
				TenantID: tenant,
				ID:       id,
				Text:     text,
				Metadata: meta,
			})
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upserted %s (%d)\n", res.ID, res.UpsertedCount)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant id (required)")
	cmd.Flags().StringVar(&id, "id", "", "document id (generated when empty)")
	cmd.Flags().StringVar(&file, "file", "", "read the text from a file")
	cmd.Flags().StringArrayVarP(&metadata, "meta", "m", nil, "metadata key=value (repeatable)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a tenant's document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.vectors.Delete(cmd.Context(), tenant, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show vector store configuration and transport health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.vectors.Status(cmd.Context())
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

// parseFilter turns key=v1,v2 flags into a filter. No flags yields nil so
// the saved filter can apply.
func parseFilter(flags []string) (vectorstore.Filter, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	f := vectorstore.Filter{}
	for _, kv := range flags {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid filter %q, want key=value[,value...]", kv)
		}
		f[k] = append(f[k], strings.Split(v, ",")...)
	}
	return f, f.Validate()
}

func parseMetadata(flags []string) (map[string]any, error) {
	meta := make(map[string]any, len(flags))
	for _, kv := range flags {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", kv)
		}
		meta[k] = v
	}
	return meta, nil
}

func readText(stdin io.Reader, args []string, file string) (string, error) {
	switch {
	case len(args) > 0:
		return strings.Join(args, " "), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", file, err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	return string(data), nil
}

func printResults(w io.Writer, results []vectorstore.SearchResult) error {
	if outputJSON {
		return writeJSON(w, map[string]any{"results": results})
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "no results")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tID\tTEXT")
	for _, r := range results {
		fmt.Fprintf(tw, "%.4f\t%s\t%s\n", r.Score, r.ID, truncate(r.Text, 60))
	}
	return tw.Flush()
}

func printStatus(w io.Writer, st vectorstore.Status) {
	fmt.Fprintf(w, "configured:     %v\n", st.Configured)
	if st.Error != "" {
		fmt.Fprintf(w, "error:          %s\n", st.Error)
	}
	if st.Index != "" {
		fmt.Fprintf(w, "index:          %s\n", st.Index)
	}
	fmt.Fprintf(w, "dimension:      %d\n", st.Dimension)
	fmt.Fprintf(w, "namespace mode: %s\n", st.NamespaceMode)
	for _, t := range st.Transports {
		state := "healthy"
		if !t.Healthy {
			state = "unhealthy: " + t.Error
		}
		fmt.Fprintf(w, "%-9s %-8s %s\n", t.Role, t.Transport, state)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
