package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd(out io.Writer) *cobra.Command {
	var apiURL string
	root := &cobra.Command{
		Use:           "capture-service",
		Short:         "Turns on-screen conversations into searchable memories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&apiURL, "api", "a", "http://127.0.0.1:11546", "Query surface base URL")
	client := func() *apiClient { return newAPIClient(apiURL, out) }

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the capture pipeline and the query surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Run()
		},
	})

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, _ := cmd.Flags().GetString("query")
			limit, _ := cmd.Flags().GetInt("limit")
			return client().search(cmd.Context(), query, limit)
		},
	}
	searchCmd.Flags().StringP("query", "q", "", "Search text (required)")
	searchCmd.Flags().IntP("limit", "k", 10, "Number of results")
	_ = searchCmd.MarkFlagRequired("query")
	root.AddCommand(searchCmd)

	recentCmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return client().get(cmd.Context(), "/api/memories/recent", limit)
		},
	}
	recentCmd.Flags().IntP("limit", "n", 20, "Number of memories")
	root.AddCommand(recentCmd)

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the entity graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return client().get(cmd.Context(), "/api/graph", limit)
		},
	}
	graphCmd.Flags().IntP("limit", "n", 200, "Maximum number of entities")
	root.AddCommand(graphCmd)

	root.AddCommand(&cobra.Command{
		Use:   "summary [session-id]",
		Short: "Print the master memory, or the summary of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/summaries/master"
			if len(args) == 1 {
				path = "/api/summaries/" + args[0]
			}
			return client().get(cmd.Context(), path, 0)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return client().get(cmd.Context(), "/api/health", 0)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "trigger <app>",
		Short: "Request an immediate capture of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().trigger(cmd.Context(), args[0])
		},
	})
	return root
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
