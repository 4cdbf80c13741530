package main

import (
	"Marginalia/internal/core/quotes"
	"Marginalia/internal/core/traversal"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var walkCmd = &cobra.Command{
	Use:   "walk <postId>",
	Short: "Print the default branch of a discussion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, logger, err := newClient(cmd)
		if err != nil {
			return err
		}
		depth, _ := cmd.Flags().GetInt("depth")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		prefetch, _ := cmd.Flags().GetInt("prefetch")
		if prefetch < 1 {
			prefetch = 1
		}

		cfg := traversal.DefaultConfig()
		cfg.PageSize = pageSize
		engine := traversal.NewEngine(c, cfg, logger)
		st := traversal.NewState()

		ctx := cmd.Context()
		if err := engine.Initialize(ctx, st, args[0]); err != nil {
			return err
		}
		for {
			levels := st.Levels()
			next := len(levels)
			if levels[next-1].Terminal || (depth > 0 && next > depth) {
				break
			}
			// queue a batch of deeper levels; loads past a terminal level are dropped
			last := next + prefetch - 1
			if depth > 0 && last > depth {
				last = depth
			}
			for n := next; n <= last; n++ {
				if err := engine.LoadNextLevel(ctx, st, n); err != nil {
					return err
				}
			}
			if err := engine.WaitIdle(ctx); err != nil {
				return err
			}
			if len(st.Levels()) == next {
				// nothing was added; the load failed or was discarded
				break
			}
		}
		if err := st.Err(); err != nil {
			logger.Warn("traversal reported an error", "error", err)
		}
		printLevels(cmd.OutOrStdout(), st)
		return nil
	},
}

func init() {
	walkCmd.Flags().IntP("depth", "d", 0, "maximum number of reply levels to load (0 loads to the end)")
	walkCmd.Flags().Int("page-size", 10, "siblings fetched per request")
	walkCmd.Flags().Int("prefetch", 3, "levels queued per round")
	rootCmd.AddCommand(walkCmd)
}

func printLevels(w io.Writer, st *traversal.State) {
	for _, lvl := range st.Levels() {
		indent := strings.Repeat("  ", lvl.Number)
		if lvl.QuoteInParent != nil {
			fmt.Fprintf(w, "%s> %q\n", indent, lvl.QuoteInParent.Text)
		}
		if lvl.Err != "" {
			fmt.Fprintf(w, "%s! %s\n", indent, lvl.Err)
		}
		if len(lvl.Siblings) == 0 {
			if lvl.Terminal && lvl.Number > 0 {
				fmt.Fprintf(w, "%s(no replies)\n", indent)
			}
			continue
		}
		idx := lvl.SelectedIndex()
		if idx < 0 {
			idx = 0
		}
		node := lvl.Siblings[idx]
		fmt.Fprintf(w, "%s[%d/%d] %s (%s): %s\n", indent, idx+1, siblingTotal(lvl), node.ID, node.AuthorID, node.Text)
		if counts, ok := st.Counts(node.ID); ok && len(counts) > 0 {
			printCounts(w, indent, counts)
		}
	}
}

func siblingTotal(lvl traversal.Level) int {
	if lvl.TotalCount > len(lvl.Siblings) {
		return lvl.TotalCount
	}
	return len(lvl.Siblings)
}

func printCounts(w io.Writer, indent string, counts []quotes.Count) {
	for _, c := range counts {
		fmt.Fprintf(w, "%s  %3d x %q\n", indent, c.Count, c.Quote.Text)
	}
}
