package main

import (
	"Marginalia/internal/api/middleware"
	"Marginalia/internal/core/quotes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var postCmd = &cobra.Command{
	Use:   "post <content>",
	Short: "Create a post",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}
		id, err := c.CreatePost(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var replyCmd = &cobra.Command{
	Use:   "reply <parentId> <text>",
	Short: "Reply to a quote of a post or reply",
	Long: `Reply to the text between --start and --end of the parent. The quoted
text is taken from the parent itself so it always matches.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}
		start, _ := cmd.Flags().GetInt("start")
		end, _ := cmd.Flags().GetInt("end")
		parentID := args[0]

		ctx := cmd.Context()
		parentText, err := c.GetNodeText(ctx, parentID)
		if err != nil {
			return err
		}
		if end <= 0 {
			end = len(parentText)
		}
		if start < 0 || end > len(parentText) || start >= end {
			return fmt.Errorf("range %d-%d is outside the parent text (length %d)", start, end, len(parentText))
		}

		quote := quotes.Quote{
			Text:           parentText[start:end],
			SourceID:       parentID,
			SelectionRange: &quotes.Range{Start: start, End: end},
		}
		id, err := c.CreateReply(ctx, parentID, quote, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <authorId>",
	Short: "Issue a development token signed with a shared secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if secret == "" {
			return errors.New("--secret or JWT_SECRET is required")
		}
		token, err := middleware.IssueToken(secret, args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var authorCmd = &cobra.Command{
	Use:   "author <authorId>",
	Short: "List an author's replies, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		cursor, _ := cmd.Flags().GetString("cursor")

		page, err := c.ListByAuthor(cmd.Context(), args[0], cursor, limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range page.Items {
			fmt.Fprintf(out, "%s  %s  on %s > %q: %s\n",
				r.CreatedAt.Format(time.RFC3339), r.ID, r.ParentID, r.Quote.Text, r.Text)
		}
		if page.HasMore && page.NextCursor != nil {
			fmt.Fprintf(out, "more: --cursor %s\n", *page.NextCursor)
		}
		return nil
	},
}

func init() {
	replyCmd.Flags().Int("start", 0, "start offset of the quoted text")
	replyCmd.Flags().Int("end", 0, "end offset of the quoted text (default: end of the parent)")

	tokenCmd.Flags().String("secret", envOr("JWT_SECRET", ""), "HMAC secret shared with the server")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	authorCmd.Flags().Int("limit", 10, "replies per page")
	authorCmd.Flags().String("cursor", "", "cursor from a previous page")

	rootCmd.AddCommand(postCmd, replyCmd, tokenCmd, authorCmd)
}
