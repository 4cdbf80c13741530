package main

import (
	"Marginalia/internal/api/middleware"
	"Marginalia/internal/client"
	"Marginalia/internal/core/quotes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Back-and-forth used to fill a deep thread. Each line quotes the opening
// words of the one before it.
var seedConversation = []string{
	"It is a truth universally acknowledged that every long thread drifts off topic.",
	"Drifting off topic is half the fun. The other half is pretending we never left.",
	"Pretending is generous. Most of us forgot the original question three levels ago.",
	"The original question was whether quotes make better anchors than whole posts.",
	"Better anchors, yes. You always know which sentence somebody is arguing with.",
	"Arguing with a sentence instead of a person does keep things civil.",
	"Civil until two people quote the same six words and disagree about them.",
	"Then their replies pile up under one quote and you can read the whole fight.",
	"Reading a whole fight in one column is oddly satisfying.",
	"Satisfying enough that I just scrolled to the bottom to see who won.",
}

const seedQuoteLimit = 24

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a post with a deep reply thread for local testing",
	Long: `seed creates a post and a chain of replies alternating between two
authors. Every reply quotes the opening words of its parent. With --siblings
greater than one, extra replies are added at each level on the same quote.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		server, _ := flags.GetString("server")
		timeout, _ := flags.GetDuration("timeout")
		secret, _ := flags.GetString("secret")
		depth, _ := flags.GetInt("depth")
		siblings, _ := flags.GetInt("siblings")
		if secret == "" {
			return errors.New("--secret or JWT_SECRET is required")
		}
		if depth < 1 || depth > len(seedConversation)-1 {
			return fmt.Errorf("depth must be between 1 and %d", len(seedConversation)-1)
		}
		if siblings < 1 {
			siblings = 1
		}

		authors := []*client.Client{}
		for i := 1; i <= 2; i++ {
			token, err := middleware.IssueToken(secret, fmt.Sprintf("seed_author_%d", i), time.Hour)
			if err != nil {
				return err
			}
			c, err := client.New(client.Options{BaseURL: server, Token: token, Timeout: timeout})
			if err != nil {
				return err
			}
			authors = append(authors, c)
		}

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		postID, err := authors[0].CreatePost(ctx, seedConversation[0])
		if err != nil {
			return fmt.Errorf("failed to create post: %w", err)
		}
		fmt.Fprintf(out, "post %s\n", postID)

		parentID, parentText := postID, seedConversation[0]
		for level := 1; level <= depth; level++ {
			quote := openingQuote(parentID, parentText)
			text := seedConversation[level]
			author := authors[level%2]

			replyID, err := author.CreateReply(ctx, parentID, quote, text)
			if err != nil {
				return fmt.Errorf("failed to create reply at level %d: %w", level, err)
			}
			fmt.Fprintf(out, "level %d %s\n", level, replyID)

			for s := 2; s <= siblings; s++ {
				extra := fmt.Sprintf("Sibling %d at level %d, on the same quote.", s, level)
				if _, err := authors[(level+s)%2].CreateReply(ctx, parentID, quote, extra); err != nil {
					return fmt.Errorf("failed to create sibling at level %d: %w", level, err)
				}
			}
			parentID, parentText = replyID, text
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().String("secret", envOr("JWT_SECRET", ""), "HMAC secret shared with the server")
	seedCmd.Flags().IntP("depth", "d", len(seedConversation)-1, "number of reply levels")
	seedCmd.Flags().Int("siblings", 1, "replies per level")
	rootCmd.AddCommand(seedCmd)
}

// openingQuote quotes text up to the last word boundary within seedQuoteLimit bytes
func openingQuote(sourceID, text string) quotes.Quote {
	end := len(text)
	if end > seedQuoteLimit {
		end = seedQuoteLimit
		if i := strings.LastIndexByte(text[:end], ' '); i > 0 {
			end = i
		}
	}
	return quotes.Quote{
		Text:           text[:end],
		SourceID:       sourceID,
		SelectionRange: &quotes.Range{Start: 0, End: end},
	}
}
