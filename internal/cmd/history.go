package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apperrors "github.com/chatlens/chatlens/internal/errors"
	"github.com/chatlens/chatlens/internal/observability"
	"github.com/chatlens/chatlens/internal/output"
	"github.com/chatlens/chatlens/internal/research"
	"github.com/chatlens/chatlens/internal/store"
)

var (
	historyUser   string
	historyFormat string
)

// historyStore is the part of the store the history commands read and delete through.
type historyStore interface {
	ListConversations(ctx context.Context, ownerID string) ([]store.Conversation, error)
	GetMessages(ctx context.Context, ownerID, conversationID string) ([]research.Message, error)
	DeleteConversation(ctx context.Context, ownerID, conversationID string) error
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored conversations for a user",
	Long: `Read conversation history from the local store.

Without a subcommand, lists the user's conversations newest first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistoryStore(cmd, func(ctx context.Context, st historyStore, formatter output.Formatter) error {
			return listHistory(ctx, cmd.OutOrStdout(), st, formatter, historyUser)
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print the messages of one conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistoryStore(cmd, func(ctx context.Context, st historyStore, formatter output.Formatter) error {
			return showHistory(ctx, cmd.OutOrStdout(), st, formatter, historyUser, args[0])
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistoryStore(cmd, func(ctx context.Context, st historyStore, _ output.Formatter) error {
			return deleteHistory(ctx, cmd.OutOrStdout(), st, historyUser, args[0])
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)

	historyCmd.PersistentFlags().StringVarP(&historyUser, "user", "u", "", "owner user id (required)")
	historyCmd.PersistentFlags().StringVarP(&historyFormat, "format", "f", "table", "output format: table, json, markdown")
}

func withHistoryStore(cmd *cobra.Command, fn func(context.Context, historyStore, output.Formatter) error) error {
	ctx := cmd.Context()

	if strings.TrimSpace(historyUser) == "" {
		return apperrors.NewInvalidInputError("--user is required")
	}
	format, err := output.ParseFormat(historyFormat)
	if err != nil {
		return apperrors.WrapInvalidInput(ctx, err, "invalid --format")
	}

	st, _, err := openStore(ctx)
	if err != nil {
		return apperrors.WrapDatabaseError(ctx, err, "open store failed")
	}
	defer func() {
		if err := st.Close(); err != nil {
			observability.CLILogger.Warn("Failed to close store", zap.Error(err))
		}
	}()

	return fn(ctx, st, output.NewFormatter(format))
}

func listHistory(ctx context.Context, w io.Writer, st historyStore, formatter output.Formatter, owner string) error {
	conversations, err := st.ListConversations(ctx, owner)
	if err != nil {
		return apperrors.WrapDatabaseError(ctx, err, "list conversations failed")
	}
	rendered, err := formatter.FormatConversations(conversations)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, rendered)
	return err
}

func showHistory(ctx context.Context, w io.Writer, st historyStore, formatter output.Formatter, owner, conversationID string) error {
	messages, err := st.GetMessages(ctx, owner, conversationID)
	if err != nil {
		return historyLookupError(ctx, err, conversationID)
	}
	rendered, err := formatter.FormatMessages(conversationID, messages)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, rendered)
	return err
}

func deleteHistory(ctx context.Context, w io.Writer, st historyStore, owner, conversationID string) error {
	if err := st.DeleteConversation(ctx, owner, conversationID); err != nil {
		return historyLookupError(ctx, err, conversationID)
	}
	_, err := fmt.Fprintf(w, "Deleted conversation %s\n", conversationID)
	return err
}

func historyLookupError(ctx context.Context, err error, conversationID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.WrapNotFound(ctx, err, fmt.Sprintf("conversation %s not found", conversationID))
	}
	return apperrors.WrapDatabaseError(ctx, err, "conversation lookup failed")
}
