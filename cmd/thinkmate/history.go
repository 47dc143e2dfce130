package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/MegaGrindStone/thinkmate/internal/chat"
	"github.com/MegaGrindStone/thinkmate/internal/fsutil"
	"github.com/MegaGrindStone/thinkmate/internal/history"
	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/MegaGrindStone/thinkmate/internal/render"
	"github.com/MegaGrindStone/thinkmate/internal/settings"
	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the saved chats",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the saved chats, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList,
	}

	showCmd := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print a saved chat with its replies rendered for the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	showCmd.Flags().IntP("width", "w", 80, "Word wrap width")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the saved chats as a history.json file",
		Args:  cobra.NoArgs,
		RunE:  runHistoryExport,
	}
	exportCmd.Flags().StringP("out", "o", "", "Output file (default: stdout)")

	historyCmd.AddCommand(listCmd, showCmd, exportCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadHistory reads every saved chat from the configured store.
func loadHistory(ctx context.Context) ([]models.SavedChat[string], string, error) {
	cfg, dir, err := appConfig()
	if err != nil {
		return nil, "", err
	}
	logger := newLogger(cfg)

	store, err := cfg.openStore(dir, logger)
	if err != nil {
		return nil, "", fmt.Errorf("error opening history store: %w", err)
	}
	defer store.Close()

	chats, err := store.Load(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("error loading history: %w", err)
	}
	return chats, dir, nil
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	chats, _, err := loadHistory(cmd.Context())
	if err != nil {
		return err
	}
	return writeHistoryList(cmd.OutOrStdout(), chats)
}

func writeHistoryList(w io.Writer, chats []models.SavedChat[string]) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tMODEL\tTURNS\tDESCRIPTION")
	for i := len(chats) - 1; i >= 0; i-- {
		c := chats[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			c.ID,
			humanize.Time(ulid.Time(c.ID.Time())),
			c.Model,
			len(c.Content),
			c.Description())
	}
	return tw.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	id, err := ulid.ParseStrict(args[0])
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", args[0], err)
	}
	width, _ := cmd.Flags().GetInt("width")

	chats, dir, err := loadHistory(cmd.Context())
	if err != nil {
		return err
	}
	lib := history.NewLibrary(chats)
	saved, ok := lib.Get(id)
	if !ok {
		return fmt.Errorf("chat %s: %w", id, history.ErrNotFound)
	}

	s, _ := settings.Read(dir)
	term, err := render.NewTerminal(s.Theme, width)
	if err != nil {
		return err
	}
	return writeChat(cmd.OutOrStdout(), term, saved)
}

func writeChat(w io.Writer, term render.Terminal, saved models.SavedChat[string]) error {
	snap := chat.Restore(history.Rehydrate(saved)).Snapshot()

	fmt.Fprintf(w, "%s · %s\n\n", snap.Name, snap.Model)
	for _, t := range snap.Turns {
		if t.Role == models.RoleUser {
			fmt.Fprintf(w, "> %s\n\n", t.Query)
			continue
		}
		out, err := term.Reply(t)
		if err != nil {
			return fmt.Errorf("failed to render reply: %w", err)
		}
		fmt.Fprintln(w, out)
	}
	return nil
}

func runHistoryExport(cmd *cobra.Command, _ []string) error {
	out, _ := cmd.Flags().GetString("out")

	chats, _, err := loadHistory(cmd.Context())
	if err != nil {
		return err
	}
	data, err := history.Serialize(chats)
	if err != nil {
		return err
	}

	if out == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := fsutil.AtomicWriteFile(out, data, 0600); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported %d chats to %s\n", len(chats), out)
	return nil
}
