package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/rsvpbot/internal/channels/zulip"
)

const maxNameWidth = 40

func usersCmd() *cobra.Command {
	var includeBots bool
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List the realm members the bot resolves names against",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Zulip.Email == "" || cfg.Zulip.APIKey == "" {
				return fmt.Errorf("zulip credentials are not configured")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			client := zulip.NewClient(cfg.Zulip.Site, cfg.Zulip.Email, cfg.Zulip.APIKey, cfg.Zulip.SendsPerSecond)
			dir := zulip.NewDirectory(client)
			if err := dir.Load(ctx); err != nil {
				return err
			}
			printUsers(os.Stdout, dir.Users(), includeBots)
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeBots, "bots", false, "include bot accounts")
	return cmd
}

// printUsers writes an aligned id/name/email table. Column widths are measured
// in terminal cells so wide names stay aligned.
func printUsers(w io.Writer, users []zulip.User, includeBots bool) {
	idWidth, nameWidth := len("ID"), len("NAME")
	shown := users[:0:0]
	for _, u := range users {
		if u.IsBot && !includeBots {
			continue
		}
		shown = append(shown, u)
		idWidth = max(idWidth, len(strconv.FormatInt(u.UserID, 10)))
		nameWidth = max(nameWidth, min(runewidth.StringWidth(u.FullName), maxNameWidth))
	}

	fmt.Fprintf(w, "%s  %s  %s\n", runewidth.FillRight("ID", idWidth), runewidth.FillRight("NAME", nameWidth), "EMAIL")
	for _, u := range shown {
		name := runewidth.Truncate(u.FullName, maxNameWidth, "...")
		fmt.Fprintf(w, "%s  %s  %s\n",
			runewidth.FillRight(strconv.FormatInt(u.UserID, 10), idWidth),
			runewidth.FillRight(name, nameWidth),
			u.Email)
	}
	fmt.Fprintf(w, "\n%d users\n", len(shown))
}
