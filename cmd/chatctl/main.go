// Command chatctl prints stats and recent history from a PalmChat badger
// directory. It opens the database read-only, so it can run next to a
// live server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/Tyrowin/palmchat/internal/config"
	"github.com/Tyrowin/palmchat/internal/logging"
	"github.com/Tyrowin/palmchat/internal/store"
	"github.com/olekukonko/tablewriter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("chatctl", flag.ExitOnError)
	path := fs.String("db", cfg.BadgerPath, "badger directory")
	limit := fs.Int("n", cfg.HistoryLimit, "number of messages for history")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: chatctl [-db dir] [-n count] stats|history|users")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	if err := run(context.Background(), os.Stdout, *path, fs.Arg(0), *limit); err != nil {
		fmt.Fprintf(os.Stderr, "chatctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, path, command string, limit int) error {
	log := logging.New(os.Stderr, "warn")
	db, err := store.OpenReadOnly(path, log)
	if err != nil {
		return err
	}
	defer db.Close()

	users := store.NewUserStore(db, log)
	messages := store.NewMessageStore(db, log)
	svc := chat.NewService(log, messages, users, nil, limit)

	switch command {
	case "stats":
		stats, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		table := newTable(out, "Users", "Messages")
		table.Append([]string{strconv.Itoa(stats.TotalUsers), strconv.Itoa(stats.TotalChatCounts)})
		table.Render()

	case "history":
		views, err := svc.History(ctx)
		if err != nil {
			return err
		}
		table := newTable(out, "Time", "Sender", "Content", "ID")
		for _, v := range views {
			sender := v.Sender.Username
			if sender == "" {
				sender = "(deleted)"
			}
			table.Append([]string{v.CreatedAt.Local().Format(time.DateTime), sender, v.Content, v.ID})
		}
		table.Render()

	case "users":
		list, err := users.ListUsers(ctx)
		if err != nil {
			return err
		}
		table := newTable(out, "ID", "Username", "Admin", "Created")
		for _, u := range list {
			table.Append([]string{u.ID, u.Username, strconv.FormatBool(u.IsAdmin), u.CreatedAt.Local().Format(time.DateTime)})
		}
		table.Render()

	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}
