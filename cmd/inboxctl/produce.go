package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/moely/inbox/internal/daemon"
	"github.com/moely/inbox/internal/producer"
	"github.com/moely/inbox/internal/session"
)

func runProducer(layout session.Layout, sessionName string, args []string) {
	cfg, err := layout.Config(sessionName)
	if err != nil {
		fail(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gw, err := daemon.OpenGateway(ctx, layout, sessionName, cfg, nil)
	if err != nil {
		fail(err)
	}
	defer func() { _ = gw.Close() }()
	p := producer.New(gw, nil)

	switch args[0] {
	case "notify":
		fs := flag.NewFlagSet("notify", flag.ExitOnError)
		to := fs.String("to", cfg.Identity.Email, "recipient email")
		title := fs.String("title", "", "notification title")
		content := fs.String("content", "", "notification body")
		_ = fs.Parse(args[1:])
		id, err := p.Notify(ctx, *to, *title, *content)
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	case "message":
		fs := flag.NewFlagSet("message", flag.ExitOnError)
		from := fs.String("from", "", "sender email")
		to := fs.String("to", cfg.Identity.Email, "recipient email")
		content := fs.String("content", "", "message body")
		_ = fs.Parse(args[1:])
		id, err := p.Message(ctx, *from, *to, *content)
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	case "profile":
		if len(args) != 3 || args[1] != "add" {
			fmt.Fprintln(os.Stderr, "usage: inboxctl profile add <email>")
			os.Exit(1)
		}
		id, err := gw.EnsureProfile(ctx, args[2])
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	}
}
