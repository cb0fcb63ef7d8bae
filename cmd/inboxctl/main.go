package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/moely/inbox/internal/api"
	"github.com/moely/inbox/internal/session"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	layout := session.DefaultLayout()
	sessionName, err := layout.Resolve(*sessionFlag)
	if err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Development producers talk to the data service, not the daemon.
	switch args[0] {
	case "notify", "message", "profile":
		runProducer(layout, sessionName, args)
		return
	}

	c, err := api.Dial(layout.SocketPath(sessionName))
	if err != nil {
		fail(fmt.Errorf("cannot connect to daemon for session %q: %w", sessionName, err))
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var resp *structpb.Struct
	out := printStatus
	switch args[0] {
	case "status":
		resp, err = c.Status(ctx)
	case "enter":
		resp, err = c.EnterView(ctx)
	case "leave":
		resp, err = c.LeaveView(ctx)
	case "contacts":
		resp, err = c.ListContacts(ctx)
		out = printContacts
	case "reload":
		resp, err = c.Reload(ctx)
		out = printContacts
	case "unread":
		resp, err = c.Unread(ctx)
		out = printUnread
	case "open":
		requireArgs(args, 2, "inboxctl open <contact-id>")
		resp, err = c.OpenConversation(ctx, args[1])
		out = printConversation
	case "chat":
		requireArgs(args, 2, "inboxctl chat <email>")
		resp, err = c.StartChat(ctx, args[1])
		out = printConversation
	case "close":
		resp, err = c.CloseConversation(ctx)
		out = printPane
	case "send":
		requireArgs(args, 2, "inboxctl send <text>")
		resp, err = c.Send(ctx, strings.Join(args[1:], " "))
		out = printSent
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
	if *jsonFlag {
		outputJSON(resp.AsMap())
		return
	}
	out(resp)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: inboxctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show daemon and view status")
	fmt.Fprintln(os.Stderr, "  enter | leave          Start or stop the messaging view")
	fmt.Fprintln(os.Stderr, "  contacts               List contacts with unread counts")
	fmt.Fprintln(os.Stderr, "  reload                 Refetch the contact list")
	fmt.Fprintln(os.Stderr, "  unread                 Show the badge total and counts")
	fmt.Fprintln(os.Stderr, "  open <contact-id>      Open a conversation")
	fmt.Fprintln(os.Stderr, "  chat <email>           Start a chat with a user")
	fmt.Fprintln(os.Stderr, "  send <text>            Send to the open conversation")
	fmt.Fprintln(os.Stderr, "  close                  Close the open conversation")
	fmt.Fprintln(os.Stderr, "  watch [prefix...]      Stream view events")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "development:")
	fmt.Fprintln(os.Stderr, "  notify --to <email> --title <t> --content <c>")
	fmt.Fprintln(os.Stderr, "  message --from <email> --to <email> --content <c>")
	fmt.Fprintln(os.Stderr, "  profile add <email>")
}

func cmdWatch(c *api.Client, prefixes []string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := c.Watch(ctx, prefixes...)
	if err != nil {
		fail(err)
	}
	for {
		evt, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fail(err)
		}
		if jsonOut {
			outputJSON(evt.AsMap())
			continue
		}
		at := time.UnixMilli(int64(evt.Fields["occurred_at_unix_ms"].GetNumberValue()))
		payload, _ := json.Marshal(evt.Fields["payload"].GetStructValue().AsMap())
		fmt.Printf("%s %-28s %s\n", at.Format("15:04:05.000"), evt.Fields["kind"].GetStringValue(), payload)
	}
}

func printStatus(s *structpb.Struct) {
	f := s.GetFields()
	fmt.Printf("Session:  %s\n", f["session"].GetStringValue())
	fmt.Printf("Running:  %v\n", f["running"].GetBoolValue())
	if user := f["user_id"].GetStringValue(); user != "" {
		fmt.Printf("User:     %s\n", user)
	}
	fmt.Printf("Realtime: %s\n", f["realtime"].GetStringValue())
	fmt.Printf("Pane:     %s\n", f["pane"].GetStringValue())
	fmt.Printf("Uptime:   %s\n", time.Duration(f["uptime_ms"].GetNumberValue())*time.Millisecond)
	if e := f["load_error"].GetStringValue(); e != "" {
		fmt.Printf("Load:     failed: %s\n", e)
	}
}

func printContacts(s *structpb.Struct) {
	for _, v := range s.GetFields()["contacts"].GetListValue().GetValues() {
		c := v.GetStructValue().GetFields()
		badge := ""
		if n := int(c["unread"].GetNumberValue()); n > 0 {
			badge = fmt.Sprintf("(%d)", n)
		}
		fmt.Printf("%-5s %-20s %-38s %s\n", badge, c["name"].GetStringValue(), c["id"].GetStringValue(), c["preview"].GetStringValue())
	}
	if e := s.GetFields()["load_error"].GetStringValue(); e != "" {
		fmt.Printf("\nlast load failed: %s\n", e)
	}
}

func printUnread(s *structpb.Struct) {
	f := s.GetFields()
	fmt.Printf("Total: %d\n", int(f["total"].GetNumberValue()))
	for id, n := range f["counts"].GetStructValue().GetFields() {
		fmt.Printf("  %-38s %d\n", id, int(n.GetNumberValue()))
	}
}

func printConversation(s *structpb.Struct) {
	f := s.GetFields()
	if c := f["contact"].GetStructValue(); c != nil {
		fmt.Printf("== %s ==\n", c.GetFields()["name"].GetStringValue())
	}
	for _, v := range f["transcript"].GetListValue().GetValues() {
		printEntry(v.GetStructValue())
	}
	fmt.Printf("[%s]\n", f["pane"].GetStringValue())
}

func printEntry(e *structpb.Struct) {
	f := e.GetFields()
	at := time.UnixMilli(int64(f["created_at"].GetNumberValue())).Format("01-02 15:04")
	who := "them"
	if f["mine"].GetBoolValue() {
		who = "me"
	}
	text := f["content"].GetStringValue()
	if title := f["title"].GetStringValue(); title != "" {
		text = title + ": " + text
	}
	suffix := ""
	if st := f["status"].GetStringValue(); st != "" && st != "confirmed" {
		suffix = " (" + st + ")"
	}
	fmt.Printf("%s %-4s %s%s\n", at, who, text, suffix)
}

func printSent(s *structpb.Struct) {
	printEntry(s.GetFields()["entry"].GetStructValue())
}

func printPane(s *structpb.Struct) {
	fmt.Printf("[%s]\n", s.GetFields()["pane"].GetStringValue())
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: %s\n", usage)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
