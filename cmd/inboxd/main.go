package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/moely/inbox/internal/daemon"
	"github.com/moely/inbox/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	quietFlag := flag.Bool("quiet", false, "log to the session log file only")
	flag.Parse()

	layout := session.DefaultLayout()
	sessionName, err := layout.Resolve(*sessionFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.NopLogger,
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Layout:      layout,
			Console:     !*quietFlag,
		}),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app.Run()
}
