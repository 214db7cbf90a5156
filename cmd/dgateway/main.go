package main

import (
	"fmt"
	"os"

	"github.com/botlabs-gg/dgateway/common/run"
	"github.com/mitchellh/cli"
)

func main() {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	app := cli.NewCLI("dgateway", run.VERSION)
	app.Args = os.Args[1:]
	app.Commands = Commands(ui)

	exitStatus, err := app.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: ", err)
	}

	os.Exit(exitStatus)
}

// Commands returns every subcommand, writing through ui
func Commands(ui cli.Ui) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"run":     StaticFactory(&RunCommand{Ui: ui}),
		"status":  StaticFactory(&StatusCommand{Ui: ui, Addr: os.Getenv("DGATEWAY_STATUS_ADDR")}),
		"intents": StaticFactory(&IntentsCommand{Ui: ui}),
		"config":  StaticFactory(&ConfigCommand{Ui: ui}),
		"version": StaticFactory(&VersionCommand{Ui: ui}),
	}
}

func StaticFactory(cmd cli.Command) cli.CommandFactory {
	return func() (cli.Command, error) {
		return cmd, nil
	}
}
