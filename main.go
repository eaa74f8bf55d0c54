package main

import (
	"os"

	"github.com/mitchellh/cli"
	"github.com/nikileshsa/capnweb-go/commands"
)

func main() {
	c := &cli.CLI{
		Name:    "capnweb-go",
		Version: VersionString(),
		Args:    os.Args[1:],
	}

	ui := &cli.ColoredUi{
		ErrorColor: cli.UiColorRed,
		WarnColor:  cli.UiColorYellow,
		Ui: &cli.BasicUi{
			Writer:      os.Stdout,
			Reader:      os.Stdin,
			ErrorWriter: os.Stderr,
		},
	}

	c.Commands = map[string]cli.CommandFactory{
		"call": func() (cli.Command, error) {
			return &commands.CallCommand{
				Ui: ui,
			}, nil
		},
		"serve": func() (cli.Command, error) {
			return &commands.ServeCommand{
				Ui: ui,
			}, nil
		},
	}

	exitStatus, err := c.Run()
	if err != nil {
		ui.Error("Error: " + err.Error())
	}

	os.Exit(exitStatus)
}
