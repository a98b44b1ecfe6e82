package main

import (
	"github.com/sidkik/boxsync/cmd"
	"github.com/sidkik/boxsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
