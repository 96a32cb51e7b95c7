package main

import (
	"github.com/awnumar/memguard"

	"github.com/jmcleod/opsvault/cmd/opsvault/cmd"
)

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()
	cmd.Execute()
}
