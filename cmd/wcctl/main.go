// Package main is the entrypoint for wcctl, a command-line dApp and wallet peer.
package main

import (
	"os"

	"github.com/morezero/walletconnect/cmd/wcctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
