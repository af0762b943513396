package main

import (
	"os"

	"github.com/MrEthical07/goAuthClient/cmd/goauth-client/app"
)

func main() {
	if err := app.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
