package main

import (
	"os"

	"done/cmd/done-provider/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
