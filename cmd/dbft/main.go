package main

import "github.com/r3e-network/dbft/internal/cli"

func main() {
	cli.Execute()
}
