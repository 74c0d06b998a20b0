package main

import "github.com/casewire/casewire/cmd/casewire/cmd"

func main() {
	cmd.Execute()
}
