package main

import "github.com/comigor/zapup-go/internal/commands"

func main() {
	commands.Execute()
}
