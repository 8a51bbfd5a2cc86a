package main

import (
	"Choirbook/cmd"
)

func main() {
	cmd.Execute()
}
