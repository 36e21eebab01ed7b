package main

import "example.com/roster/cmd/seed/cmd"

func main() {
	cmd.Execute()
}
