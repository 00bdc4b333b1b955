package main

import "southwinds.dev/secrets/cli/cmd"

func main() {
	cmd.Execute()
}
