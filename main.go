package main

import "github.com/cs-open-lab/openlab-bot/cmd"

func main() {
	cmd.Execute()
}
