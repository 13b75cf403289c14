package main

import "github.com/nextlevelbuilder/rsvpbot/cmd"

func main() {
	cmd.Execute()
}
