package main

import "meetbot/cmd"

func main() {
	cmd.Execute()
}
