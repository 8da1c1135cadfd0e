package main

import "github.com/finwallet/syncengine/cmd"

func main() {
	cmd.Execute()
}
