package main

import "github.com/dhcgn/mhtml/cmd"

func main() {
	cmd.Execute()
}
