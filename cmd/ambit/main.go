package main

import "github.com/ambit-sec/ambit/cmd/ambit/cmd"

func main() {
	cmd.Execute()
}
