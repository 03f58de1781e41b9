package main

import "github.com/cbuild-dev/cbuild/cmd"

func main() {
	cmd.Execute()
}
