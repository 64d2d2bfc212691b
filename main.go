package main

import "github.com/groundwork-sh/groundwork/cmd"

func main() {
	cmd.Execute()
}
