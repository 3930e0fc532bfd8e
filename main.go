package main

import "github.com/Charca/pkgshield/cmd"

func main() {
	cmd.Execute()
}
