package main

import "github.com/nextlevelbuilder/inlet/cmd"

func main() {
	cmd.Execute()
}
