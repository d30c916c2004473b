package main

import "github.com/openhearth/hearth/cmd"

func main() {
	cmd.Execute()
}
