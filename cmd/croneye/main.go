package main

import "github.com/croneye/croneye/cmd/croneye/cmd"

func main() {
	cmd.Execute()
}
