package main

import "pulse/cmd"

func main() {
	cmd.Execute()
}
