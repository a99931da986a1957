package main

import "bankd/cmd"

func main() {
	cmd.Execute()
}
