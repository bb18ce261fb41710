package main

import "feedkeeper/internal/cli"

func main() {
	cli.Execute()
}
