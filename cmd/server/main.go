package main

import "kanflow/cmd/cli"

func main() {
	cli.Execute()
}
