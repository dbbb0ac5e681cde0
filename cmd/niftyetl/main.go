package main

import "nifty-etl/internal/cli"

func main() {
	cli.Execute()
}
