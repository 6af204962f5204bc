package main

import "fx-high-alerts/internal/cli"

func main() {
	cli.Execute()
}
