package main

import "github.com/HanTheDev/genie-analytics/internal/cli"

func main() {
	cli.Execute()
}
