package main

import "github.com/toidukodu/tehiskokk/internal/cli"

func main() {
	cli.Execute()
}
