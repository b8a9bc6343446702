package main

import "github.com/pattersondev/voynich-client/internal/cli"

func main() {
	cli.Execute()
}
