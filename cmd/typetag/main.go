package main

import "github.com/funvibe/typetag/pkg/cli"

func main() {
	cli.Run()
}
