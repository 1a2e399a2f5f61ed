package main

import "github.com/naka-gawa/prstats/cmd"

func main() {
	cmd.Execute()
}
