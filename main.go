package main

import "github.com/seqforge/protrain/cmd"

func main() {
	cmd.Execute()
}
