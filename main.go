package main

import "github.com/audiolibrelab/radiorec/cmd"

func main() {
	cmd.Execute()
}
