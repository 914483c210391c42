package main

import "github.com/Sentinel-Gate/cellgate/cmd/cellgate/cmd"

func main() {
	cmd.Execute()
}
