// Package main is the entry point for the musiclive binary.
package main

import "github.com/jefferyschmidt/CharlestonMusicLive/cmd"

func main() {
	cmd.Execute()
}
