package main

import "github.com/ValentinKolb/levelkv/cmd"

func main() {
	cmd.Execute()
}
