package main

import "github.com/ValentinKolb/keybox/cmd"

func main() {
	cmd.Execute()
}
