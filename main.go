package main

import "github.com/samsaffron/toolstream/cmd"

func main() {
	cmd.Execute()
}
