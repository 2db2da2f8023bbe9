package main

import "github.com/MeKo-Tech/naocr/cmd/naocr/cmd"

func main() {
	cmd.Execute()
}
