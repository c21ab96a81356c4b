package main

import (
	"log"

	"github.com/PatchLens/go-spycode/spy"
	"github.com/PatchLens/go-spycode/spy/cmd"
)

func main() {
	log.SetFlags(log.LstdFlags)

	config, err := cmd.ParseFlags()
	if err != nil {
		log.Fatalf("%s%v", spy.ErrorLogPrefix, err)
	}

	if err := spy.NewEngine(config).Run(); err != nil {
		log.Fatalf("%s%v", spy.ErrorLogPrefix, err)
	}
}
