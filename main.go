package main

import (
	"os"

	"github.com/makibytes/aem/broker"
	"github.com/makibytes/aem/log"
)

func main() {
	defer log.Sync()

	if err := broker.GetRootCommand().Execute(); err != nil {
		log.Error("%s", err)
		log.Sync()
		os.Exit(1)
	}
}
