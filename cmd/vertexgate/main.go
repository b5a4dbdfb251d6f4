package main

import (
	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/vertexgate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal("vertexgate failed", "err", err)
	}
}
