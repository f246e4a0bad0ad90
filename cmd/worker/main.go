package main

import (
	"log"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		log.Printf("casegate-worker: %v", err)
		os.Exit(1)
	}
}
