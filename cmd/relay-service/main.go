// Package main is the relay-service entry point (HTTP + WebSocket).
package main

import (
	"log"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
