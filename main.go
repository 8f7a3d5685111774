package main

import (
	"context"
	"log"

	"possale/m/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Fatalf("possale: %v", err)
	}
}
