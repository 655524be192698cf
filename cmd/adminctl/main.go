package main

import (
	"context"
	"log"
	"os"

	"github.com/binhnvh/usermgmt/internal/adminctl"
	"github.com/binhnvh/usermgmt/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	if err := adminctl.Run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

}
