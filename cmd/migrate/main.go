// Command migrate applies the embedded database migrations.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/noah-isme/account-api/internal/db/migrate"
	"github.com/noah-isme/account-api/pkg/config"
)

func main() {
	direction := flag.String("direction", migrate.DirectionUp, "migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if err := migrate.Run(cfg.Database.URL(), *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Printf("migrations %s complete\n", *direction)
}
