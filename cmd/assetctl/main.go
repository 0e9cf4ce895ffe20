// Command assetctl runs one-off administrative operations against the
// engine using the same configuration as the daemon.
//
//	assetctl resolve <storage-key>
//	assetctl set-override <storage-key> <path>
//	assetctl clear-override <storage-key>
//	assetctl upload -key <storage-key> [-public] [-name n] [-mime m] <file>
//	assetctl list <storage-key>
//	assetctl delete <object-id-or-url>
//	assetctl sync
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/voyagehub/assetsync/internal/app"
	"github.com/voyagehub/assetsync/internal/config"
)

func main() {
	cmd, args, err := splitCommand(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	err = run(ctx, a, cmd, args, os.Stdout)
	a.Close()
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}
