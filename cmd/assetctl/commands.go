package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/voyagehub/assetsync/internal/cryptox"
	"github.com/voyagehub/assetsync/internal/scheduler"
	"github.com/voyagehub/assetsync/internal/settings"
	"github.com/voyagehub/assetsync/internal/storage"
)

const usage = `usage: assetctl <command> [flags] [args]

commands:
  resolve <storage-key>              show the folder a key resolves to and its source
  set-override <storage-key> <path>  persist a folder override
  clear-override <storage-key>       remove a persisted override
  upload -key <storage-key> [-public] [-name n] [-mime m] <file>
  list <storage-key>                 list objects in the key's folder
  folders <storage-key>              list sub-folders of the key's folder
  delete <object-id-or-url>          delete an object
  sync                               run one sync cycle
  reset-cache                        re-probe the distributed cache and drop cached folder paths
`

var commands = []string{"resolve", "set-override", "clear-override", "upload", "list", "folders", "delete", "sync", "reset-cache"}

var errUsage = errors.New("invalid arguments")

// engine is what the commands need from app.App.
type engine interface {
	Settings() *settings.Resolver
	Storage() *storage.Service
	Scheduler() *scheduler.Scheduler
	ResetCache(ctx context.Context) (bool, int)
}

// splitCommand finds the command name. Config flags (-c, -d, ...) may appear
// before it and are left for config.LoadConfig.
func splitCommand(args []string) (string, []string, error) {
	for i, a := range args {
		if slices.Contains(commands, a) {
			return a, args[i+1:], nil
		}
	}
	return "", nil, fmt.Errorf("%w: no command given", errUsage)
}

func run(ctx context.Context, e engine, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "resolve":
		key, err := keyArg(args, 1)
		if err != nil {
			return err
		}
		entry := e.Settings().Resolve(ctx, key)
		fmt.Fprintf(out, "%s\t%s\t%s\n", entry.Key, entry.Value, entry.Source)
		return nil

	case "set-override":
		key, err := keyArg(args, 2)
		if err != nil {
			return err
		}
		return e.Settings().SetOverride(ctx, key, args[1])

	case "clear-override":
		key, err := keyArg(args, 1)
		if err != nil {
			return err
		}
		return e.Settings().ClearOverride(ctx, key)

	case "upload":
		return upload(ctx, e.Storage(), args, out)

	case "list":
		key, err := keyArg(args, 1)
		if err != nil {
			return err
		}
		folder, err := e.Storage().ResolveFolder(ctx, string(key))
		if err != nil {
			return err
		}
		assets, err := e.Storage().List(ctx, folder)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tVISIBILITY\tOBJECT")
		for _, a := range assets {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", a.LogicalName, a.SizeBytes, a.Visibility, a.ObjectID)
		}
		return w.Flush()

	case "folders":
		key, err := keyArg(args, 1)
		if err != nil {
			return err
		}
		folder, err := e.Storage().ResolveFolder(ctx, string(key))
		if err != nil {
			return err
		}
		subs, err := e.Storage().Subfolders(ctx, folder)
		if err != nil {
			return err
		}
		for _, f := range subs {
			fmt.Fprintln(out, f)
		}
		return nil

	case "reset-cache":
		if len(args) != 0 {
			return fmt.Errorf("%w: reset-cache takes no arguments", errUsage)
		}
		up, dropped := e.ResetCache(ctx)
		state := "unavailable"
		if up {
			state = "available"
		}
		fmt.Fprintf(out, "distributed cache: %s\nfolder entries dropped: %d\n", state, dropped)
		return nil

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("%w: delete takes one object id or URL", errUsage)
		}
		return e.Storage().Delete(ctx, args[0])

	case "sync":
		report, err := e.Scheduler().RunSyncCycle(ctx)
		if err != nil {
			return err
		}
		printReport(out, report)
		if report.Failed() {
			return errors.New("cycle finished with failures")
		}
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func keyArg(args []string, n int) (settings.StorageKey, error) {
	if len(args) != n {
		return "", fmt.Errorf("%w: expected %d argument(s), got %d", errUsage, n, len(args))
	}
	return settings.ParseKey(args[0])
}

func upload(ctx context.Context, st *storage.Service, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	key := fs.String("key", "", "storage key")
	public := fs.Bool("public", false, "make the object world readable")
	name := fs.String("name", "", "logical file name (defaults to the file's base name)")
	mimeType := fs.String("mime", "", "content type (detected from the extension by default)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 || *key == "" {
		return fmt.Errorf("%w: upload needs -key and one file", errUsage)
	}
	if _, err := settings.ParseKey(*key); err != nil {
		return err
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	digest, err := cryptox.FileDigest(path)
	if err != nil {
		return err
	}

	if *name == "" {
		*name = filepath.Base(path)
	}
	if *mimeType == "" {
		*mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	}
	vis := storage.Private
	if *public {
		vis = storage.Public
	}

	folder, err := st.ResolveFolder(ctx, *key)
	if err != nil {
		return err
	}
	res, err := st.Upload(ctx, folder, *name, *mimeType, data, vis)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "object: %s\nurl: %s\nsha256: %s\n", res.ObjectID, res.URL, digest)
	return nil
}

func printReport(out io.Writer, r scheduler.CycleReport) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSCANNED\tSKIPPED\tUPLOADED\tDELETED\tFAILED\tERROR")
	for _, t := range r.Targets {
		errText := ""
		if t.Err != nil {
			errText = t.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n", t.Directory, t.Scanned, t.Skipped, t.Uploaded, t.Deleted, t.Failed, errText)
	}
	for _, e := range r.Exports {
		status := e.ObjectID
		if e.Err != nil {
			status = e.Err.Error()
		}
		fmt.Fprintf(w, "export %s\t%d rows\t%s\n", e.Kind, e.Rows, status)
	}
	_ = w.Flush()
}
