package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/echonotehq/echonote-core/internal/config"
	"github.com/echonotehq/echonote-core/internal/events"
	"github.com/echonotehq/echonote-core/internal/whispermodel"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "list":
		err = runList(os.Args[2:])
	case "fetch":
		err = runFetch(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "remove":
		err = runRemove(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: echonote-modelctl <list|fetch|verify|remove|version> [flags]")
}

func newManager(dir, catalogPath string, pub events.Publisher) (*whispermodel.Manager, error) {
	catalog := whispermodel.DefaultCatalog()
	if catalogPath != "" {
		var err error
		catalog, err = whispermodel.LoadCatalog(catalogPath)
		if err != nil {
			return nil, err
		}
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return whispermodel.NewManager(config.ModelsConfig{Dir: dir}, catalog, pub, log)
}

func commonFlags(fs *flag.FlagSet) (dir, catalogPath *string) {
	dir = fs.String("dir", "./data/models", "Models directory")
	catalogPath = fs.String("catalog", "", "Path to a catalog file (defaults to the built-in catalog)")
	return dir, catalogPath
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dir, catalogPath := commonFlags(fs)
	fs.Parse(args)

	mgr, err := newManager(*dir, *catalogPath, nil)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tFILE\tSIZE\tINSTALLED")
	for _, s := range mgr.Statuses() {
		installed := "-"
		if s.Installed {
			installed = fmt.Sprintf("%d bytes", s.InstalledBytes)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Name, s.Filename, s.SizeBytes, installed)
	}
	return w.Flush()
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	dir, catalogPath := commonFlags(fs)
	variant := fs.String("variant", "base", "Model variant to download")
	fs.Parse(args)

	mgr, err := newManager(*dir, *catalogPath, progressPrinter{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Download(ctx, *variant); err != nil {
		return err
	}
	fmt.Printf("\n%s installed\n", *variant)
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dir, catalogPath := commonFlags(fs)
	variant := fs.String("variant", "base", "Model variant to verify")
	fs.Parse(args)

	mgr, err := newManager(*dir, *catalogPath, nil)
	if err != nil {
		return err
	}

	sum, err := mgr.Checksum(*variant)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s\n", sum, *variant)
	return nil
}

func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	dir, catalogPath := commonFlags(fs)
	variant := fs.String("variant", "base", "Model variant to remove")
	fs.Parse(args)

	mgr, err := newManager(*dir, *catalogPath, nil)
	if err != nil {
		return err
	}
	if err := mgr.Delete(*variant); err != nil {
		return err
	}
	fmt.Printf("%s removed\n", *variant)
	return nil
}

// progressPrinter renders download progress events on one terminal line.
type progressPrinter struct{}

func (progressPrinter) PublishJSON(subject string, payload any) {
	if subject != events.SubjectModelDownloadProgress {
		return
	}
	progress, ok := payload.(events.DownloadProgress)
	if !ok {
		return
	}
	switch progress.Status {
	case "downloading":
		fmt.Printf("\r%s: %.1f%% (%d/%d bytes)", progress.Variant, progress.Percentage, progress.BytesDownloaded, progress.TotalBytes)
	case "validating":
		fmt.Printf("\r%s: validating checksum          ", progress.Variant)
	case "failed":
		fmt.Printf("\r%s: failed: %s\n", progress.Variant, progress.Error)
	}
}
