package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	_ "time/tzdata"

	"github.com/gazelab/eyewindow/internal/config"
	"github.com/gazelab/eyewindow/internal/db"
	"github.com/gazelab/eyewindow/internal/fsutil"
	"github.com/gazelab/eyewindow/internal/pipeline"
	"github.com/gazelab/eyewindow/internal/store"
	"github.com/gazelab/eyewindow/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Aggregation configuration file (.json, .yaml or .yml)")
	force       = flag.Bool("force", false, "Recompute feature tables even when cached")
	noDB        = flag.Bool("no-db", false, "Skip the SQLite run ledger and corpus table")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [migrate up|down|version]\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println("eyewindow", version.String())
		return
	}

	cfg, err := config.LoadAggregationConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *force {
		cfg.ForceRecompute = force
	}

	if args := flag.Args(); len(args) > 0 {
		if args[0] != "migrate" || len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if err := migrateCommand(cfg.GetDatabasePath(), args[1]); err != nil {
			log.Fatalf("migrate %s: %v", args[1], err)
		}
		return
	}

	report, err := run(cfg, fsutil.OSFileSystem{}, !*noDB)
	if err != nil {
		log.Fatalf("Aggregation failed: %v", err)
	}
	if failed := report.Failed(); len(failed) > 0 {
		log.Printf("%d proband table(s) failed", len(failed))
	}
	if incomplete := report.Incomplete(); len(incomplete) > 0 {
		log.Printf("%d proband table(s) miss failed windows", len(incomplete))
	}
}

// run aggregates every configured proband. With ledger set the run and the
// corpus are also recorded in the configured database.
func run(cfg *config.AggregationConfig, fsys fsutil.FileSystem, ledger bool) (*pipeline.Report, error) {
	src := &pipeline.FileSource{
		FS:        fsys,
		Root:      cfg.GetDataDirectory(),
		Codebooks: cfg.Codebooks(),
		Location:  cfg.GetLocation(),
	}
	p, err := pipeline.New(cfg, src, store.New(fsys, cfg.GetOutputDirectory()), fsys)
	if err != nil {
		return nil, err
	}

	if ledger {
		if err := fsys.MkdirAll(filepath.Dir(cfg.GetDatabasePath()), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		database, err := db.NewDB(cfg.GetDatabasePath())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		p.DB = database
	}

	return p.Run()
}

func migrateCommand(path, action string) error {
	database, err := db.OpenDB(path)
	if err != nil {
		return err
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	v, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d (dirty: %v)\n", v, dirty)
	return nil
}
