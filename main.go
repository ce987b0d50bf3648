package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"NcmTools/internal/batch"
	"NcmTools/internal/config"
	"NcmTools/ncm"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// cliOptions are the flags accepted after the command.
type cliOptions struct {
	configPath string
	verbosity  int

	pattern   string
	workers   int
	coverGap  int
	recursive bool
	writeTags bool
	failFast  bool
}

func main() {
	usage := func() {
		name := filepath.Base(os.Args[0])
		fmt.Println("Usage:")
		fmt.Printf("  %s                                 (Launch GUI mode)\n", name)
		fmt.Printf("  %s <input>                         (Launch GUI mode with a file or folder loaded)\n", name)
		fmt.Printf("  %s -gui                            (Launch GUI mode)\n", name)
		fmt.Printf("  %s <input> -info                   (Command line: show container metadata)\n", name)
		fmt.Printf("  %s <input> -decode [output_folder] (Command line: decode to audio files)\n", name)
		fmt.Println("Without an output folder, -decode writes to the config's output (default ./output).")
		fmt.Println("Options:")
		fmt.Println("  -pattern <regexp>   file names to pick up in a folder (default \\.ncm$)")
		fmt.Println("  -workers <n>        files decoded at the same time")
		fmt.Println("  -recursive          descend into subfolders, keeping their structure")
		fmt.Println("  -tag                write title, album, artist and cover into mp3/flac output")
		fmt.Println("  -fail-fast          stop at the first file that fails")
		fmt.Println("  -cover-gap <n>      bytes between the metadata and cover blocks (default 8, most files need 9)")
		fmt.Printf("  -config <file>      YAML config (default %s)\n", config.DefaultPath)
		fmt.Println("  -v, -vv             more logging")
	}

	args := os.Args[1:]

	if len(args) == 0 || (len(args) == 1 && args[0] == "-gui") {
		runGUI("")
		return
	}

	if len(args) == 1 && !strings.HasPrefix(args[0], "-") {
		runGUI(args[0])
		return
	}

	if len(args) < 2 {
		fmt.Println("Error: You must provide an input file or folder and a command for command line operations")
		usage()
		os.Exit(1)
	}

	input := args[0]
	if strings.HasPrefix(input, "-") {
		fmt.Println("Error: First argument must be a file or folder, not a flag")
		usage()
		os.Exit(1)
	}

	command := args[1]
	commandArgs := args[2:]

	switch command {
	case "-info":
		opts, err := parseOptions(commandArgs)
		if err != nil {
			fmt.Println("Error:", err)
			usage()
			os.Exit(1)
		}
		if err := showInfo(input, opts); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

	case "-decode":
		// without a folder the config's output is used
		outputFolder := ""
		if len(commandArgs) > 0 && !strings.HasPrefix(commandArgs[0], "-") {
			outputFolder = commandArgs[0]
			commandArgs = commandArgs[1:]
		}

		opts, err := parseOptions(commandArgs)
		if err != nil {
			fmt.Println("Error:", err)
			usage()
			os.Exit(1)
		}
		if err := decodeAll(input, outputFolder, opts); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

	case "-help", "-h":
		usage()

	default:
		fmt.Printf("Error: Unknown command '%s'. Must be one of -info or -decode\n", command)
		usage()
		os.Exit(1)
	}
}

func parseOptions(args []string) (cliOptions, error) {
	var opts cliOptions

	value := func(i int) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", args[i])
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-config":
			v, err := value(i)
			if err != nil {
				return opts, err
			}
			opts.configPath = v
			i++
		case "-pattern":
			v, err := value(i)
			if err != nil {
				return opts, err
			}
			opts.pattern = v
			i++
		case "-workers":
			v, err := value(i)
			if err != nil {
				return opts, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return opts, fmt.Errorf("invalid worker count '%s'", v)
			}
			opts.workers = n
			i++
		case "-cover-gap":
			v, err := value(i)
			if err != nil {
				return opts, err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return opts, fmt.Errorf("invalid cover gap '%s'", v)
			}
			opts.coverGap = n
			i++
		case "-recursive":
			opts.recursive = true
		case "-tag":
			opts.writeTags = true
		case "-fail-fast":
			opts.failFast = true
		case "-v":
			opts.verbosity++
		case "-vv":
			opts.verbosity += 2
		default:
			return opts, fmt.Errorf("unknown option '%s'", args[i])
		}
	}

	return opts, nil
}

// loadConfig reads the config file and lets command line flags override it.
func loadConfig(opts cliOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}

	if opts.pattern != "" {
		cfg.Pattern = opts.pattern
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.coverGap > 0 {
		cfg.CoverGap = opts.coverGap
	}
	cfg.Recursive = cfg.Recursive || opts.recursive
	cfg.WriteTags = cfg.WriteTags || opts.writeTags
	cfg.FailFast = cfg.FailFast || opts.failFast

	return cfg, cfg.Validate()
}

func newDecoder(cfg config.Config, log *logrus.Logger) *ncm.Decoder {
	profile := ncm.DefaultProfile()
	if cfg.CoverGap > 0 {
		profile.CoverGap = cfg.CoverGap
	}
	return ncm.NewDecoder(ncm.Options{
		Profile:    profile,
		BufferSize: cfg.BufferSize,
		WriteTags:  cfg.WriteTags,
		Logger:     log,
	})
}

// showInfo prints the metadata of every container found at input.
func showInfo(input string, opts cliOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Level(), opts.verbosity)
	dec := newDecoder(cfg, log)

	files, err := batch.Collect(input, cfg.PatternRegexp(), cfg.Recursive)
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range files {
		info, err := dec.Inspect(path)
		if err != nil {
			log.WithField("file", path).WithError(err).Warn("unable to read container")
			failed++
			continue
		}
		printInfo(info)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be read", failed, len(files))
	}
	return nil
}

func printInfo(info *ncm.Info) {
	meta := info.Metadata
	fmt.Printf("%s\n", info.Path)
	fmt.Printf("   format: %s, title: %s, album: %s, artists: %s\n",
		meta.Format, meta.MusicName, meta.Album, strings.Join(meta.Artists, ", "))
	fmt.Printf("   bitrate: %d, duration: %s\n",
		meta.Bitrate, time.Duration(meta.Duration)*time.Millisecond)
	fmt.Printf("   key material: %d bytes, cover: %d bytes, payload: %d bytes at offset %d\n",
		info.KeyMaterialLen, len(info.Cover), info.PayloadSize, info.PayloadOffset)
}

// decodeAll decodes every container found at input into outputFolder, or
// into the configured output when outputFolder is empty.
func decodeAll(input, outputFolder string, opts cliOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	outputFolder = resolveOutput(outputFolder, cfg)
	log := newLogger(cfg.Level(), opts.verbosity)
	dec := newDecoder(cfg, log)

	files, err := batch.Collect(input, cfg.PatternRegexp(), cfg.Recursive)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files matching %s in %s", cfg.Pattern, input)
	}

	root := ""
	if stat, err := os.Stat(input); err == nil && stat.IsDir() && cfg.Recursive {
		root = input
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bar := progressbar.Default(int64(len(files)), "decoding")
	report, err := batch.Run(ctx, dec, files, outputFolder, batch.Options{
		Workers:  cfg.Workers,
		FailFast: cfg.FailFast,
		Root:     root,
		Logger:   log,
		OnDone: func(string, *ncm.Result, error) {
			bar.Add(1)
		},
	})
	bar.Finish()

	fmt.Printf("Decoded %d files to %s", len(report.Decoded), outputFolder)
	if report.Skipped > 0 {
		fmt.Printf(", %d skipped", report.Skipped)
	}
	fmt.Println()
	for _, f := range report.Failed {
		fmt.Printf("   failed: %s: %v\n", f.Path, f.Err)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("interrupted")
	case err != nil:
		return err
	case len(report.Failed) > 0:
		return fmt.Errorf("%d of %d files failed", len(report.Failed), len(files))
	}
	return nil
}

// resolveOutput falls back to the configured output folder.
func resolveOutput(outputFolder string, cfg config.Config) string {
	if outputFolder == "" {
		return cfg.Output
	}
	return outputFolder
}

func runGUI(initialPath string) {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Println(err)
		cfg = config.Default()
	}
	log := newLogger(cfg.Level(), 0)

	gui := NewGUI(initialPath, cfg, log)
	gui.Run()
}
