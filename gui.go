package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"NcmTools/internal/batch"
	"NcmTools/internal/config"
	"NcmTools/ncm"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"
)

// GUI represents the GUI application
type GUI struct {
	app     fyne.App
	window  fyne.Window
	cfg     config.Config
	log     *logrus.Logger
	decoder *ncm.Decoder

	inputPath string   // file or folder currently loaded
	allFiles  []string // containers found under inputPath
	files     []string // allFiles after the search filter
	outputDir string

	fileList        *widget.List
	detailsView     *widget.Label
	coverBox        *fyne.Container
	searchEntry     *widget.Entry
	statusBar       *widget.Label
	sourceInfo      *widget.Label
	progress        *widget.ProgressBar
	decodeButton    *widget.Button
	decodeAllButton *widget.Button
	selectedID      int // Stores the currently selected item ID
}

// NewGUI creates a new GUI
func NewGUI(initialPath string, cfg config.Config, log *logrus.Logger) *GUI {
	app := app.New()
	app.Settings().SetTheme(theme.DarkTheme())
	window := app.NewWindow("NCM Tools")
	window.Resize(fyne.NewSize(900, 600))

	return &GUI{
		app:        app,
		window:     window,
		cfg:        cfg,
		log:        log,
		decoder:    newDecoder(cfg, log),
		inputPath:  initialPath,
		outputDir:  cfg.Output,
		selectedID: -1,
	}
}

// Run starts the GUI
func (g *GUI) Run() {
	openFileButton := widget.NewButtonWithIcon("Open .ncm File", theme.FileIcon(), func() {
		fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
			if err != nil {
				dialog.ShowError(err, g.window)
				return
			}
			if reader == nil {
				return // User cancelled
			}
			reader.Close()
			g.load(localPath(reader.URI()))
		}, g.window)
		fd.SetFilter(storage.NewExtensionFileFilter([]string{".ncm", ".NCM"}))
		fd.Show()
	})

	openFolderButton := widget.NewButtonWithIcon("Open Folder", theme.FolderOpenIcon(), func() {
		dialog.NewFolderOpen(func(uri fyne.ListableURI, err error) {
			if err != nil {
				dialog.ShowError(err, g.window)
				return
			}
			if uri == nil {
				return // User cancelled
			}
			g.load(localPath(uri))
		}, g.window).Show()
	})

	outputButton := widget.NewButtonWithIcon("Output Folder", theme.FolderIcon(), func() {
		g.chooseOutputDir(nil)
	})

	// Search field
	g.searchEntry = widget.NewEntry()
	g.searchEntry.SetPlaceHolder("Search files...")
	g.searchEntry.OnChanged = func(text string) {
		g.filterFileList(text)
	}

	g.statusBar = widget.NewLabel("Welcome to NCM Tools")
	g.progress = widget.NewProgressBar()

	g.sourceInfo = widget.NewLabel("No file or folder loaded")
	g.sourceInfo.Wrapping = fyne.TextWrapWord

	g.fileList = widget.NewList(
		func() int { return len(g.files) },
		func() fyne.CanvasObject {
			return widget.NewLabel("Template")
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			if id < len(g.files) {
				obj.(*widget.Label).SetText(g.displayName(g.files[id]))
			}
		},
	)

	g.detailsView = widget.NewLabel("Select a file to view details")
	g.detailsView.Wrapping = fyne.TextWrapWord
	g.coverBox = container.NewStack()

	g.decodeButton = widget.NewButtonWithIcon("Decode Selected", theme.DownloadIcon(), func() {
		selected := g.selectedID
		if selected < 0 || selected >= len(g.files) {
			dialog.ShowInformation("Error", "Please select a file to decode", g.window)
			return
		}
		path := g.files[selected]
		g.chooseOutputDir(func() { g.decode([]string{path}) })
	})
	g.decodeButton.Disable()

	g.decodeAllButton = widget.NewButtonWithIcon("Decode All", theme.DownloadIcon(), func() {
		if len(g.files) == 0 {
			dialog.ShowInformation("Error", "Please open a file or folder first", g.window)
			return
		}
		files := append([]string(nil), g.files...)
		g.chooseOutputDir(func() { g.decode(files) })
	})
	g.decodeAllButton.Disable()

	g.fileList.OnSelected = func(id widget.ListItemID) {
		if id < len(g.files) {
			g.selectedID = int(id)
			g.showFileDetails(g.files[id])
			g.decodeButton.Enable()
		}
	}

	// Layout
	fileControls := container.NewHBox(
		openFileButton,
		openFolderButton,
		outputButton,
	)

	searchContainer := container.NewBorder(
		nil, nil,
		widget.NewIcon(theme.SearchIcon()), nil,
		g.searchEntry,
	)

	actionButtons := container.NewHBox(
		g.decodeButton,
		g.decodeAllButton,
	)

	leftPanel := container.NewBorder(
		container.NewVBox(
			searchContainer,
			widget.NewSeparator(),
		),
		nil, nil, nil,
		g.fileList,
	)

	rightPanel := container.NewBorder(
		g.sourceInfo,
		container.NewVBox(g.progress, actionButtons),
		nil, nil,
		container.NewVScroll(container.NewVBox(g.coverBox, g.detailsView)),
	)

	content := container.NewBorder(
		fileControls,
		g.statusBar,
		nil, nil,
		container.NewHSplit(
			leftPanel,
			rightPanel,
		),
	)
	g.window.SetContent(content)

	if g.inputPath != "" {
		initial := g.inputPath
		go g.load(initial)
	}

	g.window.ShowAndRun()
}

// localPath converts a dialog URI to a path on disk
func localPath(uri fyne.URI) string {
	path := uri.Path()
	if runtime.GOOS == "windows" {
		path = filepath.FromSlash(strings.TrimPrefix(path, "/"))
	}
	return path
}

// load scans a file or folder for containers and populates the list
func (g *GUI) load(path string) {
	fyne.Do(func() { g.statusBar.SetText(fmt.Sprintf("Loading %s...", path)) })

	files, err := batch.Collect(path, g.cfg.PatternRegexp(), g.cfg.Recursive)
	if err != nil {
		g.showError(err.Error())
		return
	}

	fyne.Do(func() {
		g.inputPath = path
		g.allFiles = files
		g.files = files
		g.searchEntry.SetText("")
		g.selectedID = -1
		g.fileList.UnselectAll()
		g.fileList.Refresh()

		g.sourceInfo.SetText(fmt.Sprintf("Source: %s\nContainers: %d\nOutput: %s",
			path, len(files), g.outputDir))
		g.decodeButton.Disable()
		if len(files) > 0 {
			g.decodeAllButton.Enable()
		} else {
			g.decodeAllButton.Disable()
		}
		g.statusBar.SetText(fmt.Sprintf("Loaded %s with %d files", filepath.Base(path), len(files)))
	})
}

// displayName is the list label of a container, relative to the loaded folder
func (g *GUI) displayName(path string) string {
	if rel, err := filepath.Rel(g.inputPath, path); err == nil && rel != "." {
		return rel
	}
	return filepath.Base(path)
}

// showFileDetails displays the metadata and cover of a container
func (g *GUI) showFileDetails(path string) {
	info, err := g.decoder.Inspect(path)
	if err != nil {
		g.coverBox.Objects = nil
		g.coverBox.Refresh()
		g.detailsView.SetText(fmt.Sprintf("File: %s\n\nUnable to read container:\n%v", filepath.Base(path), err))
		return
	}

	meta := info.Metadata
	g.detailsView.SetText(fmt.Sprintf(
		"File: %s\nTitle: %s\nArtists: %s\nAlbum: %s\nFormat: %s\nBitrate: %d kbps\nDuration: %s\nAudio: %.2f MB",
		filepath.Base(path),
		meta.MusicName,
		strings.Join(meta.Artists, ", "),
		meta.Album,
		meta.Format,
		meta.Bitrate/1000,
		(time.Duration(meta.Duration) * time.Millisecond).Round(time.Second),
		float64(info.PayloadSize)/1024/1024,
	))

	g.coverBox.Objects = nil
	if len(info.Cover) > 0 {
		img := canvas.NewImageFromReader(bytes.NewReader(info.Cover), filepath.Base(path))
		img.FillMode = canvas.ImageFillContain
		img.SetMinSize(fyne.NewSize(180, 180))
		g.coverBox.Objects = []fyne.CanvasObject{img}
	}
	g.coverBox.Refresh()
}

// filterFileList filters the file list based on search text
func (g *GUI) filterFileList(searchText string) {
	if searchText == "" {
		g.files = g.allFiles
	} else {
		regex, err := regexp.Compile("(?i)" + regexp.QuoteMeta(searchText))
		if err != nil {
			return
		}
		filtered := make([]string, 0)
		for _, path := range g.allFiles {
			if regex.MatchString(g.displayName(path)) {
				filtered = append(filtered, path)
			}
		}
		g.files = filtered
	}

	g.fileList.UnselectAll()
	g.fileList.Refresh()
	g.selectedID = -1
	g.decodeButton.Disable()
	g.statusBar.SetText(fmt.Sprintf("Found %d matching files", len(g.files)))
}

// chooseOutputDir asks for the output folder, then calls next. With an
// output folder already set, next runs straight away.
func (g *GUI) chooseOutputDir(next func()) {
	if g.outputDir != "" && next != nil {
		next()
		return
	}

	dialog.NewFolderOpen(func(uri fyne.ListableURI, err error) {
		if err != nil {
			dialog.ShowError(err, g.window)
			return
		}
		if uri == nil {
			return // User cancelled
		}
		g.outputDir = localPath(uri)
		g.statusBar.SetText(fmt.Sprintf("Output directory set to: %s", g.outputDir))
		if next != nil {
			next()
		}
	}, g.window).Show()
}

// decode runs a batch in the background and reports progress
func (g *GUI) decode(files []string) {
	root := ""
	if stat, err := os.Stat(g.inputPath); err == nil && stat.IsDir() && g.cfg.Recursive {
		root = g.inputPath
	}
	outputDir := g.outputDir
	total := len(files)

	g.decodeButton.Disable()
	g.decodeAllButton.Disable()
	g.progress.SetValue(0)
	g.statusBar.SetText(fmt.Sprintf("Decoding %d files...", total))

	go func() {
		done := 0
		report, err := batch.Run(context.Background(), g.decoder, files, outputDir, batch.Options{
			Workers:  g.cfg.Workers,
			FailFast: g.cfg.FailFast,
			Root:     root,
			Logger:   g.log,
			OnDone: func(path string, _ *ncm.Result, _ error) {
				done++
				n := done
				fyne.Do(func() {
					g.progress.SetValue(float64(n) / float64(total))
					g.statusBar.SetText(fmt.Sprintf("Decoded %s (%d/%d)", filepath.Base(path), n, total))
				})
			},
		})

		fyne.Do(func() {
			g.decodeAllButton.Enable()
			if g.selectedID >= 0 {
				g.decodeButton.Enable()
			}
		})

		if err != nil {
			g.showError(fmt.Sprintf("Error during decoding: %v", err))
			return
		}
		if len(report.Failed) > 0 {
			var msg strings.Builder
			fmt.Fprintf(&msg, "%d of %d files failed:\n", len(report.Failed), total)
			for _, f := range report.Failed {
				fmt.Fprintf(&msg, "%s: %v\n", filepath.Base(f.Path), f.Err)
			}
			g.showError(msg.String())
			return
		}

		fyne.Do(func() {
			g.statusBar.SetText(fmt.Sprintf("Successfully decoded %d files to %s", len(report.Decoded), outputDir))
		})
	}()
}

// showError displays an error dialog
func (g *GUI) showError(message string) {
	g.log.Warn(message)
	fyne.Do(func() {
		g.statusBar.SetText("Error: " + message)
		dialog.ShowError(fmt.Errorf("%s", message), g.window)
	})
}
