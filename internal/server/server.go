package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	l "github.com/sirupsen/logrus"

	"gitlab.com/mipimipi/cdscore/internal/autoscan"
	"gitlab.com/mipimipi/cdscore/internal/cds"
	"gitlab.com/mipimipi/cdscore/internal/config"
	"gitlab.com/mipimipi/cdscore/internal/database"
	"gitlab.com/mipimipi/cdscore/internal/didl"
	"gitlab.com/mipimipi/cdscore/internal/importsvc"
	"gitlab.com/mipimipi/cdscore/internal/inotify"
	"gitlab.com/mipimipi/cdscore/internal/layout"
	"gitlab.com/mipimipi/cdscore/internal/metadata"
	"gitlab.com/mipimipi/cdscore/internal/orchestrator"
	"gitlab.com/mipimipi/cdscore/internal/task"
	"gitlab.com/mipimipi/cdscore/internal/timer"
	"gitlab.com/mipimipi/cdscore/internal/update"
	"gitlab.com/mipimipi/cdscore/internal/upnp"
)

var log *l.Entry = l.WithFields(l.Fields{"srv": "server"})

// Run assembles the content management core and the UPnP layer around it
// and drives the main control loop. version is used to build the server
// string.
func Run(version string) (err error) {
	// read and validate configuration
	var cfg config.Cfg
	if cfg, err = config.Load(); err != nil {
		err = errors.Wrap(err, "cannot run cdscore")
		return
	}
	if err = cfg.Validate(); err != nil {
		err = errors.Wrap(err, "cannot run cdscore")
		return
	}

	// set up logging: no log entries possible before this statement!
	if err = setupLogging(cfg.LogDir, cfg.LogLevel); err != nil {
		err = errors.Wrap(err, "cannot run cdscore")
		return
	}

	log.Trace("running ...")

	// create root context
	ctx := context.WithValue(context.Background(), config.KeyCfg, cfg)
	ctx = context.WithValue(ctx, config.KeyVersion, version)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// assemble the core collaborators
	db := database.NewMemory()

	meta := metadata.New()
	meta.CaseSensitiveTags = cfg.Import.CaseSensitiveTags

	imports := importsvc.New(db, buildMimeMap(cfg), meta, buildImportConfig(cfg))
	imports.SetPlaylistParser(playlistParser{})

	engine := task.New()
	registry := autoscan.NewRegistry()

	upnpSrv, err := upnp.New(ctx, db, buildRenderer(cfg, db), meta)
	if err != nil {
		err = errors.Wrap(err, "cannot run cdscore")
		return
	}

	// a fatal error on the increment path leaves subscribers with a stale
	// catalog; terminate rather than keep serving it
	aggregator := update.New(db.IncrementUpdateIDs, upnpSrv, func(err error) {
		log.Error(&cds.DatabaseFatalError{Op: "incrementUpdateIDs", Err: err})
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	})

	orch := orchestrator.New(db, engine, imports, registry, aggregator, nil, buildLayout(cfg), cfg.Import.RootPath)
	orch.SetClock(timer.New(ctx))
	watcher := inotify.New(orch)
	orch.SetMonitor(watcher)

	var wg sync.WaitGroup

	wg.Add(1)
	go engine.Run(ctx, &wg)
	wg.Add(1)
	go aggregator.Run(&wg)
	wg.Add(1)
	go watcher.Run(ctx, &wg)
	wg.Add(1)
	go upnpSrv.Run(ctx, &wg)

	// restore persisted autoscans, then install the configured ones
	if err = orch.LoadAutoscans(); err != nil {
		err = errors.Wrap(err, "cannot run cdscore")
		cancel()
		return
	}
	installConfiguredAutoscans(orch, cfg)

	// initial import of the content root
	if _, err = orch.AddFile(cfg.Import.RootPath, orchestrator.AddFileOptions{
		Recursive:      true,
		FollowSymlinks: cfg.Import.FollowSymlinks,
		Hidden:         cfg.Import.HiddenFiles,
		NoMediaFile:    cfg.Import.NoMediaFile,
		Async:          true,
		Cancellable:    true,
	}); err != nil {
		err = errors.Wrap(err, "cannot run cdscore")
		cancel()
		return
	}

	// preparation to receive OS signals (e.g. from 'systemctl stop ...')
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	// connect UPnP server
	if err = upnpSrv.Connect(ctx); err != nil {
		err = errors.Wrap(err, "cannot run cdscore")
		cancel()
		return
	}

	// main control loop
	wg.Add(1)
	go func(wg *sync.WaitGroup) {
		defer wg.Done()

		for {
			select {
			case sig := <-interrupt:
				// termination signal from OS received: stop processing
				log.Tracef("signal received: %v", sig)
				log.Trace("stopping ...")
				engine.Shutdown()
				aggregator.Shutdown()
				cancel()
				log.Trace("stopped")
				return

			case err := <-upnpSrv.Errors():
				// error received from UPnP: stop processing
				log.Tracef("UPnP error received: %v", err)
				log.Trace("stopping ...")
				engine.Shutdown()
				aggregator.Shutdown()
				cancel()
				log.Trace("stopped")
				return

			case err := <-engine.Errors():
				// task errors are logged and processing continues
				log.Error(err)
			}
		}
	}(&wg)

	wg.Wait()

	return
}

// installConfiguredAutoscans registers the autoscans from the configuration
// that are not already known from a previous run.
func installConfiguredAutoscans(orch *orchestrator.Orchestrator, cfg config.Cfg) {
	install := func(entries []config.Autoscan, mode autoscan.Mode) {
		for _, entry := range entries {
			adir := autoscan.NewDirectory(entry.Location, mode)
			adir.Recursive = entry.Recursive
			adir.Hidden = entry.Hidden
			adir.FollowSymlinks = entry.FollowSymlinks
			adir.IntervalSeconds = entry.IntervalSeconds
			adir.Persistent = entry.Persistent
			if err := orch.SetAutoscanDirectory(adir); err != nil {
				log.Error(errors.Wrapf(err, "cannot install autoscan for '%s'", entry.Location))
			}
		}
	}
	install(cfg.Import.AutoscanTimed, autoscan.ModeTimed)
	if cfg.Import.AutoscanUseInotify {
		install(cfg.Import.AutoscanInotify, autoscan.ModeINotify)
	}
}

// buildImportConfig converts the configuration surface into the import
// service's own options.
func buildImportConfig(cfg config.Cfg) importsvc.Config {
	var mappings []importsvc.LayoutRegex
	for _, lm := range cfg.Import.LayoutMapping {
		re, err := regexp.Compile(lm.From)
		if err != nil {
			// validated at startup; a broken pattern here is a programming error
			log.Errorf("skipping layout mapping '%s': %v", lm.From, err)
			continue
		}
		mappings = append(mappings, importsvc.LayoutRegex{Pattern: re, Replacement: lm.To})
	}
	return importsvc.Config{
		ReadableNames:             cfg.Import.ReadableNames,
		DefaultDate:               cfg.Import.DefaultDate,
		ContainerImageParentCount: cfg.Import.ContainerArtParentCount,
		ContainerImageMinDepth:    cfg.Import.ContainerArtMinDepth,
		VirtualDirectoryKeys:      cfg.Import.VirtualDirectoryKeys,
		LayoutMapping:             mappings,
	}
}

// buildMimeMap converts the configured mimetype mappings into the import
// service's classification map.
func buildMimeMap(cfg config.Cfg) *importsvc.MimeMap {
	m := importsvc.NewMimeMap()
	for _, entry := range cfg.Import.MimetypeUpnpClass {
		var filters []importsvc.Filter
		for _, f := range entry.Filters {
			filters = append(filters, importsvc.Filter{Field: f.Field, Op: filterOp(f.Op), Value: f.Value})
		}
		m.UpnpMap = append(m.UpnpMap, importsvc.UpnpMapEntry{
			MimePrefix: entry.Mime,
			UpnpClass:  entry.Class,
			Filters:    filters,
		})
	}
	return m
}

func filterOp(op string) importsvc.FilterOp {
	switch op {
	case "!=":
		return importsvc.FilterNE
	case "<":
		return importsvc.FilterLT
	case ">":
		return importsvc.FilterGT
	default:
		return importsvc.FilterEQ
	}
}

// buildLayout selects the virtual layout engine per configuration.
func buildLayout(cfg config.Cfg) layout.Layout {
	switch cfg.Import.VirtualLayoutType {
	case "none":
		return nil
	case "js":
		// no embedded script runtime is wired in; the builtin rules are the
		// fallback so a misconfigured system still gets a virtual tree
		log.Warn("virtual_layout_type 'js' has no script runtime, using builtin layout")
	}
	b := layout.NewBuiltin()
	if cfg.Import.StructuredBoxType > 0 {
		sep := cfg.Import.BoxSeparator
		if sep == "" {
			sep = "-"
		}
		return layout.NewStructured(b, cfg.Import.StructuredBoxType, sep)
	}
	return b
}

// buildRenderer assembles the DIDL renderer from the configuration.
func buildRenderer(cfg config.Cfg, db database.Database) *didl.Renderer {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	var profiles []didl.TranscodingProfile
	for _, p := range cfg.Transcoding {
		profiles = append(profiles, didl.TranscodingProfile{
			Name:               p.Name,
			SourceMimePrefix:   p.SourceMimePrefix,
			SourceDlnaProfile:  p.SourceDlnaProfile,
			TargetMime:         p.TargetMime,
			TargetDlnaProfile:  p.TargetDlnaProfile,
			FirstResource:      p.FirstResource,
			HideOriginal:       p.HideOriginal,
			TranscodesTimeline: p.TranscodesTimeline,
		})
	}
	return &didl.Renderer{
		VirtualURL:      fmt.Sprintf("http://%s:%d", host, cfg.UPnP.Port),
		OrderedHandlers: handlerOrder(cfg.Import.ResourcesOrder),
		DlnaProfiles:    cfg.Import.ContenttypeDlna,
		Profiles:        profiles,
		Loader:          db.LoadObject,
	}
}

func handlerOrder(names []string) []cds.HandlerType {
	var out []cds.HandlerType
	for _, name := range names {
		if h, ok := handlerNames[name]; ok {
			out = append(out, h)
		}
	}
	return out
}

var handlerNames = map[string]cds.HandlerType{
	"libexif":           cds.HandlerLibExif,
	"id3":               cds.HandlerID3,
	"transcode":         cds.HandlerTranscode,
	"exturl":            cds.HandlerExtURL,
	"containerart":      cds.HandlerContainerArt,
	"ffmpegthumbnailer": cds.HandlerFFmpegThumbnailer,
	"subtitle":          cds.HandlerSubtitle,
}

// playlistParser adapts the metadata package's m3u parser to the import
// service's collaborator interface.
type playlistParser struct{}

func (playlistParser) Parse(path string) ([]importsvc.PlaylistEntry, error) {
	entries, err := metadata.ParsePlaylist(path)
	if err != nil {
		return nil, err
	}
	out := make([]importsvc.PlaylistEntry, len(entries))
	for i, e := range entries {
		out[i] = importsvc.PlaylistEntry{Path: e.Path, Title: e.Title}
	}
	return out, nil
}
