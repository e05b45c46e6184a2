// Command syncengined wires the engine's internal components together and
// runs the download worker until signalled. It is infrastructure plumbing,
// not a CLI surface for sync settings: authentication and the concrete RPC
// transport are external collaborators this binary does not implement (see
// RemoteClient below), so it is meant to be embedded or forked by a real
// client rather than run standalone against a live account.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/syncengine/internal/config"
	"github.com/tonimelisma/syncengine/internal/downloader"
	"github.com/tonimelisma/syncengine/internal/pathresolve"
	"github.com/tonimelisma/syncengine/internal/rangeplan"
	"github.com/tonimelisma/syncengine/internal/storage"
)

var flagConfigPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

func exitOnError(err error) {
	fmt.Fprintln(os.Stderr, "syncengined:", err)
	os.Exit(1)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "syncengined",
		Short:         "Runs the local-synchronization engine's download worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", config.DefaultConfigPath(), "path to the TOML config file")

	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(flagConfigPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := storage.Open(ctx, config.DefaultStatePath(), logger)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()

	syncRoots, roots := assignSyncIDs(cfg.SyncRoots)
	resolver := pathresolve.New(db, roots)
	_ = syncRoots // available to callers that need the name->id mapping

	dlCfg, err := downloader.ParseConfig(cfg.Transfers, cfg.Admission)
	if err != nil {
		return fmt.Errorf("parsing transfer/admission config: %w", err)
	}

	w := downloader.New(
		db,
		resolver,
		&unimplementedRemote{},
		&logEventSink{logger: logger},
		noopScanController{},
		alwaysReadyGate{},
		nil, // P2P accelerator: optional, disabled by default
		dlCfg,
		logger,
	)

	logger.Info("syncengined starting", slog.Int("sync_roots", len(roots)))

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("download worker: %w", err)
	}

	logger.Info("syncengined stopped")

	return nil
}

// assignSyncIDs assigns each configured sync root a stable int64 syncid by
// sorting the TOML section names; the resulting mapping is what the Local-
// path Resolver and the persistent task/folder/file tables key on.
func assignSyncIDs(roots map[string]config.SyncRootConfig) (map[string]int64, map[int64]config.SyncRootConfig) {
	names := make([]string, 0, len(roots))
	for name := range roots {
		names = append(names, name)
	}
	sort.Strings(names)

	byName := make(map[string]int64, len(names))
	byID := make(map[int64]config.SyncRootConfig, len(names))
	for i, name := range names {
		id := int64(i + 1)
		byName[name] = id
		byID[id] = roots[name]
	}

	return byName, byID
}

// unimplementedRemote satisfies downloader.RemoteClient so the binary links
// and starts without a transport wired in. A deployment embedding this
// daemon replaces it with a client speaking the real authenticated RPC
// protocol (see SPEC_FULL's external-collaborator boundary).
type unimplementedRemote struct{}

var errNoTransport = errors.New("syncengined: no RemoteClient wired in; run embedded with a real transport")

func (unimplementedRemote) FetchFileMetadata(context.Context, int64) (string, int64, error) {
	return "", 0, errNoTransport
}

func (unimplementedRemote) GetFileLink(context.Context, int64) ([]string, string, error) {
	return nil, "", errNoTransport
}

func (unimplementedRemote) BlockHashes(context.Context, int64, int64) ([]rangeplan.BlockHash, error) {
	return nil, errNoTransport
}

func (unimplementedRemote) FetchRange(context.Context, string, string, int64, int64) (downloader.ReadCloser, error) {
	return nil, errNoTransport
}

func (unimplementedRemote) IsRevisionOf(context.Context, int64, string) (bool, error) {
	return false, errNoTransport
}

// logEventSink publishes engine events as structured log lines; a real
// deployment swaps this for its status bus.
type logEventSink struct {
	logger *slog.Logger
}

func (s *logEventSink) Publish(e downloader.Event) {
	s.logger.Info("engine event",
		slog.Int("kind", int(e.Kind)),
		slog.Int64("syncid", e.SyncID),
		slog.String("path", e.Path),
		slog.Int64("remoteid", e.RemoteID),
		slog.String("name", e.Name),
	)
}

// noopScanController stands in for the out-of-band local-change scanner,
// which is an external collaborator outside this module's scope.
type noopScanController struct{}

func (noopScanController) Stop()   {}
func (noopScanController) Resume() {}
func (noopScanController) Wake()   {}

// alwaysReadyGate reports the engine as always authenticated, running, and
// online; a real deployment wires this to its auth/pause/connectivity state.
type alwaysReadyGate struct{}

func (alwaysReadyGate) Wait(context.Context) error { return nil }
func (alwaysReadyGate) Met() bool                  { return true }
