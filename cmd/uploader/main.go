package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"volleystat/config"
	"volleystat/internal/apiclient"
	"volleystat/internal/upload"
	"volleystat/pkg/logger"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const usage = `volleystat uploader - upload a match video through the volleystat API

Usage:
  uploader [flags] <file>

Environment:
  UPLOADER_API_URL, UPLOADER_EMAIL, UPLOADER_PASSWORD, UPLOADER_RETRIES, UPLOAD_CHUNK_SIZE

Flags:
`

func main() {
	flags := pflag.NewFlagSet("uploader", pflag.ExitOnError)
	flags.String("api", "http://localhost:8080", "volleystat API base URL")
	flags.String("email", "", "account email")
	flags.String("password", "", "account password")
	flags.Int64("chunk-size", 0, "tus chunk size in bytes")
	flags.Duration("timeout", 0, "give up after this long (0 waits forever)")
	flags.Int("retries", 2, "restart a transfer that failed on a network error up to this many times")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	v := config.NewViper()
	v.SetDefault("UPLOADER_API_URL", "http://localhost:8080")
	_ = v.BindPFlag("UPLOADER_API_URL", flags.Lookup("api"))
	_ = v.BindPFlag("UPLOADER_EMAIL", flags.Lookup("email"))
	_ = v.BindPFlag("UPLOADER_PASSWORD", flags.Lookup("password"))
	_ = v.BindPFlag("UPLOADER_TIMEOUT", flags.Lookup("timeout"))
	_ = v.BindPFlag("UPLOADER_RETRIES", flags.Lookup("retries"))
	if flags.Changed("chunk-size") {
		_ = v.BindPFlag("UPLOAD_CHUNK_SIZE", flags.Lookup("chunk-size"))
	}
	cfg := config.FromViper(v)

	log := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout := v.GetDuration("UPLOADER_TIMEOUT"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := run(ctx, runConfig{
		APIURL:    v.GetString("UPLOADER_API_URL"),
		Email:     v.GetString("UPLOADER_EMAIL"),
		Password:  v.GetString("UPLOADER_PASSWORD"),
		ChunkSize: cfg.Upload.ChunkSize,
		Retries:   v.GetInt("UPLOADER_RETRIES"),
		Path:      flags.Arg(0),
		Logger:    log,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		os.Exit(1)
	}
}

type runConfig struct {
	APIURL    string
	Email     string
	Password  string
	ChunkSize int64
	Retries   int
	Path      string
	Logger    *logger.Logger
}

func run(ctx context.Context, rc runConfig) error {
	if rc.Email == "" || rc.Password == "" {
		return errors.New("--email and --password (or UPLOADER_EMAIL/UPLOADER_PASSWORD) are required")
	}

	api, err := apiclient.New(rc.APIURL, nil)
	if err != nil {
		return err
	}
	auth, err := api.SignIn(ctx, rc.Email, rc.Password)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s\n", auth.User.Email)

	src, err := upload.OpenFile(rc.Path)
	if err != nil {
		return err
	}

	var listing apiclient.Listing
	refresher := upload.RefresherFunc(func(ctx context.Context) error {
		l, err := api.ListVideos(ctx, 1, 100)
		if err != nil {
			return err
		}
		listing = l
		return nil
	})

	progress := newProgressPrinter()
	orch := upload.NewOrchestrator(api, refresher, upload.Options{
		ID:        uuid.NewString(),
		ChunkSize: rc.ChunkSize,
		Listener:  progress.handle,
		Logger:    rc.Logger,
	})

	if err := orch.Start(ctx, src); err != nil {
		return err
	}

	snap, waitErr := orch.Wait(ctx)
	for attempt := 1; waitErr == nil && snap.Restartable && attempt <= rc.Retries; attempt++ {
		fmt.Printf("\nConnection lost at %d of %d bytes, restarting (%d/%d)\n", snap.Transferred, snap.Total, attempt, rc.Retries)
		if err := orch.Restart(); err != nil {
			_ = orch.Discard()
			return err
		}
		snap, waitErr = orch.Wait(ctx)
	}
	if waitErr != nil {
		// interrupted: stop the transfer, the video record stays in the library
		_ = orch.Cancel()
		snap = orch.Snapshot()
	}
	if snap.Restartable {
		_ = orch.Discard()
	}
	fmt.Println()

	switch snap.State {
	case upload.StateSucceeded:
		fmt.Printf("Uploaded %s as video %s (%d bytes)\n", snap.FileName, snap.VideoID, snap.Total)
	case upload.StateCancelled:
		return fmt.Errorf("cancelled at %d of %d bytes", snap.Transferred, snap.Total)
	default:
		return fmt.Errorf("%s", snap.Error)
	}

	if err := orch.RefreshErr(); err != nil {
		fmt.Printf("Could not reload the library: %v\n", err)
		return nil
	}
	printListing(listing)
	return nil
}

type progressPrinter struct {
	mu          sync.Mutex
	lastPercent int
	lastState   upload.State
	started     time.Time
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{lastPercent: -1, started: time.Now()}
}

// handle runs on the transfer goroutine; it only prints.
func (p *progressPrinter) handle(ev upload.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Type {
	case upload.EventState:
		if ev.State != p.lastState {
			p.lastState = ev.State
			fmt.Printf("\n[%s] %s\n", time.Since(p.started).Truncate(time.Millisecond), strings.ReplaceAll(string(ev.State), "_", " "))
		}
	case upload.EventProgress:
		pct := int(ev.Percent)
		if pct == p.lastPercent {
			return
		}
		p.lastPercent = pct
		fmt.Printf("\r%3d%%  %d / %d bytes", pct, ev.Transferred, ev.Total)
	}
}

func printListing(l apiclient.Listing) {
	fmt.Printf("\nLibrary (%d videos):\n", l.TotalItems)
	for _, v := range l.Items {
		fmt.Printf("  %-36s  %-30s  status=%d\n", v.GUID, v.Title, v.Status)
		if v.SignedHLS != "" {
			fmt.Printf("      hls:   %s\n", v.SignedHLS)
		}
		if v.EmbedURL != "" {
			fmt.Printf("      embed: %s\n", v.EmbedURL)
		}
	}
}
