// Package engine is the supervisor: it owns the backing image, the cache,
// the scheduler, the ring log, and the worker pool, and serves the control
// socket the CLI talks to.
package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/swaplab/swapd/internal/compress"
	"github.com/swaplab/swapd/internal/config"
	"github.com/swaplab/swapd/internal/hotstats"
	"github.com/swaplab/swapd/internal/pagecache"
	"github.com/swaplab/swapd/internal/ringlog"
	"github.com/swaplab/swapd/internal/sched"
	"github.com/swaplab/swapd/internal/worker"
)

// Options tweak engine construction beyond the config file.
type Options struct {
	// SocketPath overrides the control socket location (tests).
	SocketPath string

	// DisableControl skips the control socket entirely (tests).
	DisableControl bool
}

// Engine wires every component together and supervises the worker pool.
type Engine struct {
	cfg  *config.Config
	opts Options
	logg *log.Entry

	file  *os.File
	cache *pagecache.Cache
	sch   *sched.Scheduler
	ring  *ringlog.Ring
	codec *compress.Codec
	hot   *hotstats.Table

	workers []*worker.Worker
	started time.Time
	cancel  context.CancelFunc
}

// New validates cfg, opens the backing image, and builds every component.
// A missing image or invalid config is fatal: the caller exits nonzero.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logg := log.WithField("component", "engine")

	file, err := os.OpenFile(cfg.ImagePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening swap image %s: %w", cfg.ImagePath, err)
	}
	warmImage(file, int64(cfg.ImageBytes()))

	codec, err := compress.NewCodec(pagecache.PageSize, cfg.CompressionMinLevel, cfg.CompressionMaxLevel)
	if err != nil {
		file.Close()
		return nil, err
	}

	cache, err := pagecache.New(pagecache.Config{
		File:       file,
		MaxEntries: cfg.MaxCacheEntries,
		Decode:     codec.DecodeSlotInPlace,
	})
	if err != nil {
		file.Close()
		return nil, err
	}

	ring, err := ringlog.New(cfg.RingBytes(), pagecache.PageSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	e := &Engine{
		cfg:   cfg,
		opts:  opts,
		logg:  logg,
		file:  file,
		cache: cache,
		sch:   sched.New(cfg.Cores, cfg.MigrationThreshold),
		ring:  ring,
		codec: codec,
		hot:   hotstats.New(pagecache.PageSize),
	}

	prefetch := new(singleflight.Group)
	for id := 0; id < cfg.Cores; id++ {
		picker := compress.NewLevelPicker(pagecache.PageSize, cfg.CompressionMinLevel, cfg.CompressionMaxLevel)
		w := worker.New(worker.Config{
			ID:           id,
			File:         file,
			Cache:        cache,
			Sched:        e.sch,
			Ring:         ring,
			Codec:        codec,
			Stats:        e.hot,
			Prefetch:     prefetch,
			SegmentBase:  uint64(id) * cfg.SegmentBytes(),
			SegmentLen:   cfg.SegmentBytes(),
			ImageBytes:   cfg.ImageBytes(),
			BaseDelay:    cfg.BaseDelay(),
			MutatePasses: cfg.MutatePasses,
		}, picker)
		e.workers = append(e.workers, w)
	}

	return e, nil
}

// Run spawns the workers and the control socket and blocks until the
// context is cancelled or a stop request arrives. Shutdown joins every
// worker, flushes the cache, and closes the image.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()

	e.started = time.Now()
	e.logg.WithFields(log.Fields{
		"image":   e.cfg.ImagePath,
		"cores":   e.cfg.Cores,
		"segment": e.cfg.SegmentBytes(),
	}).Info("engine starting")

	var listener net.Listener
	if !e.opts.DisableControl {
		var err error
		listener, err = e.listenControl()
		if err != nil {
			e.closeAll()
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range e.workers {
		w := w
		g.Go(func() error { return w.Run(ctx) })
	}
	if listener != nil {
		g.Go(func() error { return e.serveControl(ctx, listener) })
	}

	err := g.Wait()

	e.logg.Info("engine stopping, flushing cache")
	e.closeAll()
	e.logg.Info("engine stopped")
	return err
}

// Stop requests a cooperative shutdown.
func (e *Engine) Stop() {
	for _, w := range e.workers {
		w.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
}

// closeAll flushes dirty pages, drops the cache, and closes the image.
func (e *Engine) closeAll() {
	e.cache.Close()
	if err := e.file.Close(); err != nil {
		e.logg.WithField("error", err).Warn("closing swap image")
	}
}

// Status assembles a point-in-time view for the control socket and tests.
func (e *Engine) Status() *Status {
	st := &Status{
		PID:           os.Getpid(),
		UptimeSeconds: int(time.Since(e.started).Seconds()),
		ImagePath:     e.cfg.ImagePath,
		Cores:         e.cfg.Cores,
		Cache:         e.cache.Stats(),
		Migrations:    e.sch.Migrations(),
		RingAppends:   e.ring.Appends(),
		RingOverflows: e.ring.Overflows(),
	}
	counts := e.sch.Counts()
	for _, w := range e.workers {
		st.Workers = append(st.Workers, WorkerStatus{
			ID:         w.ID(),
			Iterations: w.Iterations(),
			Errors:     w.Errors(),
			QueueLen:   counts[w.ID()],
		})
	}
	return st
}

func (e *Engine) socketPath() string {
	if e.opts.SocketPath != "" {
		return e.opts.SocketPath
	}
	return config.SocketPath()
}

func (e *Engine) listenControl() (net.Listener, error) {
	if e.opts.SocketPath == "" {
		if err := config.EnsureRunDir(); err != nil {
			return nil, fmt.Errorf("creating run dir: %w", err)
		}
	}
	path := e.socketPath()
	os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	e.logg.WithField("socket", path).Info("control socket listening")
	return listener, nil
}

// serveControl accepts control connections until the context ends. Each
// connection carries one newline-delimited JSON request.
func (e *Engine) serveControl(ctx context.Context, listener net.Listener) error {
	defer os.Remove(e.socketPath())

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logg.WithField("error", err).Warn("control accept failed")
			continue
		}
		e.handleControl(conn)
	}
}

func (e *Engine) handleControl(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		e.reply(conn, &Response{Type: "error", Error: "bad request"})
		return
	}

	switch req.Type {
	case "status":
		e.reply(conn, &Response{Type: "status", Status: e.Status()})
	case "stop":
		e.reply(conn, &Response{Type: "ok"})
		e.logg.Info("stop requested over control socket")
		e.Stop()
	default:
		e.reply(conn, &Response{Type: "error", Error: "unknown request type: " + req.Type})
	}
}

func (e *Engine) reply(conn net.Conn, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	conn.Write(append(data, '\n'))
}
