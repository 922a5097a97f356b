// Package export persists computed statistics to durable artifacts. All disk
// I/O happens on a single long-lived worker fed by a bounded queue, keeping
// the capture and compute paths free of filesystem latency and bounding
// resource use under rapid repeated export requests.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/apmlive/apmlive-go-rewrite/internal/config"
	"github.com/apmlive/apmlive-go-rewrite/internal/stats"
	"github.com/apmlive/apmlive-go-rewrite/internal/telemetry"
)

// Format identifies an export artifact type.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// ErrQueueFull is returned by Submit when the worker cannot keep up; the
// request is rejected rather than silently dropped or run on a new goroutine.
var ErrQueueFull = errors.New("export queue full")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("exporter closed")

// ParseFormats converts config strings to formats, rejecting unknown names.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	for _, n := range names {
		switch Format(n) {
		case FormatText, FormatJSON, FormatPDF:
			out = append(out, Format(n))
		default:
			return nil, fmt.Errorf("unknown export format %q", n)
		}
	}
	return out, nil
}

// request is one unit of work for the export worker.
type request struct {
	stats   stats.Statistics
	formats []Format
}

// HostInfo is the machine metadata stamped into reports.
type HostInfo struct {
	Hostname string `json:"hostname,omitempty"`
	Platform string `json:"platform,omitempty"`
	OS       string `json:"os,omitempty"`
}

// Exporter owns the output files under its data directory. No other
// goroutine writes to those paths.
type Exporter struct {
	dir        string
	textFields config.TextFields
	host       HostInfo

	mu     sync.Mutex
	closed bool
	queue  chan request
	done   chan struct{}
}

// New creates an exporter and starts its worker goroutine.
func New(cfg *config.Config) (*Exporter, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	e := &Exporter{
		dir:        cfg.DataDir,
		textFields: cfg.TextFields,
		host:       collectHostInfo(),
		queue:      make(chan request, cfg.ExportQueueSize),
		done:       make(chan struct{}),
	}
	go e.worker()

	log.Info().Str("dir", e.dir).Int("queueSize", cfg.ExportQueueSize).Msg("Export pipeline started")
	return e, nil
}

// Submit enqueues an export without blocking the caller. A full queue rejects
// the request with ErrQueueFull so callers (and the failure counter) see it.
func (e *Exporter) Submit(s stats.Statistics, formats ...Format) error {
	if len(formats) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	select {
	case e.queue <- request{stats: s, formats: formats}:
		telemetry.ExportQueueDepth.Set(float64(len(e.queue)))
		return nil
	default:
		telemetry.ExportsRejectedTotal.Inc()
		return ErrQueueFull
	}
}

// Close stops accepting requests and drains the queue, bounded by ctx. A
// session stop never cancels in-flight exports; the final statistics are
// usually the ones the user wants on disk.
func (e *Exporter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("export queue not drained: %w", ctx.Err())
	}
}

func (e *Exporter) worker() {
	defer close(e.done)
	for req := range e.queue {
		telemetry.ExportQueueDepth.Set(float64(len(e.queue)))
		for _, f := range req.formats {
			err := e.writeFormat(f, req.stats)
			telemetry.RecordExport(string(f), err)
			if err != nil {
				log.Error().Err(err).Str("format", string(f)).Msg("Export failed")
			}
		}
	}
}

func (e *Exporter) writeFormat(f Format, s stats.Statistics) error {
	switch f {
	case FormatText:
		return e.writeText(s)
	case FormatJSON:
		return e.writeJSON(s)
	case FormatPDF:
		return e.writePDF(s)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// writeAtomic stages content next to the target and renames it into place, so
// a reader of the previous artifact never observes a torn file. Transient
// failures get one retry.
func writeAtomic(path string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(50 * time.Millisecond)
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			lastErr = err
			continue
		}
		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func collectHostInfo() HostInfo {
	info, err := host.Info()
	if err != nil {
		log.Warn().Err(err).Msg("Host metadata unavailable for reports")
		return HostInfo{}
	}
	return HostInfo{
		Hostname: info.Hostname,
		Platform: info.Platform,
		OS:       info.OS,
	}
}
