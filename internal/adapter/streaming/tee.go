// Package streaming implements the Streaming Tee and usage extraction
// (spec §4.8): it relays an upstream response to the client while timing
// reads for idle-timeout detection, applying the CLI-B "/responses"
// drain-grace rule on client disconnect, and parsing SSE usage events as
// they pass through.
//
// Grounded directly on
// internal/adapter/proxy/sherpa/service_streaming.go's timed-read +
// combined-context + post-disconnect drain design: streamState,
// performTimedRead, createCombinedContext and writeData are carried over
// nearly verbatim, generalised to also extract usage via
// github.com/tidwall/gjson as SSE "event: message_stop"/"response.completed"
// frames pass through.
package streaming

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
	"github.com/thushan/olla/pkg/pool"
)

// ClientDisconnectionBytesThreshold bounds how much upstream data is
// drained after a client disconnect before the tee gives up, matching the
// teacher's post-disconnect grace budget.
const ClientDisconnectionBytesThreshold = 64 * 1024

// Config tunes the tee's timing behaviour.
type Config struct {
	ReadTimeout  time.Duration // per-chunk idle timeout (spec §4.8)
	DrainGrace   time.Duration // how long a CLI-B /responses stream may run after client disconnect
	BufferSize   int
	BufferCap    int  // max bytes buffered for a non-stream response before falling back to passthrough (spec §4.7/4.8)
	FixerEnabled bool // response-fixer toggle (spec §4.8's response fixer)
}

// DefaultConfig matches spec §3/§4.8's named defaults.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:  60 * time.Second,
		DrainGrace:   10 * time.Second,
		BufferSize:   32 * 1024,
		BufferCap:    3 * 1024 * 1024,
		FixerEnabled: true,
	}
}

type state struct {
	lastReadTime         time.Time
	totalBytes           int
	readCount            int
	bytesAfterDisconnect int
	clientDisconnected   bool
	completionSeen       bool // saw a message_stop/response.completed marker
	terminalErrorSeen    bool // saw an error/response.failed marker
	usage                domain.Usage
	sseBuf               bytes.Buffer
	settings             []domain.SpecialSetting

	// buffered accumulates a non-stream body for gunzip/fixer/usage
	// processing instead of being relayed chunk-by-chunk; it is nil for
	// event-stream responses and is abandoned (set nil) if the body grows
	// past the configured cap, at which point relaying falls back to
	// direct passthrough of whatever wasn't yet flushed plus every
	// subsequent chunk.
	buffered    *bytes.Buffer
	overBufCap  bool
}

type readResult struct {
	err error
	n   int
}

// Tee implements ports.StreamingTee.
type Tee struct {
	cfg          Config
	log          *slog.Logger
	bufPool      *pool.Pool[[]byte]
	fixerEnabled atomic.Bool // hot-toggleable via SetFixerEnabled (spec §4.7/§9's settings.json)
}

var _ ports.StreamingTee = (*Tee)(nil)

// New builds a Tee. Its relay buffers are pooled since every concurrent
// request allocates and discards one.
func New(cfg Config, log *slog.Logger) *Tee {
	size := cfg.BufferSize
	t := &Tee{cfg: cfg, log: log, bufPool: pool.NewLitePool(func() []byte {
		return make([]byte, size)
	})}
	t.fixerEnabled.Store(cfg.FixerEnabled)
	return t
}

// SetFixerEnabled applies the runtime settings.json response-fixer toggle.
func (t *Tee) SetFixerEnabled(enabled bool) {
	t.fixerEnabled.Store(enabled)
}

// Relay streams upstream.Body to w, extracting usage as SSE frames pass
// through, and returns the finalisation code describing how the stream
// ended (spec §4.8). A response whose Content-Type names application/json
// is instead buffered up to Config.BufferCap, gunzipped, optionally fixed,
// and written once the body completes; every other response, including one
// without a Content-Type, is relayed chunk by chunk.
func (t *Tee) Relay(ctx context.Context, w http.ResponseWriter, upstream *http.Response, cli domain.CLIClass) (domain.Usage, []domain.SpecialSetting, domain.FinalizationCode, error) {
	st := &state{lastReadTime: time.Now()}
	buffer := t.bufPool.Get()
	defer t.bufPool.Put(buffer)

	body, err := t.decompressedBody(upstream)
	if err != nil {
		return st.usage, st.settings, domain.FinalizeStreamError, err
	}

	// Only a response explicitly declaring a JSON body takes the buffered
	// non-stream path (spec §4.7/4.8); anything else — including an absent
	// or unrecognised Content-Type — relays chunk-by-chunk like an SSE
	// stream, the safer default for a body whose shape isn't known.
	if strings.Contains(strings.ToLower(upstream.Header.Get("Content-Type")), "application/json") {
		st.buffered = &bytes.Buffer{}
	}

	upstreamCtx := upstream.Request.Context()
	drainGrace := cli.ResponsesPath() != "" // only CLI-B gets drain-grace on disconnect

	// With drain-grace, a client disconnect starts a bounded grace window
	// (Config.DrainGrace, spec §4.8) during which the read loop keeps
	// draining against upstream looking for a completion marker; the
	// window expiring cancels graceCtx same as upstream itself closing.
	// Non drain-grace CLI classes abort the read loop immediately on
	// disconnect via the client/upstream combined context.
	readCtx := upstreamCtx
	if !drainGrace {
		combined, cancel := t.combinedContext(ctx, upstreamCtx)
		defer cancel()
		readCtx = combined
	} else {
		graceCtx, cancel := context.WithCancel(upstreamCtx)
		defer cancel()
		readCtx = graceCtx
		go func() {
			select {
			case <-ctx.Done():
			case <-upstreamCtx.Done():
				return
			}
			st.clientDisconnected = true
			if t.log != nil {
				t.log.Info("client disconnected, entering drain grace", "window", t.cfg.DrainGrace)
			}
			timer := time.NewTimer(clampDrainGrace(t.cfg.DrainGrace))
			defer timer.Stop()
			select {
			case <-timer.C:
				cancel()
			case <-upstreamCtx.Done():
			case <-graceCtx.Done():
			}
		}()
	}

	flusher, canFlush := w.(http.Flusher)

	for {
		result := t.timedRead(readCtx, body, buffer, st)
		if result == nil {
			code, err := t.handleCancellation(ctx, upstreamCtx, st, drainGrace)
			if code == domain.FinalizeSuccess {
				t.flushBuffered(w, flusher, canFlush, st)
			}
			return st.usage, st.settings, code, err
		}

		if result.n > 0 {
			if writeErr := t.ingest(w, buffer[:result.n], flusher, canFlush, st); writeErr != nil {
				return st.usage, st.settings, domain.FinalizeStreamAborted, writeErr
			}
		}

		if result.err != nil {
			if errors.Is(result.err, io.EOF) {
				t.flushBuffered(w, flusher, canFlush, st)
				return st.usage, st.settings, domain.FinalizeSuccess, nil
			}
			if errors.Is(result.err, errStreamIdle) {
				return st.usage, st.settings, domain.FinalizeStreamIdle, result.err
			}
			return st.usage, st.settings, domain.FinalizeStreamError, result.err
		}
	}
}

// clampDrainGrace bounds the configured drain-grace window to spec §4.8's
// [0.5s, 15s] range, defaulting to 10s when unset.
func clampDrainGrace(d time.Duration) time.Duration {
	const min = 500 * time.Millisecond
	const max = 15 * time.Second
	if d <= 0 {
		d = 10 * time.Second
	}
	if d < min {
		d = min
	}
	if d > max {
		d = max
	}
	return d
}

// ingest routes one read chunk to either the SSE per-chunk relay path or
// the non-stream buffering path, falling back from buffering to direct
// passthrough once Config.BufferCap is exceeded.
func (t *Tee) ingest(w http.ResponseWriter, chunk []byte, flusher http.Flusher, canFlush bool, st *state) error {
	if st.buffered == nil {
		t.observe(chunk, st)
		return t.writeData(w, chunk, flusher, canFlush, st)
	}

	bufCap := t.cfg.BufferCap
	if bufCap <= 0 {
		bufCap = 3 * 1024 * 1024
	}
	if !st.overBufCap && st.buffered.Len()+len(chunk) > bufCap {
		st.overBufCap = true
		if flushErr := t.writeData(w, st.buffered.Bytes(), flusher, canFlush, st); flushErr != nil {
			return flushErr
		}
		st.buffered = nil
	}
	if st.overBufCap {
		return t.writeData(w, chunk, flusher, canFlush, st)
	}
	st.buffered.Write(chunk)
	return nil
}

// flushBuffered runs the response fixer over a completed non-stream body,
// extracts its usage synchronously, and writes it to the client once. It
// is a no-op for event-stream responses (st.buffered is nil) and for
// responses that already spilled over BufferCap into passthrough mode.
func (t *Tee) flushBuffered(w http.ResponseWriter, flusher http.Flusher, canFlush bool, st *state) {
	if st.buffered == nil {
		return
	}
	body := st.buffered.Bytes()
	st.buffered = nil

	if t.fixerEnabled.Load() {
		fixed, settings := fixBody(body)
		body = fixed
		st.settings = append(st.settings, settings...)
	}

	extractBufferedUsage(body, st)
	_ = t.writeData(w, body, flusher, canFlush, st)
}

// extractBufferedUsage parses a complete non-stream JSON body the same way
// applyUsageJSON does per SSE frame, used for the non-stream usage path.
func extractBufferedUsage(body []byte, st *state) {
	if !gjson.ValidBytes(body) {
		return
	}
	parsed := gjson.ParseBytes(body)
	if u := parsed.Get("usage"); u.Exists() {
		applyUsageJSON(u, st)
	}
	if u := parsed.Get("response.usage"); u.Exists() {
		applyUsageJSON(u, st)
	}
	if m := parsed.Get("model"); m.Exists() {
		st.usage.Model = m.String()
	}
}

// decompressedBody returns a reader over upstream.Body that yields plain
// bytes regardless of Content-Encoding: providers occasionally gzip even
// SSE bodies, and observe's SSE parser needs the uncompressed frame to
// find the "data: " prefix.
func (t *Tee) decompressedBody(upstream *http.Response) (io.Reader, error) {
	if !strings.EqualFold(upstream.Header.Get("Content-Encoding"), "gzip") {
		return upstream.Body, nil
	}
	gz, err := gzip.NewReader(upstream.Body)
	if err != nil {
		return nil, err
	}
	return gz, nil
}

func (t *Tee) combinedContext(clientCtx, upstreamCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-clientCtx.Done():
			cancel()
		case <-upstreamCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

func (t *Tee) timedRead(ctx context.Context, body io.Reader, buffer []byte, st *state) *readResult {
	readCh := make(chan readResult, 1)
	go func() {
		n, err := body.Read(buffer)
		select {
		case readCh <- readResult{n: n, err: err}:
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(t.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		grace := time.NewTimer(time.Second)
		defer grace.Stop()
		select {
		case result := <-readCh:
			if result.n > 0 && !st.clientDisconnected {
				return &result
			}
		case <-grace.C:
		}
		return nil
	case <-timer.C:
		return &readResult{err: errStreamIdle}
	case result := <-readCh:
		st.readCount++
		st.lastReadTime = time.Now()
		return &result
	}
}

var errStreamIdle = idleTimeoutError{}

type idleTimeoutError struct{}

func (idleTimeoutError) Error() string { return "stream idle timeout: no data received" }

// handleCancellation decides the finalisation code once timedRead returns
// nil (spec §4.8/§9's decision table), distinguishing the CLI-B drain-grace
// path (success only if the grace window saw a completion marker) from
// every other CLI class (success if at least one chunk reached the client
// and the tracker either saw completion or never saw a terminal error).
func (t *Tee) handleCancellation(clientCtx, upstreamCtx context.Context, st *state, drainGrace bool) (domain.FinalizationCode, error) {
	if clientCtx.Err() != nil {
		if !st.clientDisconnected {
			st.clientDisconnected = true
			if t.log != nil {
				t.log.Info("client disconnected during streaming", "total_bytes", st.totalBytes)
			}
		}
		if drainGrace {
			if st.completionSeen {
				return domain.FinalizeSuccess, nil
			}
			return domain.FinalizeStreamAborted, context.Canceled
		}
		if st.totalBytes > 0 && (st.completionSeen || !st.terminalErrorSeen) {
			return domain.FinalizeSuccess, nil
		}
		return domain.FinalizeStreamAborted, context.Canceled
	}
	if upstreamCtx.Err() != nil {
		return domain.FinalizeStreamError, upstreamCtx.Err()
	}
	return domain.FinalizeStreamAborted, context.Canceled
}

func (t *Tee) writeData(w http.ResponseWriter, data []byte, flusher http.Flusher, canFlush bool, st *state) error {
	if !st.clientDisconnected {
		n, err := w.Write(data)
		st.totalBytes += n
		if err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	st.bytesAfterDisconnect += len(data)
	if st.bytesAfterDisconnect > ClientDisconnectionBytesThreshold {
		return context.Canceled
	}
	return nil
}

// observe scans newly-read bytes for SSE usage frames, updating st.usage
// as they're recognised. Partial frames spanning reads accumulate in
// st.sseBuf until a full "\n\n" delimiter appears.
func (t *Tee) observe(chunk []byte, st *state) {
	st.sseBuf.Write(chunk)
	for {
		buf := st.sseBuf.Bytes()
		idx := bytes.Index(buf, []byte("\n\n"))
		if idx < 0 {
			break
		}
		frame := buf[:idx]
		rest := make([]byte, len(buf[idx+2:]))
		copy(rest, buf[idx+2:])
		st.sseBuf.Reset()
		st.sseBuf.Write(rest)

		t.applyUsageFrame(frame, st)
	}
}

func (t *Tee) applyUsageFrame(frame []byte, st *state) {
	const dataPrefix = "data: "
	const eventPrefix = "event: "
	var payload []byte
	var eventName string
	for _, line := range bytes.Split(frame, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, []byte(dataPrefix)):
			payload = line[len(dataPrefix):]
		case bytes.HasPrefix(line, []byte(eventPrefix)):
			eventName = string(bytes.TrimSpace(line[len(eventPrefix):]))
		}
	}

	markFrameTerminalState(eventName, payload, st)

	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return
	}
	parsed := gjson.ParseBytes(payload)
	if u := parsed.Get("usage"); u.Exists() {
		applyUsageJSON(u, st)
	}
	if u := parsed.Get("response.usage"); u.Exists() {
		applyUsageJSON(u, st)
	}
	if m := parsed.Get("model"); m.Exists() {
		st.usage.Model = m.String()
	}
}

// markFrameTerminalState flags the completion/terminal-error markers the
// drain-grace and disconnect rules of spec §4.8 key off: Claude's
// "message_stop" event, the Responses API's "response.completed"/
// "response.failed" payload type, and a bare SSE "event: error" frame.
func markFrameTerminalState(eventName string, payload []byte, st *state) {
	switch eventName {
	case "message_stop", "response.completed":
		st.completionSeen = true
		return
	case "error", "response.failed":
		st.terminalErrorSeen = true
		return
	}
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return
	}
	switch gjson.GetBytes(payload, "type").String() {
	case "response.completed", "message_stop":
		st.completionSeen = true
	case "response.failed", "error":
		st.terminalErrorSeen = true
	}
}

func applyUsageJSON(u gjson.Result, st *state) {
	if v := u.Get("input_tokens"); v.Exists() {
		st.usage.InputTokens = v.Int()
	}
	if v := u.Get("output_tokens"); v.Exists() {
		st.usage.OutputTokens = v.Int()
	}
	if v := u.Get("cache_read_input_tokens"); v.Exists() {
		st.usage.CacheReadTokens = v.Int()
	}
	if v := u.Get("cache_creation_input_tokens"); v.Exists() {
		st.usage.CacheCreationTokens = v.Int()
	}
}
