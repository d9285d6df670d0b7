package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/export/writer"
)

// DownloadOptions are the per-call overrides of Download and Stream.
type DownloadOptions struct {
	// Name is the disposition file name. Its extension selects the format
	// unless Format is set.
	Name string

	// Format overrides every other format source.
	Format export.Format

	// Headers are merged over the exporter's declared headers.
	Headers http.Header
}

// Response is an encoded export ready to be written to a client.
// Body is a seekable spool file; Close releases it.
type Response struct {
	Name    string
	Format  export.Format
	Header  http.Header
	Body    io.ReadSeeker
	Size    int64
	Rows    int
	ModTime time.Time

	closer io.Closer
}

// Close releases the response body.
func (r *Response) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Responder writes a Response to a client.
type Responder interface {
	Serve(w http.ResponseWriter, r *http.Request, resp *Response) error
}

// FileResponder serves responses with http.ServeContent, which adds range
// and conditional request support.
type FileResponder struct{}

// Serve implements Responder.
func (FileResponder) Serve(w http.ResponseWriter, r *http.Request, resp *Response) error {
	copyHeader(w.Header(), resp.Header)
	http.ServeContent(w, r, resp.Name, resp.ModTime, resp.Body)
	return nil
}

// StreamResponder copies the body with a 200 status.
type StreamResponder struct{}

// Serve implements Responder.
func (StreamResponder) Serve(w http.ResponseWriter, r *http.Request, resp *Response) error {
	copyHeader(w.Header(), resp.Header)
	w.Header().Set("Content-Length", strconv.FormatInt(resp.Size, 10))
	w.WriteHeader(http.StatusOK)
	if r != nil && r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return export.NewIoError("respond", resp.Name, err)
	}
	return nil
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
}

// Disposition returns the Content-Disposition value for an attachment.
func Disposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

// buildHeader merges declared and per-call headers. Per-call values replace
// declared ones for the same canonical key. Content-Type defaults to the
// format's MIME type; Content-Disposition is always derived from name.
func buildHeader(declared, perCall http.Header, f export.Format, name string) http.Header {
	h := make(http.Header, len(declared)+len(perCall)+2)
	for _, layer := range []http.Header{declared, perCall} {
		for k, v := range layer {
			h[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
		}
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", f.ContentType())
	}
	h.Set("Content-Disposition", Disposition(name))
	return h
}

// Download encodes the export into a spool file and returns it as a
// response. The caller must Close the response.
func (d *Dispatcher) Download(ctx context.Context, e export.Exporter, opts DownloadOptions) (resp *Response, err error) {
	start := time.Now()
	var (
		req *request
		out writer.Outcome
	)
	ctx, span := d.startSpan(ctx, ModeDownload)
	defer func() { d.observe(ctx, span, req, ModeDownload, out, start, err) }()

	req, err = d.prepareDownload(e, opts)
	if err != nil {
		return nil, err
	}

	sp, err := newSpool(d.tempDir)
	if err != nil {
		return nil, err
	}

	out, err = d.encode(ctx, e, req, sp)
	if err != nil {
		sp.Close()
		return nil, err
	}
	if _, err = sp.Seek(0, io.SeekStart); err != nil {
		sp.Close()
		return nil, export.NewIoError("seek", sp.Name(), err)
	}

	return &Response{
		Name:    req.name,
		Format:  req.format,
		Header:  req.header,
		Body:    sp,
		Size:    out.Bytes,
		Rows:    out.Rows,
		ModTime: time.Now().UTC(),
		closer:  sp,
	}, nil
}

func (d *Dispatcher) prepareDownload(e export.Exporter, opts DownloadOptions) (*request, error) {
	declared := export.Inspect(e)

	req, err := d.resolve(declared, ModeDownload, opts.Name, opts.Format)
	if err != nil {
		return nil, err
	}
	req.name = export.ResolveName(opts.Name, declared.FileName, declared.TypeTag, req.format)
	req.header = buildHeader(declared.Headers, opts.Headers, req.format, req.name)
	return req, nil
}

// ToResponse converts the export to a response without per-call overrides.
// The request only supplies the context.
func (d *Dispatcher) ToResponse(r *http.Request, e export.Exporter) (*Response, error) {
	return d.Download(r.Context(), e, DownloadOptions{})
}

// Respond encodes the export and writes it with the configured Responder.
func (d *Dispatcher) Respond(w http.ResponseWriter, r *http.Request, e export.Exporter) error {
	resp, err := d.ToResponse(r, e)
	if err != nil {
		return err
	}
	return d.Send(w, r, resp)
}

// Send writes resp with the configured Responder and closes it.
func (d *Dispatcher) Send(w http.ResponseWriter, r *http.Request, resp *Response) error {
	defer resp.Close()
	return d.responder.Serve(w, r, resp)
}

// Handler returns an http.Handler responding with the export. Errors raised
// before the first byte is written become plain-text error responses.
func (d *Dispatcher) Handler(e export.Exporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := d.ToResponse(r, e)
		if err != nil {
			http.Error(w, err.Error(), StatusCode(err))
			return
		}
		if err := d.Send(w, r, resp); err != nil {
			d.logger.ErrorContext(r.Context(), "Failed to write response", "error", err)
		}
	})
}

// ErrStreamAborted marks a Stream failure after the response was committed.
// The client received the status and headers and a truncated body.
var ErrStreamAborted = errors.New("stream aborted after response started")

// Stream encodes the export directly into w. The status and headers are
// committed with the first encoded byte, so failures opening the rows, and
// XLSX failures (which buffer until the end), leave w untouched. Failures
// after the commit wrap ErrStreamAborted.
func (d *Dispatcher) Stream(ctx context.Context, w http.ResponseWriter, e export.Exporter, opts DownloadOptions) (err error) {
	start := time.Now()
	var (
		req *request
		out writer.Outcome
	)
	ctx, span := d.startSpan(ctx, ModeStream)
	defer func() { d.observe(ctx, span, req, ModeStream, out, start, err) }()

	req, err = d.prepareDownload(e, opts)
	if err != nil {
		return err
	}

	rows, err := e.Rows(ctx)
	if err != nil {
		return fmt.Errorf("failed to open rows: %w", err)
	}

	cw := &commitWriter{w: w, header: req.header}
	out, err = d.write(rows, req, cw)
	if err != nil {
		if cw.committed {
			return fmt.Errorf("%w: %w", ErrStreamAborted, err)
		}
		return err
	}
	cw.commit()
	return nil
}

// commitWriter writes the header and a 200 status before the first byte.
type commitWriter struct {
	w         http.ResponseWriter
	header    http.Header
	committed bool
}

func (c *commitWriter) commit() {
	if c.committed {
		return
	}
	c.committed = true
	copyHeader(c.w.Header(), c.header)
	c.w.WriteHeader(http.StatusOK)
}

func (c *commitWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		c.commit()
	}
	return c.w.Write(p)
}

// StatusCode maps an export error to an HTTP status.
func StatusCode(err error) int {
	var (
		unresolved *export.UnresolvedFormatError
		noDest     *export.NoDestinationError
	)
	switch {
	case errors.As(err, &unresolved), errors.As(err, &noDest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrNoJobSystem):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// spool is a temporary file removed on Close.
type spool struct {
	*os.File
}

func newSpool(dir string) (*spool, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	name := filepath.Join(dir, "tabula-"+uuid.NewString()+".spool")
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, export.NewIoError("spool", name, err)
	}
	return &spool{File: f}, nil
}

// Close closes and removes the spool file.
func (s *spool) Close() error {
	err := s.File.Close()
	if rerr := os.Remove(s.Name()); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}
