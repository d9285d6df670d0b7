package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"mercator-hq/tabula/pkg/dataset"
	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/export/disk"
	"mercator-hq/tabula/pkg/export/dispatch"
	"mercator-hq/tabula/pkg/export/queue"
	"mercator-hq/tabula/pkg/telemetry/logging"
)

// Job list bounds.
const (
	defaultJobLimit = 50
	maxJobLimit     = 1000
)

// maxBodyBytes bounds store and queue request bodies.
const maxBodyBytes = 1 << 20

// errBadRequest marks client errors found while decoding a request.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// datasetInfo is one entry of the dataset listing.
type datasetInfo struct {
	Name     string   `json:"name"`
	Format   string   `json:"format,omitempty"`
	FileName string   `json:"file_name,omitempty"`
	Path     string   `json:"path,omitempty"`
	Disk     string   `json:"disk,omitempty"`
	Headings []string `json:"headings,omitempty"`
}

// storeRequest is the body of the store and queue routes. Every field is
// optional; the dataset's declarations fill the gaps.
type storeRequest struct {
	Path       string              `json:"path"`
	Disk       string              `json:"disk"`
	Format     string              `json:"format"`
	Visibility string              `json:"visibility"`
	Chain      []export.ChainedJob `json:"chain"`
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Datasets.Names()
	key, _ := APIKeyFromContext(r.Context())
	out := make([]datasetInfo, 0, len(names))
	for _, name := range names {
		if key != nil && !key.allows(name) {
			continue
		}
		ds, ok := s.deps.Datasets.Config(name)
		if !ok {
			continue
		}
		out = append(out, datasetInfo{
			Name:     name,
			Format:   ds.Format,
			FileName: ds.FileName,
			Path:     ds.Path,
			Disk:     ds.Disk,
			Headings: ds.Headings,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDownload serves GET /exports/{dataset}?format=&filename=&stream=.
// Without stream the export is spooled first, so encoding errors still
// produce a clean error response and range requests work.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("dataset")
	ctx := logging.WithDataset(r.Context(), name)

	e, err := s.deps.Datasets.Exporter(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	opts := dispatch.DownloadOptions{Name: r.URL.Query().Get("filename")}
	if f := r.URL.Query().Get("format"); f != "" {
		if opts.Format, err = export.ParseFormat(f); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	if stream, _ := strconv.ParseBool(r.URL.Query().Get("stream")); stream {
		if err := s.deps.Dispatcher.Stream(ctx, w, e, opts); err != nil {
			if !headersSent(err) {
				s.writeError(w, r, err)
			}
		}
		return
	}

	resp, err := s.deps.Dispatcher.Download(ctx, e, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Dispatcher.Send(w, r, resp); err != nil {
		s.logger.WarnContext(ctx, "Failed to write export response", "error", err)
	}
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("dataset")
	ctx := logging.WithDataset(r.Context(), name)

	e, req, format, err := s.prepareStore(r, name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	stored, err := s.deps.Dispatcher.Store(ctx, e, dispatch.StoreOptions{
		Path:        req.Path,
		Disk:        req.Disk,
		Format:      format,
		DiskOptions: req.diskOptions(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("dataset")
	ctx := logging.WithDataset(r.Context(), name)

	e, req, format, err := s.prepareStore(r, name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	queued, err := s.deps.Dispatcher.Queue(ctx, e, dispatch.QueueOptions{
		Path:        req.Path,
		Disk:        req.Disk,
		Format:      format,
		DiskOptions: req.diskOptions(),
		Chain:       req.Chain,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.deps.Jobs != nil {
		w.Header().Set("Location", "/jobs/"+queued.ID)
	}
	writeJSON(w, http.StatusAccepted, queued)
}

// prepareStore resolves the dataset and decodes the optional request body.
func (s *Server) prepareStore(r *http.Request, name string) (*dataset.Exporter, *storeRequest, export.Format, error) {
	e, err := s.deps.Datasets.Exporter(name)
	if err != nil {
		return nil, nil, "", err
	}

	var req storeRequest
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, "", fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}

	var format export.Format
	if req.Format != "" {
		if format, err = export.ParseFormat(req.Format); err != nil {
			return nil, nil, "", err
		}
	}
	switch req.Visibility {
	case "", "public", "private":
	default:
		return nil, nil, "", fmt.Errorf("%w: invalid visibility %q", errBadRequest, req.Visibility)
	}
	return e, &req, format, nil
}

func (req *storeRequest) diskOptions() export.DiskOptions {
	if req.Visibility == "" {
		return nil
	}
	return export.DiskOptions{export.OptionVisibility: req.Visibility}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Jobs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: invalid limit %q", errBadRequest, v))
			return
		}
		limit = min(n, maxJobLimit)
	}

	jobs, err := s.deps.Jobs.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*export.JobStatus{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, dataset.ErrUnknownDataset), errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, disk.ErrUnknownDisk), errors.As(err, &maxBytes):
		return http.StatusBadRequest
	default:
		return dispatch.StatusCode(err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		s.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	// Errors raised before the spool was handed over may have set export
	// headers; drop them so the client does not see a partial attachment.
	w.Header().Del("Content-Disposition")
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// headersSent reports whether Stream failed after the 200 was written.
func headersSent(err error) bool {
	return errors.Is(err, dispatch.ErrStreamAborted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
