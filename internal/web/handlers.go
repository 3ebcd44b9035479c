package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// multipartMemory is how much of a multipart form is held in memory before
// net/http spills file parts to disk.
const multipartMemory = 8 << 20

// progressInterval is how often the event stream samples a running import.
const progressInterval = 250 * time.Millisecond

// handleHealth reports whether the store answers and how busy imports are.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"imports": s.service.ImportLimiterStatus(),
	}
	if _, err := s.service.ListTables(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	writeJSON(w, status, body)
}

// handleListTables returns the tables already in the store.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.service.ListTables(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if tables == nil {
		tables = []core.ExistingTable{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

// handleListProfiles returns the default dialect and the named profiles.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default":  s.cfg.Dialect,
		"profiles": s.profiles.Profiles,
	})
}

// handlePreview parses the head of an uploaded file without touching the
// store.
//
// Form fields: file, plus the dialect fields read by requestDialect and an
// optional rows limit.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	file, fh, err := s.parseUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	d, header, err := s.requestDialect(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	maxRows := 0
	if v := r.FormValue("rows"); v != "" {
		maxRows, err = strconv.Atoi(v)
		if err != nil || maxRows < 1 {
			s.respondError(w, r, &core.PreconditionError{Field: "rows", Reason: "must be a positive integer"})
			return
		}
	}

	result, err := s.service.Preview(r.Context(), file, fh.Size, d, header, maxRows)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStartImport validates the request, spools the file and starts the
// import in the background.
//
// Form fields: file, table, append (confirms appending to an existing
// table), plus the dialect fields read by requestDialect.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	file, fh, err := s.parseUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	table := r.FormValue("table")
	if err := core.ValidateTableName(table); err != nil {
		s.respondError(w, r, err)
		return
	}

	d, header, err := s.requestDialect(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	confirm, err := formBool(r, "append", false)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	path, size, err := spool(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("spool upload: %w", err))
		return
	}

	id := uuid.New().String()
	j := newJob(id, table, size, s.jobs.now())
	s.jobs.add(j)

	req := core.ImportRequest{
		ImportID:      id,
		Table:         table,
		Dialect:       d,
		Header:        header,
		Size:          size,
		ConfirmAppend: func(core.ExistingTable) bool { return confirm },
		ReadProgress:  j.tracker.ReadSink(),
		ApplyProgress: j.tracker.ApplySink(),
	}

	ctx := WithRequestMetadata(logging.Detach(r.Context()), r)
	go s.runImport(ctx, j, req, path)

	logging.FromContext(r.Context()).Info("import queued",
		"import_id", id,
		"table", table,
		"filename", fh.Filename,
		"bytes", size,
	)

	w.Header().Set("Location", "/api/imports/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"importId": id})
}

// handleImportStatus returns the progress or result of an import.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.get(chi.URLParam(r, "importID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j.status())
}

// handleCancelImport asks a running import to stop. The import rolls back
// at its next row or chunk boundary.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.cancel(chi.URLParam(r, "importID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j.status())
}

// handleImportEvents streams import progress via Server-Sent Events until
// the import finishes or the client goes away.
func (s *Server) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.get(chi.URLParam(r, "importID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var last core.ImportProgress
	first := true
	for {
		select {
		case <-j.done:
			writeEvent(w, "complete", j.status())
			rc.Flush()
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			st := j.status()
			if !first && st.ImportProgress == last {
				continue
			}
			first = false
			last = st.ImportProgress
			writeEvent(w, "progress", st)
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// parseUpload limits the body to the configured size and returns the
// "file" part of the multipart form.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large") {
			return nil, nil, fmt.Errorf("%w: limit is %d bytes", errFileTooLarge, s.cfg.Import.MaxFileSize)
		}
		return nil, nil, &core.PreconditionError{Field: "form", Reason: err.Error()}
	}

	file, fh, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errNoFile
	}
	return file, fh, nil
}

// requestDialect builds the dialect for a request: the configured default,
// then the named profile, then individual form fields.
//
// Form fields: profile, delimiter, quote, trim, encoding, header.
func (s *Server) requestDialect(r *http.Request) (core.Dialect, bool, error) {
	base := s.cfg.Dialect
	if name := r.FormValue("profile"); name != "" {
		prof, ok := s.profiles.Get(name)
		if !ok {
			return core.Dialect{}, false, &core.PreconditionError{Field: "profile", Reason: fmt.Sprintf("unknown profile %q", name)}
		}
		base = prof.Apply(base)
	}

	override := config.Profile{
		Delimiter: r.FormValue("delimiter"),
		Quote:     r.FormValue("quote"),
		Encoding:  r.FormValue("encoding"),
	}
	for _, f := range []struct {
		name string
		dst  **bool
	}{
		{"trim", &override.TrimFields},
		{"header", &override.Header},
	} {
		if r.FormValue(f.name) == "" {
			continue
		}
		v, err := formBool(r, f.name, false)
		if err != nil {
			return core.Dialect{}, false, err
		}
		*f.dst = &v
	}
	base = override.Apply(base)

	d, err := core.ParseDialect(base.Delimiter, base.Quote, base.TrimFields, base.Encoding)
	if err != nil {
		return core.Dialect{}, false, err
	}
	return d, base.Header, nil
}

// formBool parses a boolean form field, returning def when it is absent.
func formBool(r *http.Request, name string, def bool) (bool, error) {
	v := r.FormValue(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &core.PreconditionError{Field: name, Reason: fmt.Sprintf("%q is not a boolean", v)}
	}
	return b, nil
}

func writeEvent(w io.Writer, event string, st ImportStatus) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", st.Percent, event, data)
}
