package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/voxsub/subgen/internal/fetch"
	"github.com/voxsub/subgen/internal/jobstore"
	"github.com/voxsub/subgen/internal/pipeline"
	"github.com/voxsub/subgen/internal/speech"
	"github.com/voxsub/subgen/internal/storage"
)

// Enqueuer hands accepted jobs to the worker pool.
type Enqueuer interface {
	Enqueue(req pipeline.Request) bool
	Stats() pipeline.QueueStats
}

// JobsHandler exposes the subtitle job lifecycle over HTTP.
type JobsHandler struct {
	jobs      *jobstore.Store
	pool      Enqueuer
	store     storage.Store
	maxUpload int64
	log       zerolog.Logger
}

func NewJobsHandler(jobs *jobstore.Store, pool Enqueuer, store storage.Store, maxUpload int64, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		jobs:      jobs,
		pool:      pool,
		store:     store,
		maxUpload: maxUpload,
		log:       log.With().Str("handler", "jobs").Logger(),
	}
}

// Routes registers job routes on the given router.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.Submit)
	r.Post("/jobs/upload", h.SubmitUpload)
	r.Get("/jobs", h.List)
	r.Get("/jobs/{id}", h.Get)
	r.Get("/jobs/{id}/artifact", h.Artifact)
	r.Get("/jobs/stats", h.QueueStats)
}

// SubmitRequest is the body of POST /api/v1/jobs.
type SubmitRequest struct {
	Link           string `json:"link"`
	LanguageCode   string `json:"language_code"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// JobResponse is the API shape of a job.
type JobResponse struct {
	ID             string `json:"id"`
	SourceKind     string `json:"source_kind"`
	SourceRef      string `json:"source_ref"`
	LanguageCode   string `json:"language_code"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Status         string `json:"status"`
	Stage          string `json:"stage,omitempty"`
	Artifact       string `json:"artifact,omitempty"`
	ArtifactURL    string `json:"artifact_url,omitempty"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func (h *JobsHandler) toResponse(r *http.Request, j *jobstore.Job) JobResponse {
	resp := JobResponse{
		ID:             j.ID,
		SourceKind:     j.SourceKind,
		SourceRef:      j.SourceRef,
		LanguageCode:   j.LanguageCode,
		SourceLanguage: j.SourceLanguage,
		TargetLanguage: j.TargetLanguage,
		Status:         string(j.Status),
		Stage:          j.Stage,
		Artifact:       j.Artifact,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.Status == jobstore.StatusDone && j.Artifact != "" {
		if u, err := h.store.URL(r.Context(), j.Artifact); err == nil && u != "" {
			resp.ArtifactURL = u
		} else {
			resp.ArtifactURL = fmt.Sprintf("/api/v1/jobs/%s/artifact", j.ID)
		}
	}
	return resp
}

// Submit handles POST /api/v1/jobs: a remote video link.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if body.Link == "" {
		WriteError(w, http.StatusBadRequest, "link is required")
		return
	}
	if u, err := url.Parse(body.Link); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		WriteError(w, http.StatusBadRequest, "link must be an http or https URL")
		return
	}

	h.accept(w, r, fetch.Source{Kind: fetch.KindLink, Ref: body.Link}, body.LanguageCode, body.SourceLanguage, body.TargetLanguage)
}

// SubmitUpload handles POST /api/v1/jobs/upload: a multipart video file
// plus the same language fields as Submit.
func (h *JobsHandler) SubmitUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "video file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read video file")
		return
	}

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "video"
	}
	key := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), name)
	if err := h.store.Save(r.Context(), key, data, header.Header.Get("Content-Type")); err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("upload save failed")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	form := r.MultipartForm.Value
	first := func(k string) string {
		if v := form[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	h.accept(w, r, fetch.Source{Kind: fetch.KindUpload, Ref: key},
		first("language_code"), first("source_language"), first("target_language"))
}

// accept validates languages, persists the job, and queues it.
func (h *JobsHandler) accept(w http.ResponseWriter, r *http.Request, src fetch.Source, langCode, srcLang, tgtLang string) {
	code := speech.NormalizeLanguage(langCode)
	if code == "" {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported language_code %q", langCode))
		return
	}
	if srcLang == "" {
		srcLang = code
	}
	srcLang = strings.ToLower(srcLang)
	if tgtLang == "" {
		tgtLang = srcLang
	}
	tgtLang = strings.ToLower(tgtLang)

	job := &jobstore.Job{
		ID:             uuid.NewString(),
		SourceKind:     string(src.Kind),
		SourceRef:      src.Ref,
		LanguageCode:   code,
		SourceLanguage: srcLang,
		TargetLanguage: tgtLang,
	}
	if err := h.jobs.Create(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("job create failed")
		WriteError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	queued := h.pool.Enqueue(pipeline.Request{
		JobID:          job.ID,
		Source:         src,
		LanguageCode:   code,
		SourceLanguage: srcLang,
		TargetLanguage: tgtLang,
	})
	if !queued {
		_ = h.jobs.MarkFailed(r.Context(), job.ID, "", "queue full")
		WriteError(w, http.StatusServiceUnavailable, "queue full, retry later")
		return
	}

	h.log.Info().Str("job_id", job.ID).Str("kind", string(src.Kind)).
		Str("source_lang", srcLang).Str("target_lang", tgtLang).Msg("job accepted")
	WriteJSON(w, http.StatusAccepted, h.toResponse(r, job))
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	WriteJSON(w, http.StatusOK, h.toResponse(r, job))
}

// List handles GET /api/v1/jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := h.jobs.List(r.Context(), p.Limit, p.Offset)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, h.toResponse(r, j))
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  out,
		"total": len(out),
	})
}

// Artifact handles GET /api/v1/jobs/{id}/artifact: streams the primary
// subtitle file for a finished job.
func (h *JobsHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job.Status != jobstore.StatusDone || job.Artifact == "" {
		WriteError(w, http.StatusConflict, fmt.Sprintf("job is %s, artifact not ready", job.Status))
		return
	}

	rc, err := h.store.Open(r.Context(), job.Artifact)
	if err != nil {
		h.log.Error().Err(err).Str("key", job.Artifact).Msg("artifact open failed")
		WriteError(w, http.StatusInternalServerError, "failed to open artifact")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/x-subrip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(job.Artifact)))
	io.Copy(w, rc)
}

// QueueStats handles GET /api/v1/jobs/stats.
func (h *JobsHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.pool.Stats())
}
