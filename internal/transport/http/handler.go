package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SGITme/whisper-MP3transcriber/internal/apperr"
	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
	"github.com/SGITme/whisper-MP3transcriber/internal/fanout"
	"github.com/SGITme/whisper-MP3transcriber/internal/service"
	"github.com/SGITme/whisper-MP3transcriber/internal/watcher"
)

const defaultMaxUpload = 2 << 30

// FolderWatcher is implemented by watcher.Watcher.
type FolderWatcher interface {
	Start(ctx context.Context, dir string) error
	Stop()
	Status() watcher.Status
}

type Config struct {
	UploadDir      string
	MaxUploadBytes int64
}

type Handler struct {
	jobSvc  *service.JobService
	watch   FolderWatcher
	events  *fanout.Broker
	cfg     Config
	log     *zap.Logger
	baseCtx context.Context
}

// NewHandler wires the API. ctx bounds background work started over HTTP
// (the folder watcher). watch and events may be nil.
func NewHandler(ctx context.Context, jobSvc *service.JobService, watch FolderWatcher, events *fanout.Broker, cfg Config, log *zap.Logger) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		jobSvc:  jobSvc,
		watch:   watch,
		events:  events,
		cfg:     cfg,
		log:     log,
		baseCtx: ctx,
	}
}

type modelsResp struct {
	Models  []entity.Model `json:"models"`
	Default entity.Model   `json:"default"`
}

type formatsResp struct {
	AudioFormats  []string        `json:"audio_formats"`
	OutputFormats []entity.Format `json:"output_formats"`
}

type submitResp struct {
	JobID  string           `json:"job_id"`
	Status entity.JobStatus `json:"status"`
}

type skippedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

type batchResp struct {
	JobIDs  []string      `json:"job_ids"`
	Count   int           `json:"count"`
	Skipped []skippedFile `json:"skipped"`
}

type jobsResp struct {
	Jobs []*entity.Job `json:"jobs"`
}

type statusResp struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

type watchStartDTO struct {
	Path string `json:"path"`
}

// ListModels godoc
// @Summary List transcription models
// @Tags catalog
// @Produce json
// @Success 200 {object} modelsResp
// @Router /api/models [get]
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsResp{
		Models:  h.jobSvc.Models(),
		Default: h.jobSvc.Defaults().Model,
	})
}

// ListFormats godoc
// @Summary List supported audio and output formats
// @Tags catalog
// @Produce json
// @Success 200 {object} formatsResp
// @Router /api/formats [get]
func (h *Handler) ListFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, formatsResp{
		AudioFormats:  h.jobSvc.SupportedExtensions(),
		OutputFormats: h.jobSvc.Formats(),
	})
}

// Transcribe godoc
// @Summary Upload an audio file for transcription
// @Description Stores the upload and enqueues a pending job.
// @Tags jobs
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "audio file"
// @Param model query string false "model (tiny, base, small, medium, large, large-v2, large-v3)"
// @Param output_formats query string false "comma-separated output formats, e.g. txt,srt"
// @Param language query string false "language code or auto"
// @Success 201 {object} submitResp
// @Failure 400 {object} apiError
// @Failure 503 {object} apiError
// @Router /api/transcribe [post]
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if !h.parseUpload(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	job, err := h.submitUpload(r, file, hdr.Filename)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResp{JobID: job.ID, Status: job.Status})
}

// TranscribeBatch godoc
// @Summary Upload several audio files
// @Description Unsupported files are skipped and reported.
// @Tags jobs
// @Accept multipart/form-data
// @Produce json
// @Param files formData file true "audio files"
// @Param model query string false "model"
// @Param output_formats query string false "comma-separated output formats"
// @Param language query string false "language code or auto"
// @Success 201 {object} batchResp
// @Failure 400 {object} apiError
// @Router /api/transcribe/batch [post]
func (h *Handler) TranscribeBatch(w http.ResponseWriter, r *http.Request) {
	if !h.parseUpload(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeErr(w, http.StatusBadRequest, "missing files")
		return
	}

	resp := batchResp{JobIDs: []string{}, Skipped: []skippedFile{}}
	for _, hdr := range headers {
		job, err := h.submitPart(r, hdr)
		if err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				h.log.Error("batch upload", zap.String("file", hdr.Filename), zap.Error(err))
			}
			resp.Skipped = append(resp.Skipped, skippedFile{Filename: hdr.Filename, Reason: err.Error()})
			continue
		}
		resp.JobIDs = append(resp.JobIDs, job.ID)
	}
	resp.Count = len(resp.JobIDs)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	err := r.ParseMultipartForm(32 << 20)
	if err == nil {
		return true
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeErr(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxErr.Limit))
		return false
	}
	writeErr(w, http.StatusBadRequest, "invalid multipart form")
	return false
}

func (h *Handler) submitPart(r *http.Request, hdr *multipart.FileHeader) (*entity.Job, error) {
	file, err := hdr.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()
	return h.submitUpload(r, file, hdr.Filename)
}

// submitUpload checks the extension before touching the disk, stores the
// upload under a generated name and submits it. The stored copy is removed by
// the runner after processing, or here when submission fails.
func (h *Handler) submitUpload(r *http.Request, src io.Reader, filename string) (*entity.Job, error) {
	filename = filepath.Base(filename)
	if !entity.IsAudioFile(filename) {
		return nil, apperr.Invalid("unsupported format: %q", strings.ToLower(filepath.Ext(filename)))
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	stored := filepath.Join(h.cfg.UploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(filename)))
	if err := saveUpload(stored, src); err != nil {
		return nil, err
	}

	q := r.URL.Query()
	job, err := h.jobSvc.Submit(r.Context(), service.SubmitRequest{
		SourcePath:   stored,
		Filename:     filename,
		Model:        entity.Model(strings.TrimSpace(q.Get("model"))),
		Language:     q.Get("language"),
		Formats:      entity.ParseFormats(q.Get("output_formats")),
		Source:       entity.SourceUpload,
		RemoveSource: true,
	})
	if err != nil {
		_ = os.Remove(stored)
		return nil, err
	}
	return job, nil
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// ListJobs godoc
// @Summary List jobs, newest first
// @Tags jobs
// @Produce json
// @Success 200 {object} jobsResp
// @Router /api/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobSvc.ListJobs(r.Context())
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobsResp{Jobs: jobs})
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 404 {object} apiError
// @Router /api/jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobSvc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// DeleteJob godoc
// @Summary Delete a finished job and its output files
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} statusResp
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /api/jobs/{id} [delete]
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobSvc.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{Status: "deleted"})
}

// Download godoc
// @Summary Download an output file
// @Tags jobs
// @Produce octet-stream
// @Param id path string true "job id (uuid)"
// @Param format path string true "txt, srt, vtt or json"
// @Success 200 {file} file
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /api/jobs/{id}/download/{format} [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	format := entity.Format(strings.ToLower(chi.URLParam(r, "format")))
	if !format.Valid() {
		writeErr(w, http.StatusNotFound, fmt.Sprintf("unknown format %q", format))
		return
	}

	path, name, err := h.jobSvc.Download(r.Context(), chi.URLParam(r, "id"), format)
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// StartWatch godoc
// @Summary Start watching a folder for new audio files
// @Tags watch
// @Accept json
// @Produce json
// @Param request body watchStartDTO false "folder to watch (defaults to the configured folder)"
// @Success 200 {object} statusResp
// @Failure 400 {object} apiError
// @Router /api/watch/start [post]
func (h *Handler) StartWatch(w http.ResponseWriter, r *http.Request) {
	if h.watch == nil {
		writeErr(w, http.StatusServiceUnavailable, "folder watching is not available")
		return
	}

	var dto watchStartDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil && !errors.Is(err, io.EOF) {
			writeErr(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	if err := h.watch.Start(h.baseCtx, dto.Path); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{Status: "started", Path: h.watch.Status().Path})
}

// StopWatch godoc
// @Summary Stop folder watching
// @Tags watch
// @Produce json
// @Success 200 {object} statusResp
// @Router /api/watch/stop [post]
func (h *Handler) StopWatch(w http.ResponseWriter, r *http.Request) {
	if h.watch != nil {
		h.watch.Stop()
	}
	writeJSON(w, http.StatusOK, statusResp{Status: "stopped"})
}

// WatchStatus godoc
// @Summary Folder watcher status
// @Tags watch
// @Produce json
// @Success 200 {object} watcher.Status
// @Router /api/watch/status [get]
func (h *Handler) WatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.watch == nil {
		writeJSON(w, http.StatusOK, watcher.Status{})
		return
	}
	writeJSON(w, http.StatusOK, h.watch.Status())
}
