package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"fpgalab/cmd/internal/account"
	"fpgalab/cmd/internal/artifact"
	"fpgalab/cmd/internal/broker"
	"fpgalab/cmd/internal/firmware"
	"fpgalab/cmd/internal/job"
	"fpgalab/cmd/internal/proto"

	"github.com/oklog/ulid/v2"
)

const (
	buildJobType     = "build"
	uploadURLExpiry  = 15 * time.Minute
	apiMaxBodyBytes  = 1 << 20
	defaultTaskLimit = 20
)

// apiHandler serves the build-task, file, and board admin endpoints.
type apiHandler struct {
	log      *slog.Logger
	accounts *account.Service
	jobs     job.Store
	queue    *job.Queue          // nil when redis is not configured
	signer   *artifact.Presigner // nil when object storage is not configured
	broker   *broker.Broker
	releases firmware.Store
}

func newAPIHandler(
	log *slog.Logger,
	accounts *account.Service,
	jobs job.Store,
	queue *job.Queue,
	signer *artifact.Presigner,
	brk *broker.Broker,
	releases firmware.Store,
) *apiHandler {
	return &apiHandler{
		log:      log,
		accounts: accounts,
		jobs:     jobs,
		queue:    queue,
		signer:   signer,
		broker:   brk,
		releases: releases,
	}
}

func (h *apiHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/task/build", h.handleBuild)
	mux.HandleFunc("GET /api/task", h.handleTaskList)
	mux.HandleFunc("GET /api/task/{id}", h.handleTaskGet)
	mux.HandleFunc("GET /api/file/upload", h.handleFileUpload)
	mux.HandleFunc("GET /api/boards", h.handleBoardList)
	mux.HandleFunc("POST /api/boards/config", h.handleBoardConfig)
	mux.HandleFunc("GET /api/boards/version", h.handleFirmwareGet)
	mux.HandleFunc("POST /api/boards/version", h.handleFirmwarePublish)
}

type buildRequest struct {
	Source string `json:"source"`
}

type jobResponse struct {
	ID          int64      `json:"id"`
	Submitter   string     `json:"submitter"`
	Type        string     `json:"type"`
	Status      *string    `json:"status"`
	Destination *string    `json:"destination"`
	TaskID      *string    `json:"task_id"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at"`
}

func jobInfo(j job.Job) jobResponse {
	return jobResponse{
		ID:          j.ID,
		Submitter:   j.Submitter,
		Type:        j.Type,
		Status:      j.Status,
		Destination: j.Destination,
		TaskID:      j.TaskID,
		CreatedAt:   j.CreatedAt,
		FinishedAt:  j.FinishedAt,
	}
}

// handleBuild creates a job row and pushes a build task onto the queue.
func (h *apiHandler) handleBuild(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if h.queue == nil {
		apiError(w, http.StatusServiceUnavailable, "no build queue configured")
		return
	}

	var req buildRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, apiMaxBodyBytes)).Decode(&req); err != nil || req.Source == "" {
		apiError(w, http.StatusBadRequest, "malformed build request")
		return
	}

	dest := newID()
	taskID := newID()
	j, err := h.jobs.Create(r.Context(), job.NewJob{
		Submitter:   user.UserName,
		Type:        buildJobType,
		Source:      req.Source,
		Destination: &dest,
		TaskID:      &taskID,
	})
	if err != nil {
		h.log.Error("api.build.create.fail", "user", user.UserName, "err", err)
		apiError(w, http.StatusInternalServerError, "job creation failed")
		return
	}

	task := job.Task{
		ID:          taskID,
		Src:         req.Source,
		Dst:         dest,
		SubmittedAt: time.Now().Unix(),
	}
	if err := h.queue.SubmitBuild(r.Context(), task); err != nil {
		h.log.Error("api.build.submit.fail", "job_id", j.ID, "err", err)
		apiError(w, http.StatusInternalServerError, "build submission failed")
		return
	}

	h.log.Info("api.build.submitted", "user", user.UserName, "job_id", j.ID, "task_id", taskID)
	apiJSON(w, http.StatusOK, jobInfo(j))
}

type taskListResponse struct {
	Offset int64         `json:"offset"`
	Limit  int64         `json:"limit"`
	Total  int64         `json:"total"`
	Jobs   []jobResponse `json:"jobs"`
}

func (h *apiHandler) handleTaskList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	offset := apiQueryInt64(r, "offset", 0)
	limit := apiQueryInt64(r, "limit", defaultTaskLimit)

	jobs, err := h.jobs.ListBySubmitter(r.Context(), user.UserName, offset, limit)
	if err != nil {
		h.log.Error("api.task_list.fail", "user", user.UserName, "err", err)
		apiError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	total, err := h.jobs.CountBySubmitter(r.Context(), user.UserName)
	if err != nil {
		h.log.Error("api.task_count.fail", "user", user.UserName, "err", err)
		apiError(w, http.StatusInternalServerError, "counting failed")
		return
	}

	out := taskListResponse{Offset: offset, Limit: limit, Total: total, Jobs: []jobResponse{}}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, jobInfo(j))
	}
	apiJSON(w, http.StatusOK, out)
}

func (h *apiHandler) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		apiError(w, http.StatusBadRequest, "bad job id")
		return
	}

	j, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			apiError(w, http.StatusNotFound, "no such job")
			return
		}
		apiError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if j.Submitter != user.UserName && !user.IsAdmin() {
		apiError(w, http.StatusForbidden, "not your job")
		return
	}
	apiJSON(w, http.StatusOK, jobInfo(j))
}

type uploadResponse struct {
	UUID string `json:"uuid"`
	URL  string `json:"url"`
}

// handleFileUpload mints an object key and a presigned PUT URL for it.
func (h *apiHandler) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}
	if h.signer == nil {
		apiError(w, http.StatusServiceUnavailable, "no object storage configured")
		return
	}

	key := newID()
	url, err := h.signer.PresignPut(key, uploadURLExpiry)
	if err != nil {
		h.log.Error("api.upload.presign.fail", "err", err)
		apiError(w, http.StatusInternalServerError, "presign failed")
		return
	}
	apiJSON(w, http.StatusOK, uploadResponse{UUID: key, URL: url})
}

type boardResponse struct {
	Remote          string  `json:"remote"`
	SoftwareVersion string  `json:"software_version"`
	HardwareVersion string  `json:"hardware_version"`
	User            *string `json:"user"`
}

func (h *apiHandler) handleBoardList(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	out := []boardResponse{}
	for _, b := range h.broker.BoardList() {
		out = append(out, boardResponse{
			Remote:          b.Info.Remote,
			SoftwareVersion: b.Info.SoftwareVersion,
			HardwareVersion: b.Info.HardwareVersion,
			User:            b.User,
		})
	}
	apiJSON(w, http.StatusOK, out)
}

type boardConfigRequest struct {
	Board string `json:"board"`
	Ident bool   `json:"ident"`
}

// handleBoardConfig flips the ident indicator on a specific board, addressed
// by its remote string from the board list.
func (h *apiHandler) handleBoardConfig(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	var req boardConfigRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, apiMaxBodyBytes)).Decode(&req); err != nil || req.Board == "" {
		apiError(w, http.StatusBadRequest, "malformed board config")
		return
	}

	ident := req.Ident
	delivered := h.broker.SendToBoardByRemote(req.Board, proto.BoardCommand{Ident: &ident})
	if !delivered {
		apiError(w, http.StatusNotFound, "no such board")
		return
	}
	apiJSON(w, http.StatusOK, true)
}

// handleFirmwareGet serves the published firmware release as plain text.
// Boards poll this without credentials; an unpublished release yields three
// empty lines, not an error.
func (h *apiHandler) handleFirmwareGet(w http.ResponseWriter, r *http.Request) {
	var v firmware.Version
	if h.releases != nil {
		got, ok, err := h.releases.Get(r.Context())
		if err != nil {
			h.log.Error("api.firmware.get.fail", "err", err)
			apiError(w, http.StatusInternalServerError, "release lookup failed")
			return
		}
		if ok {
			v = got
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(v.Text()))
}

// handleFirmwarePublish records a new firmware release for boards to pick up.
func (h *apiHandler) handleFirmwarePublish(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	if h.releases == nil {
		apiError(w, http.StatusServiceUnavailable, "no release storage configured")
		return
	}

	var v firmware.Version
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, apiMaxBodyBytes)).Decode(&v); err != nil || v.Version == "" {
		apiError(w, http.StatusBadRequest, "malformed release")
		return
	}

	if err := h.releases.Set(r.Context(), v); err != nil {
		h.log.Error("api.firmware.publish.fail", "err", err)
		apiError(w, http.StatusInternalServerError, "release publish failed")
		return
	}

	h.log.Info("api.firmware.publish", "version", v.Version)
	apiJSON(w, http.StatusOK, true)
}

func (h *apiHandler) requireUser(w http.ResponseWriter, r *http.Request) (account.User, bool) {
	u, err := h.accounts.UserFromRequest(r)
	if err != nil {
		apiError(w, http.StatusForbidden, "login required")
		return account.User{}, false
	}
	return u, true
}

func (h *apiHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (account.User, bool) {
	u, err := h.accounts.UserFromRequest(r)
	if err != nil || !u.IsAdmin() {
		apiError(w, http.StatusForbidden, "admin only")
		return account.User{}, false
	}
	return u, true
}

func newID() string { return ulid.Make().String() }

func apiJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, status int, msg string) {
	apiJSON(w, status, map[string]string{"error": msg})
}

func apiQueryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
