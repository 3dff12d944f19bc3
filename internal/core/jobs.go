package core

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"clubhouse/internal/scheduler"
	"clubhouse/internal/types"
)

// jobStatusView is the wire form of scheduler.JobStatus.
type jobStatusView struct {
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	IsRunning           bool       `json:"is_running"`
	LastRun             *time.Time `json:"last_run,omitempty"`
	NextRun             *time.Time `json:"next_run,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastDurationMs      int64      `json:"last_duration_ms"`
	LastError           string     `json:"last_error,omitempty"`
	TotalRuns           int        `json:"total_runs"`
}

type jobsResponse struct {
	Jobs          []jobStatusView `json:"jobs"`
	CacheSize     int             `json:"cache_size"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartedAt     time.Time       `json:"started_at"`
}

// runResponse is returned by the manual trigger. Error is set when the run
// itself failed.
type runResponse struct {
	Result     scheduler.Result `json:"result"`
	DurationMs int64            `json:"duration_ms"`
	Error      *ErrorDetail     `json:"error,omitempty"`
}

// HandleListJobs serves GET /admin/jobs.
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	report := s.Engine.GetJobStatuses()

	views := make([]jobStatusView, 0, len(report.Jobs))
	for _, st := range report.Jobs {
		views = append(views, jobStatusView{
			Name:                string(st.Name),
			Description:         scheduler.JobDescriptions[st.Name],
			IsRunning:           st.IsRunning,
			LastRun:             st.LastRun,
			NextRun:             st.NextRun,
			ConsecutiveFailures: st.ConsecutiveFailures,
			LastDurationMs:      st.LastDuration.Milliseconds(),
			LastError:           st.LastError,
			TotalRuns:           st.TotalRuns,
		})
	}

	JSON(w, r, http.StatusOK, jobsResponse{
		Jobs:          views,
		CacheSize:     report.CacheSize,
		UptimeSeconds: int64(report.Uptime.Seconds()),
		StartedAt:     report.StartedAt,
	})
}

// HandleRunJob serves POST /admin/jobs/{name}/run. The run is synchronous.
//
//	200 run succeeded
//	409 run skipped, a previous run is still active
//	404 unknown job
//	500 run failed; body carries the partial result
func (s *Server) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := scheduler.JobName(chi.URLParam(r, "name"))
	if name == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "job name is required", nil))
		return
	}

	res, err := s.Engine.ExecuteJobManually(r.Context(), name)
	if types.IsCode(err, types.ErrCodeConfigJobNotRegistered) {
		Error(w, r, err)
		return
	}

	resp := runResponse{Result: res, DurationMs: res.Duration.Milliseconds()}
	switch {
	case err != nil:
		detail := errorDetail(r, err)
		resp.Error = &detail
		JSON(w, r, http.StatusInternalServerError, resp)
	case res.Skipped:
		JSON(w, r, http.StatusConflict, resp)
	default:
		JSON(w, r, http.StatusOK, resp)
	}
}
