package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/pipeline"
	"conveyor/internal/store"
)

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func getJSON(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func submitArticle(t *testing.T, baseURL, title string) string {
	t.Helper()

	resp, body := postJSON(t, baseURL+"/intake", map[string]any{
		"job_type": "article",
		"payload": map[string]any{
			"title":    title,
			"keywords": []string{"seo", "crawling"},
		},
	}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("intake status = %d, body %s", resp.StatusCode, body)
	}
	var result struct {
		JobID  string `json:"job_id"`
		Reused bool   `json:"reused"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode intake response: %v", err)
	}
	if result.JobID == "" {
		t.Fatal("intake response missing job_id")
	}
	return result.JobID
}

func TestIntakeEndpoint(t *testing.T) {
	fx := newTestDaemon(t)

	jobID := submitArticle(t, fx.baseURL, "Improving Crawl Budget")

	// A repeat submission reuses the active job instead of creating a
	// duplicate.
	resp, body := postJSON(t, fx.baseURL+"/intake", map[string]any{
		"job_type": "article",
		"payload": map[string]any{
			"title":    "Improving Crawl Budget",
			"keywords": []string{"seo", "crawling"},
		},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate intake status = %d, body %s", resp.StatusCode, body)
	}
	var result struct {
		JobID  string `json:"job_id"`
		Reused bool   `json:"reused"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode intake response: %v", err)
	}
	if !result.Reused || result.JobID != jobID {
		t.Fatalf("expected reused job %s, got %+v", jobID, result)
	}

	resp, _ = postJSON(t, fx.baseURL+"/intake", map[string]any{
		"job_type": "article",
		"payload":  map[string]any{"title": "No Keywords"},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid intake status = %d, want 400", resp.StatusCode)
	}
}

func TestIntakeAuth(t *testing.T) {
	fx := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Paths.APIToken = "sekret"
	})

	resp, _ := postJSON(t, fx.baseURL+"/intake", map[string]any{"job_type": "article"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated intake status = %d, want 401", resp.StatusCode)
	}

	resp, _ = postJSON(t, fx.baseURL+"/intake", map[string]any{
		"job_type": "article",
		"payload": map[string]any{
			"title":    "Authenticated",
			"keywords": []string{"auth"},
		},
	}, map[string]string{"Authorization": "Bearer sekret"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("authenticated intake status = %d, want 202", resp.StatusCode)
	}
}

func TestWorkersEndpoint(t *testing.T) {
	fx := newTestDaemon(t)
	jobID := submitArticle(t, fx.baseURL, "Workers Endpoint")

	resp, body := postJSON(t, fx.baseURL+"/workers/research", nil, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("workers status = %d, body %s", resp.StatusCode, body)
	}
	var accepted struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("decode workers response: %v", err)
	}
	if accepted.Count != 1 {
		t.Fatalf("claimed count = %d, want 1", accepted.Count)
	}

	waitForStage(t, fx.store, jobID, pipeline.StageOutline)

	// The research backlog is drained now.
	resp, _ = postJSON(t, fx.baseURL+"/workers/research", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("empty workers status = %d, want 204", resp.StatusCode)
	}

	resp, _ = postJSON(t, fx.baseURL+"/workers/publish", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown stage status = %d, want 400", resp.StatusCode)
	}
}

func TestWorkersBatchSizeOverride(t *testing.T) {
	fx := newTestDaemon(t)
	submitArticle(t, fx.baseURL, "Batch One")
	submitArticle(t, fx.baseURL, "Batch Two")

	resp, body := postJSON(t, fx.baseURL+"/workers/research", map[string]int{"batchSize": 1}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("workers status = %d, body %s", resp.StatusCode, body)
	}
	var accepted struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("decode workers response: %v", err)
	}
	if accepted.Count != 1 {
		t.Fatalf("claimed count = %d, want 1", accepted.Count)
	}
}

func TestBulkRescueEndpoint(t *testing.T) {
	// Push the periodic sweep far out so only the API call rescues.
	fx := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Workflow.RescueInterval = 3600
	})
	jobID := submitArticle(t, fx.baseURL, "Stuck Job")

	job, err := fx.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if _, err := fx.store.MarkProcessing(context.Background(), job.ID, job.Stage); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	ageJob(t, fx.store, jobID, 2*time.Hour)

	resp, body := postJSON(t, fx.baseURL+"/bulk-rescue", map[string]any{
		"min_age_minutes": 30,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk-rescue status = %d, body %s", resp.StatusCode, body)
	}
	var summary struct {
		RescuedJobs int      `json:"rescued_jobs"`
		JobIDs      []string `json:"job_ids"`
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		t.Fatalf("decode rescue summary: %v", err)
	}
	if summary.RescuedJobs != 1 || len(summary.JobIDs) != 1 || summary.JobIDs[0] != jobID {
		t.Fatalf("unexpected rescue summary %+v", summary)
	}

	rescued, err := fx.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob after rescue: %v", err)
	}
	if rescued.Status != pipeline.StatusQueued {
		t.Fatalf("rescued job status = %s, want queued", rescued.Status)
	}
}

func TestHealthcheckEndpoint(t *testing.T) {
	fx := newTestDaemon(t)

	resp, body := getJSON(t, fx.baseURL+"/healthcheck")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthcheck status = %d, body %s", resp.StatusCode, body)
	}
	var doc struct {
		Health struct {
			Healthy    bool `json:"healthy"`
			QueueDepth int  `json:"queue_depth"`
		} `json:"health"`
		Thresholds struct {
			QueueDepth int `json:"queue_depth"`
		} `json:"thresholds"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !doc.Health.Healthy {
		t.Fatalf("idle pipeline should be healthy: %s", body)
	}
	if doc.Thresholds.QueueDepth == 0 {
		t.Fatalf("report should echo applied thresholds: %s", body)
	}

	submitArticle(t, fx.baseURL, "Depth One")
	submitArticle(t, fx.baseURL, "Depth Two")

	resp, body = getJSON(t, fx.baseURL+"/healthcheck?queue_depth_threshold=1")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("deep queue healthcheck status = %d, body %s", resp.StatusCode, body)
	}
}

func TestJobEndpoints(t *testing.T) {
	fx := newTestDaemon(t)
	jobID := submitArticle(t, fx.baseURL, "Job Lookup")

	resp, body := getJSON(t, fx.baseURL+"/api/jobs/"+jobID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("job status = %d, body %s", resp.StatusCode, body)
	}
	var detail struct {
		Job struct {
			ID     string          `json:"id"`
			Stage  pipeline.Stage  `json:"stage"`
			Status pipeline.Status `json:"status"`
		} `json:"job"`
		Stages []struct {
			Stage pipeline.Stage `json:"stage"`
		} `json:"stages"`
		Events []struct {
			Status string `json:"status"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatalf("decode job detail: %v", err)
	}
	if detail.Job.ID != jobID || detail.Job.Stage != pipeline.StageResearch {
		t.Fatalf("unexpected job detail %+v", detail.Job)
	}
	if len(detail.Stages) != len(pipeline.Stages()) {
		t.Fatalf("stage records = %d, want %d", len(detail.Stages), len(pipeline.Stages()))
	}
	if len(detail.Events) == 0 || detail.Events[0].Status != store.EventCreated {
		t.Fatalf("expected created event first, got %+v", detail.Events)
	}

	resp, _ = getJSON(t, fx.baseURL+"/api/jobs/not-a-job")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing job status = %d, want 404", resp.StatusCode)
	}

	resp, body = getJSON(t, fx.baseURL+"/api/jobs?status=queued")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("job list status = %d, body %s", resp.StatusCode, body)
	}
	var list struct {
		Jobs []struct {
			ID string `json:"id"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode job list: %v", err)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].ID != jobID {
		t.Fatalf("unexpected job list %+v", list.Jobs)
	}

	resp, body = getJSON(t, fx.baseURL+"/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint = %d, body %s", resp.StatusCode, body)
	}
	var status struct {
		Running    bool `json:"running"`
		QueueDepth int  `json:"queue_depth"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.QueueDepth != 1 {
		t.Fatalf("unexpected daemon status %+v", status)
	}
}

func TestOrchestratorEndpoint(t *testing.T) {
	fx := newTestDaemon(t)
	jobID := submitArticle(t, fx.baseURL, "Orchestrated Run")

	resp, body := postJSON(t, fx.baseURL+"/orchestrator", map[string]any{
		"maxWorkers":      2,
		"workersPerStage": 1,
		"durationMinutes": 1,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("orchestrator status = %d, body %s", resp.StatusCode, body)
	}
	var summary struct {
		Cycles          int `json:"cycles"`
		WorkersLaunched int `json:"workersLaunched"`
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		t.Fatalf("decode run summary: %v", err)
	}
	if summary.Cycles == 0 || summary.WorkersLaunched == 0 {
		t.Fatalf("expected productive run, got %+v", summary)
	}

	job, err := fx.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != pipeline.StatusCompleted {
		t.Fatalf("job status after run = %s, want completed", job.Status)
	}
}

// waitForStage polls until the job reaches the given stage. Stage work
// runs on daemon-tracked goroutines, so arrival is asynchronous.
func waitForStage(t *testing.T, st *store.Store, jobID string, stage pipeline.Stage) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Stage == stage {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached stage %s", jobID, stage)
}

// ageJob rewrites heartbeat and updated_at into the past so the rescue
// sweep sees the job as stale.
func ageJob(t *testing.T, st *store.Store, jobID string, age time.Duration) {
	t.Helper()

	past := time.Now().UTC().Add(-age).Format("2006-01-02T15:04:05.000000000Z07:00")
	if _, err := st.DB().ExecContext(context.Background(),
		`UPDATE jobs SET heartbeat = ?, updated_at = ? WHERE id = ?`,
		past, past, jobID); err != nil {
		t.Fatalf("age job: %v", err)
	}
}
