package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// JobState scripts how the fake service answers a result poll.
type JobState string

const (
	JobReady   JobState = "ready"
	JobPending JobState = "pending"
	JobFailed  JobState = "failed"
	JobMissing JobState = "missing"
)

// FakeService is an in-process generation service speaking the v1 wire
// protocol. Job ids are assigned sequentially as job-1, job-2, ...
type FakeService struct {
	server *httptest.Server

	mu        sync.Mutex
	points    int64
	nextJob   int
	nextAsset int
	states    map[string]JobState
	uploads   map[string]string
	released  []string
	polls     map[string]int
	fetches   map[string]int
	holdQuote chan struct{}
}

// NewFakeService starts a fake service that is closed when the test ends.
func NewFakeService(t testing.TB) *FakeService {
	t.Helper()
	f := &FakeService{
		points:  10,
		states:  make(map[string]JobState),
		uploads: make(map[string]string),
		polls:   make(map[string]int),
		fetches: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	mux.HandleFunc("POST /api/v1/quote", f.handleQuote)
	mux.HandleFunc("POST /api/v1/uploads", f.handleUpload)
	mux.HandleFunc("DELETE /api/v1/uploads/{id}", f.handleRelease)
	mux.HandleFunc("POST /api/v1/generate", f.handleGenerate)
	mux.HandleFunc("GET /api/v1/jobs/{id}/result", f.handleResult)
	mux.HandleFunc("GET /files/{name}", f.handleFile)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// BaseURL is the API root to configure clients with.
func (f *FakeService) BaseURL() string {
	return f.server.URL + "/api"
}

// SetState scripts the answer for jobID.
func (f *FakeService) SetState(jobID string, state JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[jobID] = state
}

// SetPoints sets the quoted cost.
func (f *FakeService) SetPoints(points int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = points
}

// FileURL is where the bytes of jobID are served.
func (f *FakeService) FileURL(jobID string) string {
	return f.server.URL + "/files/" + jobID + ".png"
}

// Payload is the body served for jobID.
func Payload(jobID string) []byte {
	return []byte("artifact " + jobID)
}

// Polls reports how often jobID's result was requested.
func (f *FakeService) Polls(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[jobID]
}

// Fetches reports how often jobID's bytes were downloaded.
func (f *FakeService) Fetches(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[jobID]
}

// Released lists asset ids whose uploads were deleted.
func (f *FakeService) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

// HoldNextQuote parks the next quote call until its client goes away. The
// returned channel is closed once that call has arrived.
func (f *FakeService) HoldNextQuote() <-chan struct{} {
	arrived := make(chan struct{})
	f.mu.Lock()
	f.holdQuote = arrived
	f.mu.Unlock()
	return arrived
}

func (f *FakeService) handleQuote(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	points := f.points
	hold := f.holdQuote
	f.holdQuote = nil
	f.mu.Unlock()
	if hold != nil {
		close(hold)
		<-r.Context().Done()
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"points": points})
}

func (f *FakeService) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, err := io.Copy(io.Discard, r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.nextAsset++
	id := fmt.Sprintf("asset-%d", f.nextAsset)
	f.uploads[id] = r.Header.Get("X-Filename")
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"asset_id": id})
}

func (f *FakeService) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.uploads[id]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(f.uploads, id)
	f.released = append(f.released, id)
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	Variations int      `json:"variations"`
	Channels   []string `json:"channels"`
	Seed       *int64   `json:"seed"`
}

type generatedJob struct {
	Channel string `json:"channel"`
	JobID   string `json:"job_id"`
}

type generatedItem struct {
	Jobs []generatedJob `json:"jobs"`
	Seed *int64         `json:"seed,omitempty"`
	Cost int64          `json:"cost"`
}

func (f *FakeService) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error_code": "invalid_request", "messages": []string{err.Error()}})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]generatedItem, 0, req.Variations)
	for range req.Variations {
		item := generatedItem{Seed: req.Seed, Cost: f.points}
		for _, channel := range req.Channels {
			f.nextJob++
			item.Jobs = append(item.Jobs, generatedJob{Channel: channel, JobID: fmt.Sprintf("job-%d", f.nextJob)})
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (f *FakeService) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	f.polls[id]++
	state, ok := f.states[id]
	f.mu.Unlock()
	if !ok {
		state = JobReady
	}
	switch state {
	case JobReady:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "url": f.FileURL(id)})
	case JobPending:
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
	case JobFailed:
		writeJSON(w, http.StatusOK, map[string]string{"status": "failed", "message": "generation failed"})
	default:
		http.NotFound(w, r)
	}
}

func (f *FakeService) handleFile(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSuffix(r.PathValue("name"), ".png")
	f.mu.Lock()
	f.fetches[jobID]++
	f.mu.Unlock()
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(Payload(jobID))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
