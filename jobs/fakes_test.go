package jobs

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"mediaconv/models"
	"mediaconv/repository"
)

// eventLog records cross-component writes in order, so tests can assert
// durable-before-cache sequencing.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// fakeStore is an in-memory JobStore with the store contract's semantics:
// expired records read as absent, transitions are guarded, and the first
// download timestamp wins.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	now  func() time.Time

	events *eventLog

	putErr      error
	getErr      error
	updateErr   error
	deleteErr   map[string]error
	scanErr     error
	updateDelay time.Duration

	putCalls     int
	appliedCalls int
	deleted      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      make(map[string]*models.Job),
		deleteErr: make(map[string]error),
	}
}

func (s *fakeStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func copyJob(job *models.Job) *models.Job {
	c := *job
	if job.Output != nil {
		out := *job.Output
		c.Output = &out
	}
	if job.Preview != nil {
		pv := *job.Preview
		c.Preview = &pv
	}
	if job.DownloadedAt != nil {
		at := *job.DownloadedAt
		c.DownloadedAt = &at
	}
	return &c
}

func (s *fakeStore) Put(_ context.Context, job *models.Job) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*models.Job, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Expired(s.clock()) {
		return nil, models.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, from []models.JobStatus, upd repository.StatusUpdate) (*models.Job, bool, error) {
	if s.updateErr != nil {
		return nil, false, s.updateErr
	}
	if s.updateDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(s.updateDelay):
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Expired(s.clock()) {
		return nil, false, models.ErrJobNotFound
	}
	if !slices.Contains(from, job.Status) {
		return copyJob(job), false, nil
	}
	job.Status = upd.Status
	if upd.Output != nil {
		out := *upd.Output
		job.Output = &out
	}
	if upd.Preview != nil {
		pv := *upd.Preview
		job.Preview = &pv
	}
	job.ErrorMessage = upd.ErrorMessage
	job.UpdatedAt = s.clock().UTC()
	s.appliedCalls++
	if s.events != nil {
		s.events.add("store:" + string(upd.Status) + ":" + id)
	}
	return copyJob(job), true, nil
}

func (s *fakeStore) MarkDownloaded(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Expired(s.clock()) {
		return models.ErrJobNotFound
	}
	if job.DownloadedAt == nil {
		stamp := at
		job.DownloadedAt = &stamp
	}
	return nil
}

func (s *fakeStore) ScanExpired(_ context.Context, cutoff int64, limit int) ([]*models.Job, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if job.ExpiresAt <= cutoff {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt < out[j].ExpiresAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) ScanOrphans(_ context.Context, terminalBefore, abandonedBefore time.Time, limit int) ([]*models.Job, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if job.DownloadedAt != nil || job.Expired(s.clock()) {
			continue
		}
		idleTerminal := job.Status.Terminal() && !job.UpdatedAt.After(terminalBefore)
		abandoned := !job.CreatedAt.After(abandonedBefore)
		if idleTerminal || abandoned {
			out = append(out, copyJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteErr[id]; err != nil {
		return err
	}
	delete(s.jobs, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) Stats(_ context.Context) (*models.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	stats := &models.JobStats{}
	var oldest, newest time.Time
	for _, job := range s.jobs {
		if job.Status.Terminal() || job.Expired(now) {
			continue
		}
		stats.ActiveJobs++
		if oldest.IsZero() || job.CreatedAt.Before(oldest) {
			oldest = job.CreatedAt
		}
		if newest.IsZero() || job.CreatedAt.After(newest) {
			newest = job.CreatedAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestAge = now.Sub(oldest)
		stats.NewestAge = now.Sub(newest)
	}
	return stats, nil
}

// seed installs a job directly, bypassing Create.
func (s *fakeStore) seed(job *models.Job) {
	s.mu.Lock()
	s.jobs[job.ID] = copyJob(job)
	s.mu.Unlock()
}

func (s *fakeStore) stored(id string) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	return copyJob(job)
}

// fakeProgressCache is an in-memory ProgressStore recording every write.
type fakeProgressCache struct {
	mu     sync.Mutex
	recs   map[string]*models.ProgressRecord
	writes []models.ProgressRecord

	events *eventLog

	setErr error
	getErr error
	delErr error
}

func newFakeProgressCache() *fakeProgressCache {
	return &fakeProgressCache{recs: make(map[string]*models.ProgressRecord)}
}

func (c *fakeProgressCache) Set(_ context.Context, rec *models.ProgressRecord) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := *rec
	c.recs[rec.JobID] = &stored
	c.writes = append(c.writes, stored)
	if c.events != nil {
		c.events.add("cache:" + rec.Stage + ":" + rec.JobID)
	}
	return nil
}

func (c *fakeProgressCache) Get(_ context.Context, jobID string) (*models.ProgressRecord, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.recs[jobID]
	if !ok {
		return nil, nil
	}
	stored := *rec
	return &stored, nil
}

func (c *fakeProgressCache) Delete(_ context.Context, jobID string) error {
	if c.delErr != nil {
		return c.delErr
	}
	c.mu.Lock()
	delete(c.recs, jobID)
	c.mu.Unlock()
	return nil
}

func (c *fakeProgressCache) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeProgressCache) lastWrite() *models.ProgressRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	rec := c.writes[len(c.writes)-1]
	return &rec
}

func (c *fakeProgressCache) writeLog() []models.ProgressRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ProgressRecord(nil), c.writes...)
}

// fakeRemover is an in-memory ArtifactRemover. Objects live in sizes keyed
// by bucket/key; removing a missing object reports zero bytes and no error.
type fakeRemover struct {
	mu       sync.Mutex
	sizes    map[string]int64
	failKeys map[string]error
	removed  []string
}

func newFakeRemover() *fakeRemover {
	return &fakeRemover{
		sizes:    make(map[string]int64),
		failKeys: make(map[string]error),
	}
}

func objectKey(ref models.ObjectRef) string {
	return ref.Bucket + "/" + ref.Key
}

func (r *fakeRemover) put(ref models.ObjectRef) {
	r.mu.Lock()
	r.sizes[objectKey(ref)] = ref.Size
	r.mu.Unlock()
}

func (r *fakeRemover) Remove(_ context.Context, ref models.ObjectRef) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := objectKey(ref)
	if err := r.failKeys[key]; err != nil {
		return 0, err
	}
	size, ok := r.sizes[key]
	if !ok {
		return 0, nil
	}
	delete(r.sizes, key)
	r.removed = append(r.removed, key)
	return size, nil
}

func (r *fakeRemover) has(ref models.ObjectRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sizes[objectKey(ref)]
	return ok
}
