// Package stream exposes the stream-job surface of the (external)
// streaming pipeline. The engine treats jobs as opaque correlation
// tokens: a new job id means a new shared stream session and invalidates
// older drift measurements.
package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ensemble-audio/ensemble/internal/queue"
)

type Codec string

const (
	CodecFLAC Codec = "flac"
	CodecPCM  Codec = "pcm"
	CodecMP3  Codec = "mp3"
)

// Job is one shared multi-client stream session.
type Job struct {
	ID      string
	QueueID string
}

type Provider interface {
	// CreateMultiClientJob starts a new shared stream session for the
	// queue, replacing any previous session for the same queue.
	CreateMultiClientJob(ctx context.Context, queueID string, item queue.Item, seekSec int, fadeIn bool) (*Job, error)
	// ResolveURL returns the per-player url for a shared session.
	ResolveURL(job *Job, playerID string, codec Codec) string
	// ResolveItemURL returns a direct url for single-player playback.
	ResolveItemURL(item queue.Item, codec Codec, seekSec int, fadeIn bool) string
	// JobFor returns the active session for a queue, or nil.
	JobFor(queueID string) *Job
}

// Service is the in-process Provider. URL resolution points at the
// stream server named in the config; the actual transcode pipeline lives
// behind those urls.
type Service struct {
	baseURL string

	mu   sync.Mutex
	jobs map[string]*Job // queue id -> active job
}

func NewService(baseURL string) *Service {
	return &Service{baseURL: baseURL, jobs: make(map[string]*Job)}
}

func (s *Service) CreateMultiClientJob(ctx context.Context, queueID string, item queue.Item, seekSec int, fadeIn bool) (*Job, error) {
	if queueID == "" {
		return nil, fmt.Errorf("create stream job: empty queue id")
	}
	job := &Job{ID: uuid.NewString(), QueueID: queueID}
	s.mu.Lock()
	s.jobs[queueID] = job
	s.mu.Unlock()
	return job, nil
}

func (s *Service) ResolveURL(job *Job, playerID string, codec Codec) string {
	return fmt.Sprintf("%s/job/%s/%s.%s", s.baseURL, job.ID, playerID, codec)
}

func (s *Service) ResolveItemURL(item queue.Item, codec Codec, seekSec int, fadeIn bool) string {
	url := fmt.Sprintf("%s/item/%s.%s", s.baseURL, item.ID, codec)
	if seekSec > 0 {
		url += fmt.Sprintf("?seek=%d", seekSec)
	}
	return url
}

func (s *Service) JobFor(queueID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[queueID]
}
