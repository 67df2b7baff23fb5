package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
)

// keys names every Redis key of one queue
type keys struct {
	base string
}

func newKeys(prefix, queueName string) keys {
	return keys{base: prefix + ":" + queueName}
}

func (k keys) jobPrefix() string { return k.base + ":job:" }
func (k keys) job(id string) string { return k.jobPrefix() + id }
func (k keys) wait() string { return k.base + ":wait" }
func (k keys) delayed() string { return k.base + ":delayed" }
func (k keys) active() string { return k.base + ":active" }
func (k keys) completed() string { return k.base + ":completed" }
func (k keys) failed() string { return k.base + ":failed" }
func (k keys) meta() string { return k.base + ":meta" }
func (k keys) seq() string { return k.base + ":seq" }
func (k keys) limiter() string { return k.base + ":limiter" }
func (k keys) events() string { return k.base + ":events" }

func ms(t time.Time) int64 {
	return t.UnixMilli()
}

// retentionMs converts a retention policy to the script convention: -1 keep, 0 drop, >0 ttl
func retentionMs(d time.Duration) int64 {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	default:
		if d < time.Millisecond {
			return 1
		}
		return d.Milliseconds()
	}
}

// flatToMap converts a flat HGETALL reply returned from a script
func flatToMap(reply []any) map[string]string {
	out := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		out[k] = v
	}
	return out
}

// decodeJob builds a job from its hash fields
func decodeJob(kind domain.Kind, fields map[string]string) (*domain.Job, error) {
	id, ok := fields["id"]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	job := &domain.Job{
		ID:           id,
		Kind:         kind,
		State:        domain.JobState(fields["state"]),
		FailedReason: fields["failed_reason"],
	}
	if data := fields["data"]; data != "" {
		job.Payload = json.RawMessage(data)
	}

	var err error
	if job.AttemptsMade, err = atoi(fields, "attempts_made"); err != nil {
		return nil, err
	}
	if job.MaxAttempts, err = atoi(fields, "max_attempts"); err != nil {
		return nil, err
	}
	if job.Priority, err = atoi(fields, "priority"); err != nil {
		return nil, err
	}
	delayMs, err := atoi(fields, "delay_ms")
	if err != nil {
		return nil, err
	}
	job.Delay = time.Duration(delayMs) * time.Millisecond

	if t := msTime(fields["enqueued_at"]); t != nil {
		job.EnqueuedAt = *t
	}
	job.ProcessedAt = msTime(fields["processed_at"])
	job.FinishedAt = msTime(fields["finished_at"])

	if raw := fields["progress"]; raw != "" {
		var progress domain.JobProgress
		if err := json.Unmarshal([]byte(raw), &progress); err != nil {
			return nil, fmt.Errorf("decode job progress: %w", err)
		}
		job.Progress = &progress
	}
	if raw := fields["result"]; raw != "" {
		var result domain.JobResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &result
	}

	return job, nil
}

func atoi(fields map[string]string, name string) (int, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("decode job field %s: %w", name, err)
	}
	return n, nil
}

func msTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	t := time.UnixMilli(n).UTC()
	return &t
}
