package progress

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
)

type keys struct {
	prefix string
}

func (k keys) batchPrefix() string { return k.prefix + ":batch:" }
func (k keys) batch(id string) string { return k.batchPrefix() + id }
func (k keys) creators(batchID string) string { return k.batch(batchID) + ":creators" }
func (k keys) creator(id string) string { return k.prefix + ":creator:" + id }
func (k keys) updates(batchID string) string { return k.batch(batchID) + ":updates" }
func (k keys) media(creatorID string) string { return k.creator(creatorID) + ":media" }
func (k keys) mediaDone(creatorID string) string { return k.creator(creatorID) + ":media:done" }
func (k keys) active() string { return k.prefix + ":batches:active" }

// mediaMember names one analysis job inside a creator's media sets
func mediaMember(kind domain.Kind, jobID string) string { return string(kind) + "/" + jobID }

func parseMediaMember(member string) (MediaRef, bool) {
	kind, id, ok := strings.Cut(member, "/")
	if !ok || id == "" {
		return MediaRef{}, false
	}
	return MediaRef{Kind: domain.Kind(kind), JobID: id}, true
}

func intField(fields map[string]string, name string) int {
	n, _ := strconv.Atoi(fields[name])
	return n
}

func timeField(fields map[string]string, name string) *time.Time {
	n, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil || n <= 0 {
		return nil
	}
	t := time.UnixMilli(n).UTC()
	return &t
}

func decodeBatch(fields map[string]string) *domain.BatchProgress {
	p := &domain.BatchProgress{
		BatchID:            fields["batch_id"],
		Status:             domain.BatchStatus(fields["status"]),
		TotalCreators:      intField(fields, "total_creators"),
		PendingCreators:    intField(fields, "pending_creators"),
		ProcessingCreators: intField(fields, "processing_creators"),
		CompletedCreators:  intField(fields, "completed_creators"),
		FailedCreators:     intField(fields, "failed_creators"),
		TotalVideos:        intField(fields, "total_videos"),
		CompletedVideos:    intField(fields, "completed_videos"),
		FailedVideos:       intField(fields, "failed_videos"),
		Error:              fields["error"],
		CompletedAt:        timeField(fields, "completed_at"),
	}
	if t := timeField(fields, "started_at"); t != nil {
		p.StartedAt = *t
	}
	if t := timeField(fields, "updated_at"); t != nil {
		p.UpdatedAt = *t
	}
	return p
}

func decodeCreator(fields map[string]string) *domain.CreatorProgress {
	c := &domain.CreatorProgress{
		CreatorID: fields["creator_id"],
		BatchID:   fields["batch_id"],
		Status:    domain.ItemStatus(fields["status"]),
		Error:     fields["error"],
		Platforms: make(map[string]domain.ProgressEntry),
		VideoProgress: domain.VideoTally{
			Total:     intField(fields, "videos_total"),
			Completed: intField(fields, "videos_completed"),
			Failed:    intField(fields, "videos_failed"),
		},
	}
	if t := timeField(fields, "updated_at"); t != nil {
		c.UpdatedAt = *t
	}

	for name, value := range fields {
		rest, ok := strings.CutPrefix(name, "platform:")
		if !ok {
			continue
		}
		idx := strings.LastIndex(rest, ":")
		if idx <= 0 {
			continue
		}
		platform, attr := rest[:idx], rest[idx+1:]

		entry := c.Platforms[platform]
		switch attr {
		case "status":
			entry.Status = domain.ItemStatus(value)
		case "error":
			entry.Error = value
		case "started_at":
			entry.StartedAt = timeField(fields, name)
		case "completed_at":
			entry.CompletedAt = timeField(fields, name)
		}
		c.Platforms[platform] = entry
	}
	return c
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
