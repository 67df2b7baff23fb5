package dto

import "github.com/cuongbtq/media-vetting/internal/domain"

type AccountRequest struct {
	Platform string `json:"platform" binding:"required"`
	Handle   string `json:"handle" binding:"required"`
}

type CreatorRequest struct {
	CreatorID string           `json:"creator_id" binding:"required"`
	Accounts  []AccountRequest `json:"accounts" binding:"dive"`
}

type CreateBatchRequest struct {
	BatchID    string           `json:"batch_id"`
	Creators   []CreatorRequest `json:"creators" binding:"required,min=1,dive"`
	MonthsBack int              `json:"months_back" binding:"gte=0"`
	MaxPosts   int              `json:"max_posts" binding:"gte=0"`
	// Async hands seeding to a batch-coordinate worker instead of doing it inline
	Async bool `json:"async"`
}

// ToInput converts the request into the coordinator payload
func (r *CreateBatchRequest) ToInput() domain.BatchCoordinateInput {
	in := domain.BatchCoordinateInput{
		BatchID:    r.BatchID,
		MonthsBack: r.MonthsBack,
		MaxPosts:   r.MaxPosts,
		Creators:   make([]domain.CreatorSeed, 0, len(r.Creators)),
	}
	for _, c := range r.Creators {
		seed := domain.CreatorSeed{CreatorID: c.CreatorID}
		for _, a := range c.Accounts {
			seed.Accounts = append(seed.Accounts, domain.Account{Platform: a.Platform, Handle: a.Handle})
		}
		in.Creators = append(in.Creators, seed)
	}
	return in
}

type CreateBatchResponse struct {
	BatchID      string `json:"batch_id"`
	Queued       bool   `json:"queued"`
	Creators     int    `json:"creators,omitempty"`
	JobsEnqueued int    `json:"jobs_enqueued,omitempty"`
}

type FailBatchRequest struct {
	Reason string `json:"reason"`
	// Drain also discards waiting jobs of these kinds
	Drain []string `json:"drain"`
}

type FailBatchResponse struct {
	BatchID string         `json:"batch_id"`
	Status  string         `json:"status"`
	Drained map[string]int `json:"drained,omitempty"`
}

type BatchProgressDTO struct {
	*domain.BatchProgress
	Percentage int `json:"percentage"`
}

// NewBatchProgressDTO attaches the derived completion percentage
func NewBatchProgressDTO(p *domain.BatchProgress) BatchProgressDTO {
	return BatchProgressDTO{BatchProgress: p, Percentage: p.Percentage()}
}

type ListCreatorsResponse struct {
	BatchID  string                   `json:"batch_id"`
	Creators []domain.CreatorProgress `json:"creators"`
}
