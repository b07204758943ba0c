package server

import (
	"time"

	"github.com/mwantia/goattach/pkg/db/models"
)

type attachmentView struct {
	ID             string         `json:"ID"`
	Filename       string         `json:"filename"`
	MimeType       string         `json:"mimeType"`
	Note           string         `json:"note,omitempty"`
	Hash           string         `json:"hash,omitempty"`
	Status         string         `json:"status"`
	LastScan       *time.Time     `json:"lastScan,omitempty"`
	UpKeys         map[string]any `json:"upKeys,omitempty"`
	IsActiveEntity bool           `json:"IsActiveEntity"`
	CreatedAt      time.Time      `json:"createdAt"`
	ModifiedAt     time.Time      `json:"modifiedAt"`
}

func viewOf(row *models.Attachment) attachmentView {
	return attachmentView{
		ID:             row.ID,
		Filename:       row.Filename,
		MimeType:       row.MimeType,
		Note:           row.Note,
		Hash:           row.Hash,
		Status:         row.Status,
		LastScan:       row.LastScan,
		UpKeys:         row.UpKeys,
		IsActiveEntity: row.IsActiveEntity,
		CreatedAt:      row.CreatedAt,
		ModifiedAt:     row.UpdatedAt,
	}
}

func viewsOf(rows []models.Attachment) []attachmentView {
	views := make([]attachmentView, len(rows))
	for i := range rows {
		views[i] = viewOf(&rows[i])
	}
	return views
}
