package api

import (
	"time"

	"mailsentry/internal/model"
)

// Presentation shapes. The persistence models stay free of JSON tags;
// these views pin the wire format the UI consumes.

type signalView struct {
	Weight      float64 `json:"weight"`
	Status      int     `json:"status"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	Verdict     string  `json:"verdict"`
	Reason      string  `json:"reason"`
}

type detectionRecordView struct {
	EmailID           int        `json:"email_id"`
	Stage             int        `json:"stage"`
	ParallelCompleted bool       `json:"parallel_completed"`
	Content           signalView `json:"content"`
	URL               signalView `json:"url"`
	Metadata          signalView `json:"metadata"`
	FusedScore        float64    `json:"fused_score"`
	FusedVerdict      string     `json:"fused_verdict"`
	FusedExplanation  string     `json:"fused_explanation"`
	Confirmed         bool       `json:"confirmed"`
	Summary           string     `json:"summary,omitempty"`
	Category          string     `json:"category,omitempty"`
	Urgency           string     `json:"urgency,omitempty"`
	Importance        string     `json:"importance,omitempty"`
	NeedSchedule      bool       `json:"need_schedule"`
	ScheduleName      string     `json:"schedule_name,omitempty"`
	ScheduleTime      *time.Time `json:"schedule_time,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type emailView struct {
	ID              int        `json:"id"`
	Subject         string     `json:"subject"`
	Sender          string     `json:"sender"`
	EmailDate       *time.Time `json:"email_date"`
	DetectionStatus int        `json:"detection_status"`
	CreatedAt       time.Time  `json:"created_at"`
}

func detectionView(rec *model.DetectionRecord) detectionRecordView {
	return detectionRecordView{
		EmailID:           rec.EmailID,
		Stage:             int(rec.Stage),
		ParallelCompleted: rec.ParallelCompleted,
		Content:           signalViewOf(rec.Content),
		URL:               signalViewOf(rec.URL),
		Metadata:          signalViewOf(rec.Metadata),
		FusedScore:        rec.FusedScore,
		FusedVerdict:      verdictLabel(rec.FusedVerdict),
		FusedExplanation:  rec.FusedExplanation,
		Confirmed:         rec.Confirmed,
		Summary:           rec.Summary,
		Category:          rec.Category,
		Urgency:           rec.Urgency,
		Importance:        rec.Importance,
		NeedSchedule:      rec.NeedSchedule,
		ScheduleName:      rec.ScheduleName,
		ScheduleTime:      rec.ScheduleTime,
		UpdatedAt:         rec.UpdatedAt,
	}
}

func signalViewOf(s model.SignalState) signalView {
	return signalView{
		Weight:      s.Weight,
		Status:      int(s.Status),
		Probability: s.Probability,
		Confidence:  s.Confidence,
		Verdict:     verdictLabel(s.Verdict),
		Reason:      s.Reason,
	}
}

func emailViews(emails []model.Email) []emailView {
	views := make([]emailView, 0, len(emails))
	for _, e := range emails {
		views = append(views, emailView{
			ID:              e.ID,
			Subject:         e.Subject,
			Sender:          e.Sender,
			EmailDate:       e.EmailDate,
			DetectionStatus: int(e.DetectionStatus),
			CreatedAt:       e.CreatedAt,
		})
	}
	return views
}
