package notify

import (
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"epireport/internal/model"
)

type Kind string

const (
	KindFeedback   Kind = "feedback"
	KindEscalation Kind = "escalation"
	KindDismissal  Kind = "dismissal"
)

// Message is one queued post-commit side effect.
type Message struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	CreatedAt  time.Time   `json:"created_at"`
	Feedback   *Feedback   `json:"feedback,omitempty"`
	Escalation *Escalation `json:"escalation,omitempty"`
	Dismissal  *Dismissal  `json:"dismissal,omitempty"`
}

// Feedback is an SMS sent through the gateway's email-to-SMS address.
type Feedback struct {
	SenderEmail  string   `json:"sender_email"`
	SenderName   string   `json:"sender_name"`
	PhoneNumbers []string `json:"phone_numbers"`
	Body         string   `json:"body"`
}

type Escalation struct {
	AlertID             int64                  `json:"alert_id"`
	ProjectID           int64                  `json:"project_id"`
	ProjectHealthRiskID int64                  `json:"project_health_risk_id"`
	HealthRiskCode      int                    `json:"health_risk_code"`
	HealthRiskName      string                 `json:"health_risk_name"`
	ReportCount         int                    `json:"report_count"`
	EscalatedAt         time.Time              `json:"escalated_at"`
	Recipients          []model.AlertRecipient `json:"recipients"`
}

type Dismissal struct {
	AlertID  int64 `json:"alert_id"`
	ReportID int64 `json:"report_id"`
}

func newMessage(kind Kind) Message {
	return Message{ID: uuid.NewString(), Kind: kind, CreatedAt: time.Now().UTC()}
}

// NewFeedback builds an SMS reply to phone. ok is false when the gateway has
// no outbound address or there is nothing to say.
func NewFeedback(gw model.GatewaySetting, phone, body string) (Message, bool) {
	if gw.EmailAddress == "" || phone == "" || body == "" {
		return Message{}, false
	}
	msg := newMessage(KindFeedback)
	msg.Feedback = &Feedback{
		SenderEmail:  gw.EmailAddress,
		SenderName:   gw.Name,
		PhoneNumbers: []string{phone},
		Body:         truncate(body, model.MaxFeedbackMessageLength),
	}
	return msg, true
}

func NewEscalation(alert model.Alert, phr model.ProjectHealthRisk) Message {
	msg := newMessage(KindEscalation)
	esc := &Escalation{
		AlertID:             alert.ID,
		ProjectID:           phr.ProjectID,
		ProjectHealthRiskID: phr.ID,
		HealthRiskCode:      phr.HealthRiskCode,
		HealthRiskName:      phr.HealthRiskName,
		ReportCount:         alert.ActiveReports(),
	}
	if alert.EscalatedAt != nil {
		esc.EscalatedAt = *alert.EscalatedAt
	}
	msg.Escalation = esc
	return msg
}

func NewDismissal(alertID, reportID int64) Message {
	msg := newMessage(KindDismissal)
	msg.Dismissal = &Dismissal{AlertID: alertID, ReportID: reportID}
	return msg
}

// Key is the partitioning key used on the broker.
func (m Message) Key() string {
	switch {
	case m.Feedback != nil && len(m.Feedback.PhoneNumbers) > 0:
		return m.Feedback.PhoneNumbers[0]
	case m.Escalation != nil:
		return strconv.FormatInt(m.Escalation.AlertID, 10)
	case m.Dismissal != nil:
		return strconv.FormatInt(m.Dismissal.ReportID, 10)
	}
	return m.ID
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
