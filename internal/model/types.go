package model

import "time"

type ReportType string

const (
	ReportTypeSingle              ReportType = "Single"
	ReportTypeAggregate           ReportType = "Aggregate"
	ReportTypeNonHuman            ReportType = "NonHuman"
	ReportTypeActivity            ReportType = "Activity"
	ReportTypeDataCollectionPoint ReportType = "DataCollectionPoint"
)

type DataCollectorType string

const (
	DataCollectorHuman           DataCollectorType = "Human"
	DataCollectorCollectionPoint DataCollectorType = "CollectionPoint"
)

type HealthRiskType string

const (
	HealthRiskHuman        HealthRiskType = "Human"
	HealthRiskNonHuman     HealthRiskType = "NonHuman"
	HealthRiskUnusualEvent HealthRiskType = "UnusualEvent"
	HealthRiskActivity     HealthRiskType = "Activity"
)

type ReportStatus string

const (
	ReportStatusNew      ReportStatus = "New"
	ReportStatusPending  ReportStatus = "Pending"
	ReportStatusAccepted ReportStatus = "Accepted"
	ReportStatusRejected ReportStatus = "Rejected"
)

type AlertStatus string

const (
	AlertStatusPending   AlertStatus = "Pending"
	AlertStatusEscalated AlertStatus = "Escalated"
	AlertStatusClosed    AlertStatus = "Closed"
	AlertStatusDismissed AlertStatus = "Dismissed"
)

// Open reports whether reports may still join an alert in this status.
func (s AlertStatus) Open() bool {
	return s == AlertStatusPending || s == AlertStatusEscalated
}

type GatewayType string

const GatewaySmsEagle GatewayType = "SmsEagle"

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type NationalSociety struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	LanguageCode string `json:"language_code"`
}

type GatewaySetting struct {
	ID                int64       `json:"id"`
	APIKey            string      `json:"api_key"`
	GatewayType       GatewayType `json:"gateway_type"`
	NationalSocietyID int64       `json:"national_society_id"`
	EmailAddress      string      `json:"email_address,omitempty"`
	Name              string      `json:"name"`
}

type Project struct {
	ID                int64  `json:"id"`
	NationalSocietyID int64  `json:"national_society_id"`
	Name              string `json:"name"`
}

// DataCollector.NationalSocietyID is read from the collector's project and is
// ignored when seeding.
type DataCollector struct {
	ID                    int64             `json:"id"`
	ProjectID             int64             `json:"project_id"`
	NationalSocietyID     int64             `json:"national_society_id"`
	DisplayName           string            `json:"display_name"`
	PhoneNumber           string            `json:"phone_number"`
	AdditionalPhoneNumber string            `json:"additional_phone_number,omitempty"`
	Type                  DataCollectorType `json:"type"`
	IsInTrainingMode      bool              `json:"is_in_training_mode"`
	Village               string            `json:"village"`
	Zone                  string            `json:"zone,omitempty"`
	Location              Coordinates       `json:"location"`
}

// AlertRule of nil on a ProjectHealthRisk means reports never raise alerts.
type AlertRule struct {
	CountThreshold      int     `json:"count_threshold"`
	DaysThreshold       int     `json:"days_threshold"`
	KilometersThreshold float64 `json:"kilometers_threshold"`
}

func (r AlertRule) Window() time.Duration {
	return time.Duration(r.DaysThreshold) * 24 * time.Hour
}

type ProjectHealthRisk struct {
	ID              int64          `json:"id"`
	ProjectID       int64          `json:"project_id"`
	HealthRiskCode  int            `json:"health_risk_code"`
	HealthRiskName  string         `json:"health_risk_name"`
	HealthRiskType  HealthRiskType `json:"health_risk_type"`
	FeedbackMessage string         `json:"feedback_message,omitempty"`
	AlertRule       *AlertRule     `json:"alert_rule,omitempty"`
}

const MaxFeedbackMessageLength = 160

type ReportCase struct {
	CountMalesBelowFive     int `json:"count_males_below_five"`
	CountMalesAtLeastFive   int `json:"count_males_at_least_five"`
	CountFemalesBelowFive   int `json:"count_females_below_five"`
	CountFemalesAtLeastFive int `json:"count_females_at_least_five"`
}

func (c ReportCase) Total() int {
	return c.CountMalesBelowFive + c.CountMalesAtLeastFive + c.CountFemalesBelowFive + c.CountFemalesAtLeastFive
}

type DataCollectionPointCase struct {
	ReferredCount          int `json:"referred_count"`
	DeathCount             int `json:"death_count"`
	FromOtherVillagesCount int `json:"from_other_villages_count"`
}

type ParsedReport struct {
	ReportType              ReportType              `json:"report_type"`
	HealthRiskCode          int                     `json:"health_risk_code"`
	ReportedCase            ReportCase              `json:"reported_case"`
	DataCollectionPointCase DataCollectionPointCase `json:"data_collection_point_case"`
}

type RawReport struct {
	ID                int64     `json:"id"`
	Sender            string    `json:"sender"`
	Timestamp         string    `json:"timestamp"`
	ReceivedAt        time.Time `json:"received_at"`
	Text              string    `json:"text"`
	IncomingMessageID *int      `json:"incoming_message_id,omitempty"`
	OutgoingMessageID *int      `json:"outgoing_message_id,omitempty"`
	ModemNumber       *int      `json:"modem_number,omitempty"`
	APIKey            string    `json:"api_key"`
	NationalSocietyID *int64    `json:"national_society_id,omitempty"`
	DataCollectorID   *int64    `json:"data_collector_id,omitempty"`
	IsTraining        bool      `json:"is_training"`
	ReportID          *int64    `json:"report_id,omitempty"`
	ErrorKind         ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}

type Report struct {
	ID                      int64                   `json:"id"`
	DataCollectorID         int64                   `json:"data_collector_id"`
	ProjectHealthRiskID     int64                   `json:"project_health_risk_id"`
	ReportType              ReportType              `json:"report_type"`
	Status                  ReportStatus            `json:"status"`
	IsTraining              bool                    `json:"is_training"`
	ReceivedAt              time.Time               `json:"received_at"`
	CreatedAt               time.Time               `json:"created_at"`
	EpiWeek                 int                     `json:"epi_week"`
	EpiYear                 int                     `json:"epi_year"`
	PhoneNumber             string                  `json:"phone_number"`
	Location                Coordinates             `json:"location"`
	Village                 string                  `json:"village"`
	Zone                    string                  `json:"zone,omitempty"`
	ReportedCase            ReportCase              `json:"reported_case"`
	DataCollectionPointCase DataCollectionPointCase `json:"data_collection_point_case"`
	ReportedCaseCount       int                     `json:"reported_case_count"`
}

type Alert struct {
	ID                  int64       `json:"id"`
	ProjectHealthRiskID int64       `json:"project_health_risk_id"`
	Status              AlertStatus `json:"status"`
	CreatedAt           time.Time   `json:"created_at"`
	EscalatedAt         *time.Time  `json:"escalated_at,omitempty"`
	ClosedAt            *time.Time  `json:"closed_at,omitempty"`
	Reports             []Report    `json:"reports,omitempty"`
}

// ActiveReports counts members that still weigh towards escalation.
func (a Alert) ActiveReports() int {
	n := 0
	for _, r := range a.Reports {
		if r.Status != ReportStatusRejected {
			n++
		}
	}
	return n
}

type AlertReport struct {
	AlertID  int64        `json:"alert_id"`
	ReportID int64        `json:"report_id"`
	Status   ReportStatus `json:"status"`
}

type AlertRecipient struct {
	ID             int64  `json:"id"`
	ProjectID      int64  `json:"project_id"`
	HealthRiskCode *int   `json:"health_risk_code,omitempty"`
	Role           string `json:"role,omitempty"`
	Organization   string `json:"organization,omitempty"`
	Email          string `json:"email,omitempty"`
	PhoneNumber    string `json:"phone_number,omitempty"`
}

// GatewayPayload is the decoded webhook body of one inbound SMS.
type GatewayPayload struct {
	Sender            string `json:"sender"`
	Timestamp         string `json:"timestamp"`
	Text              string `json:"text"`
	IncomingMessageID *int   `json:"msgid,omitempty"`
	OutgoingMessageID *int   `json:"oid,omitempty"`
	ModemNumber       *int   `json:"modemno,omitempty"`
	APIKey            string `json:"apikey"`
}
