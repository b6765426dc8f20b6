// Package storagetest opens throwaway sqlite stores seeded with a small
// reference data set.
package storagetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"epireport/internal/config"
	"epireport/internal/logging"
	"epireport/internal/model"
	"epireport/internal/storage"
)

const (
	APIKey        = "test-gateway-key"
	Phone         = "+10000000001"
	NearbyPhone   = "+10000000002"
	FarPhone      = "+10000000003"
	TrainingPhone = "+10000000004"
	PointPhone    = "+10000000005"

	CodeHumanWithRule = 3
	CodeNoRule        = 4
	CodeNonHuman      = 7
)

// Open returns an initialized sqlite store in a temp dir, closed on cleanup.
func Open(t testing.TB) storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "epireport.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	st, err := storage.NewStore(config.StorageConfig{Driver: "sqlite", DSN: dsn, MaxRetries: 5}, logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	return st
}

// OpenSeeded is Open followed by Seed(Fixtures(rule)).
func OpenSeeded(t testing.TB, rule *model.AlertRule) storage.Store {
	t.Helper()
	st := Open(t)
	if err := st.Seed(context.Background(), Fixtures(rule)); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return st
}

// Fixtures describes one national society with one project. Health risk 3
// carries rule; health risk 4 has none. Collectors at Phone and NearbyPhone
// are about 1.1 km apart; FarPhone is about 11 km away.
func Fixtures(rule *model.AlertRule) storage.Fixtures {
	code := CodeHumanWithRule
	return storage.Fixtures{
		NationalSocieties: []model.NationalSociety{{ID: 1, Name: "Test NS", LanguageCode: "en"}},
		Gateways: []model.GatewaySetting{
			{ID: 1, APIKey: APIKey, GatewayType: model.GatewaySmsEagle, NationalSocietyID: 1, EmailAddress: "gateway@example.org", Name: "main"},
		},
		Projects: []model.Project{{ID: 1, NationalSocietyID: 1, Name: "Test project"}},
		DataCollectors: []model.DataCollector{
			{ID: 1, ProjectID: 1, DisplayName: "dc-1", PhoneNumber: Phone, Type: model.DataCollectorHuman, Village: "A", Location: model.Coordinates{Lat: 0, Lon: 0}},
			{ID: 2, ProjectID: 1, DisplayName: "dc-2", PhoneNumber: NearbyPhone, Type: model.DataCollectorHuman, Village: "B", Location: model.Coordinates{Lat: 0, Lon: 0.01}},
			{ID: 3, ProjectID: 1, DisplayName: "dc-3", PhoneNumber: FarPhone, Type: model.DataCollectorHuman, Village: "C", Location: model.Coordinates{Lat: 0, Lon: 0.1}},
			{ID: 4, ProjectID: 1, DisplayName: "dc-4", PhoneNumber: TrainingPhone, Type: model.DataCollectorHuman, IsInTrainingMode: true, Village: "A", Location: model.Coordinates{Lat: 0, Lon: 0}},
			{ID: 5, ProjectID: 1, DisplayName: "dcp-1", PhoneNumber: PointPhone, Type: model.DataCollectorCollectionPoint, Village: "A", Location: model.Coordinates{Lat: 0, Lon: 0}},
		},
		ProjectHealthRisks: []model.ProjectHealthRisk{
			{ID: 1, ProjectID: 1, HealthRiskCode: CodeHumanWithRule, HealthRiskName: "AWD", HealthRiskType: model.HealthRiskHuman, FeedbackMessage: "Thank you, please isolate the patient.", AlertRule: rule},
			{ID: 2, ProjectID: 1, HealthRiskCode: CodeNoRule, HealthRiskName: "Fever", HealthRiskType: model.HealthRiskHuman},
			{ID: 3, ProjectID: 1, HealthRiskCode: CodeNonHuman, HealthRiskName: "Dead animals", HealthRiskType: model.HealthRiskNonHuman},
		},
		AlertRecipients: []model.AlertRecipient{
			{ID: 1, ProjectID: 1, HealthRiskCode: &code, Role: "Supervisor", Organization: "NS", Email: "supervisor@example.org", PhoneNumber: "+19990000001"},
			{ID: 2, ProjectID: 1, Role: "Health officer", Organization: "MoH", Email: "officer@example.org"},
		},
	}
}
