package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixturesYAML = `
national_societies:
  - {id: 1, name: Red Cross, language_code: fr}
gateways:
  - {id: 1, api_key: abc, gateway_type: SmsEagle, national_society_id: 1, email_address: gw@example.org, name: eagle}
project_health_risks:
  - id: 10
    project_id: 1
    health_risk_code: 3
    health_risk_type: Human
    alert_rule: {count_threshold: 3, days_threshold: 7, kilometers_threshold: 1.5}
`

func TestLoadFixturesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixturesYAML), 0o600))
	f, err := loadFixtures(path)
	require.NoError(t, err)
	require.Equal(t, "fr", f.NationalSocieties[0].LanguageCode)
	require.Equal(t, "abc", f.Gateways[0].APIKey)
	require.Equal(t, int64(1), f.Gateways[0].NationalSocietyID)
	rule := f.ProjectHealthRisks[0].AlertRule
	require.NotNil(t, rule)
	require.Equal(t, 3, rule.CountThreshold)
	require.InDelta(t, 1.5, rule.KilometersThreshold, 1e-9)
}

func TestLoadFixturesRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"gateways": "nope"}`), 0o600))
	_, err := loadFixtures(path)
	require.Error(t, err)
}
