package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"epireport/internal/model"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs the shared SQL against either the pool or a transaction.
type queries struct {
	db execer
	d  dialect
}

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, rebind(q.d.numbered, query), args...)
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, rebind(q.d.numbered, query), args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, rebind(q.d.numbered, query), args...)
}

type scanner interface {
	Scan(dest ...any) error
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	out := int(v.Int64)
	return &out
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	out := v.Time.UTC()
	return &out
}

// Lookups

func (q queries) gatewayByAPIKey(ctx context.Context, apiKey string) (*model.GatewaySetting, error) {
	var gw model.GatewaySetting
	var gwType string
	err := q.queryRow(ctx,
		`SELECT id, api_key, gateway_type, national_society_id, email_address, name
		FROM gateway_settings WHERE api_key = ?`, apiKey).
		Scan(&gw.ID, &gw.APIKey, &gwType, &gw.NationalSocietyID, &gw.EmailAddress, &gw.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gateway by api key: %w", err)
	}
	gw.GatewayType = model.GatewayType(gwType)
	return &gw, nil
}

func (q queries) nationalSociety(ctx context.Context, id int64) (*model.NationalSociety, error) {
	var ns model.NationalSociety
	err := q.queryRow(ctx, `SELECT id, name, language_code FROM national_societies WHERE id = ?`, id).
		Scan(&ns.ID, &ns.Name, &ns.LanguageCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("national society: %w", err)
	}
	return &ns, nil
}

func (q queries) dataCollectorByPhone(ctx context.Context, nationalSocietyID int64, phone string) (*model.DataCollector, error) {
	var dc model.DataCollector
	var dcType string
	err := q.queryRow(ctx,
		`SELECT dc.id, dc.project_id, p.national_society_id, dc.display_name, dc.phone_number, dc.additional_phone_number,
			dc.type, dc.is_in_training_mode, dc.village, dc.zone, dc.lat, dc.lon
		FROM data_collectors dc
		JOIN projects p ON p.id = dc.project_id
		WHERE p.national_society_id = ? AND (dc.phone_number = ? OR dc.additional_phone_number = ?)
		ORDER BY dc.id LIMIT 1`, nationalSocietyID, phone, phone).
		Scan(&dc.ID, &dc.ProjectID, &dc.NationalSocietyID, &dc.DisplayName, &dc.PhoneNumber, &dc.AdditionalPhoneNumber,
			&dcType, &dc.IsInTrainingMode, &dc.Village, &dc.Zone, &dc.Location.Lat, &dc.Location.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("data collector by phone: %w", err)
	}
	dc.Type = model.DataCollectorType(dcType)
	return &dc, nil
}

func (q queries) projectHealthRisk(ctx context.Context, where string, args ...any) (*model.ProjectHealthRisk, error) {
	var (
		phr         model.ProjectHealthRisk
		hrType      string
		count, days sql.NullInt64
		km          sql.NullFloat64
	)
	err := q.queryRow(ctx,
		`SELECT id, project_id, health_risk_code, health_risk_name, health_risk_type, feedback_message,
			alert_count_threshold, alert_days_threshold, alert_kilometers_threshold
		FROM project_health_risks WHERE `+where, args...).
		Scan(&phr.ID, &phr.ProjectID, &phr.HealthRiskCode, &phr.HealthRiskName, &hrType, &phr.FeedbackMessage,
			&count, &days, &km)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("project health risk: %w", err)
	}
	phr.HealthRiskType = model.HealthRiskType(hrType)
	if count.Valid && days.Valid && km.Valid {
		phr.AlertRule = &model.AlertRule{
			CountThreshold:      int(count.Int64),
			DaysThreshold:       int(days.Int64),
			KilometersThreshold: km.Float64,
		}
	}
	return &phr, nil
}

// Raw reports

const rawReportColumns = `id, sender, gateway_timestamp, received_at, text, incoming_message_id, outgoing_message_id,
	modem_number, api_key, national_society_id, data_collector_id, is_training, report_id, error_kind, error_message`

func (q queries) insertRawReport(ctx context.Context, raw *model.RawReport) error {
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = time.Now().UTC()
	}
	err := q.queryRow(ctx,
		`INSERT INTO raw_reports (sender, gateway_timestamp, received_at, text, incoming_message_id, outgoing_message_id,
			modem_number, api_key, national_society_id, data_collector_id, is_training, report_id, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		raw.Sender, raw.Timestamp, raw.ReceivedAt.UTC(), raw.Text,
		nullInt(raw.IncomingMessageID), nullInt(raw.OutgoingMessageID), nullInt(raw.ModemNumber),
		raw.APIKey, nullInt64(raw.NationalSocietyID), nullInt64(raw.DataCollectorID), raw.IsTraining,
		nullInt64(raw.ReportID), string(raw.ErrorKind), raw.ErrorMessage,
	).Scan(&raw.ID)
	if err != nil {
		return fmt.Errorf("insert raw report: %w", err)
	}
	return nil
}

func (q queries) linkRawReport(ctx context.Context, rawID, reportID int64) error {
	res, err := q.exec(ctx, `UPDATE raw_reports SET report_id = ? WHERE id = ?`, reportID, rawID)
	if err != nil {
		return fmt.Errorf("link raw report: %w", err)
	}
	return expectRows(res, "raw report")
}

func scanRawReport(row scanner) (model.RawReport, error) {
	var (
		raw                       model.RawReport
		incoming, outgoing, modem sql.NullInt64
		nsID, dcID, reportID      sql.NullInt64
		errorKind                 string
	)
	err := row.Scan(&raw.ID, &raw.Sender, &raw.Timestamp, &raw.ReceivedAt, &raw.Text, &incoming, &outgoing,
		&modem, &raw.APIKey, &nsID, &dcID, &raw.IsTraining, &reportID, &errorKind, &raw.ErrorMessage)
	if err != nil {
		return raw, err
	}
	raw.ReceivedAt = raw.ReceivedAt.UTC()
	raw.IncomingMessageID = intPtr(incoming)
	raw.OutgoingMessageID = intPtr(outgoing)
	raw.ModemNumber = intPtr(modem)
	raw.NationalSocietyID = int64Ptr(nsID)
	raw.DataCollectorID = int64Ptr(dcID)
	raw.ReportID = int64Ptr(reportID)
	raw.ErrorKind = model.ErrorKind(errorKind)
	return raw, nil
}

func (q queries) listRawReports(ctx context.Context, limit int) ([]model.RawReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.query(ctx, `SELECT `+rawReportColumns+` FROM raw_reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list raw reports: %w", err)
	}
	defer rows.Close()
	var out []model.RawReport
	for rows.Next() {
		raw, err := scanRawReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan raw report: %w", err)
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}

// Reports

const reportColumns = `r.id, r.data_collector_id, r.project_health_risk_id, r.report_type, r.status, r.is_training,
	r.received_at, r.created_at, r.epi_week, r.epi_year, r.phone_number, r.lat, r.lon, r.village, r.zone,
	r.males_below_five, r.males_at_least_five, r.females_below_five, r.females_at_least_five,
	r.referred_count, r.death_count, r.from_other_villages_count, r.reported_case_count`

func scanReport(row scanner) (model.Report, error) {
	var (
		r                  model.Report
		reportType, status string
	)
	err := row.Scan(&r.ID, &r.DataCollectorID, &r.ProjectHealthRiskID, &reportType, &status, &r.IsTraining,
		&r.ReceivedAt, &r.CreatedAt, &r.EpiWeek, &r.EpiYear, &r.PhoneNumber, &r.Location.Lat, &r.Location.Lon,
		&r.Village, &r.Zone,
		&r.ReportedCase.CountMalesBelowFive, &r.ReportedCase.CountMalesAtLeastFive,
		&r.ReportedCase.CountFemalesBelowFive, &r.ReportedCase.CountFemalesAtLeastFive,
		&r.DataCollectionPointCase.ReferredCount, &r.DataCollectionPointCase.DeathCount,
		&r.DataCollectionPointCase.FromOtherVillagesCount, &r.ReportedCaseCount)
	if err != nil {
		return r, err
	}
	r.ReportType = model.ReportType(reportType)
	r.Status = model.ReportStatus(status)
	r.ReceivedAt = r.ReceivedAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (q queries) insertReport(ctx context.Context, r *model.Report) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = model.ReportStatusNew
	}
	err := q.queryRow(ctx,
		`INSERT INTO reports (data_collector_id, project_health_risk_id, report_type, status, is_training,
			received_at, created_at, epi_week, epi_year, phone_number, lat, lon, village, zone,
			males_below_five, males_at_least_five, females_below_five, females_at_least_five,
			referred_count, death_count, from_other_villages_count, reported_case_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		r.DataCollectorID, r.ProjectHealthRiskID, string(r.ReportType), string(r.Status), r.IsTraining,
		r.ReceivedAt.UTC(), r.CreatedAt.UTC(), r.EpiWeek, r.EpiYear, r.PhoneNumber, r.Location.Lat, r.Location.Lon,
		r.Village, r.Zone,
		r.ReportedCase.CountMalesBelowFive, r.ReportedCase.CountMalesAtLeastFive,
		r.ReportedCase.CountFemalesBelowFive, r.ReportedCase.CountFemalesAtLeastFive,
		r.DataCollectionPointCase.ReferredCount, r.DataCollectionPointCase.DeathCount,
		r.DataCollectionPointCase.FromOtherVillagesCount, r.ReportedCaseCount,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (q queries) getReport(ctx context.Context, id int64) (*model.Report, error) {
	r, err := scanReport(q.queryRow(ctx, `SELECT `+reportColumns+` FROM reports r WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &r, nil
}

func (q queries) setReportStatuses(ctx context.Context, ids []int64, status model.ReportStatus) error {
	if len(ids) == 0 {
		return nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(status))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := q.exec(ctx, `UPDATE reports SET status = ? WHERE id IN (`+marks+`)`, args...); err != nil {
		return fmt.Errorf("set report statuses: %w", err)
	}
	if _, err := q.exec(ctx, `UPDATE alert_reports SET status = ? WHERE report_id IN (`+marks+`)`, args...); err != nil {
		return fmt.Errorf("set alert report statuses: %w", err)
	}
	return nil
}

// Alerts

const alertColumns = `id, project_health_risk_id, status, created_at, escalated_at, closed_at`

func scanAlert(row scanner) (model.Alert, error) {
	var (
		a                 model.Alert
		status            string
		escalated, closed sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.ProjectHealthRiskID, &status, &a.CreatedAt, &escalated, &closed); err != nil {
		return a, err
	}
	a.Status = model.AlertStatus(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.EscalatedAt = timePtr(escalated)
	a.ClosedAt = timePtr(closed)
	return a, nil
}

func (q queries) alertMembers(ctx context.Context, alertID int64) ([]model.Report, error) {
	rows, err := q.query(ctx,
		`SELECT `+reportColumns+` FROM reports r
		JOIN alert_reports ar ON ar.report_id = r.id
		WHERE ar.alert_id = ? ORDER BY r.id`, alertID)
	if err != nil {
		return nil, fmt.Errorf("alert members: %w", err)
	}
	defer rows.Close()
	var out []model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q queries) scanAlerts(ctx context.Context, query string, args ...any) ([]model.Alert, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range out {
		members, err := q.alertMembers(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Reports = members
	}
	return out, nil
}

func (q queries) openAlerts(ctx context.Context, phrID int64) ([]model.Alert, error) {
	return q.scanAlerts(ctx,
		`SELECT `+alertColumns+` FROM alerts
		WHERE project_health_risk_id = ? AND status IN (?, ?) ORDER BY id`,
		phrID, string(model.AlertStatusPending), string(model.AlertStatusEscalated))
}

func (q queries) listAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ProjectHealthRiskID > 0 {
		where = append(where, "project_health_risk_id = ?")
		args = append(args, f.ProjectHealthRiskID)
	}
	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	return q.scanAlerts(ctx, query, args...)
}

func (q queries) getAlert(ctx context.Context, id int64) (*model.Alert, error) {
	alerts, err := q.scanAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, ErrNotFound
	}
	return &alerts[0], nil
}

func (q queries) insertAlert(ctx context.Context, a *model.Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.AlertStatusPending
	}
	var escalated sql.NullTime
	if a.EscalatedAt != nil {
		escalated = sql.NullTime{Time: a.EscalatedAt.UTC(), Valid: true}
	}
	err := q.queryRow(ctx,
		`INSERT INTO alerts (project_health_risk_id, status, created_at, escalated_at)
		VALUES (?, ?, ?, ?) RETURNING id`,
		a.ProjectHealthRiskID, string(a.Status), a.CreatedAt.UTC(), escalated,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (q queries) addAlertReport(ctx context.Context, ar model.AlertReport) error {
	if _, err := q.exec(ctx,
		`INSERT INTO alert_reports (alert_id, report_id, status) VALUES (?, ?, ?)`,
		ar.AlertID, ar.ReportID, string(ar.Status)); err != nil {
		return fmt.Errorf("add alert report: %w", err)
	}
	return nil
}

func (q queries) setAlertStatus(ctx context.Context, alertID int64, status model.AlertStatus, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	switch status {
	case model.AlertStatusEscalated:
		res, err = q.exec(ctx, `UPDATE alerts SET status = ?, escalated_at = ? WHERE id = ?`, string(status), at.UTC(), alertID)
	case model.AlertStatusClosed, model.AlertStatusDismissed:
		res, err = q.exec(ctx, `UPDATE alerts SET status = ?, closed_at = ? WHERE id = ?`, string(status), at.UTC(), alertID)
	default:
		res, err = q.exec(ctx, `UPDATE alerts SET status = ? WHERE id = ?`, string(status), alertID)
	}
	if err != nil {
		return fmt.Errorf("set alert status: %w", err)
	}
	return expectRows(res, "alert")
}

// Recipients and stats

func (q queries) alertRecipients(ctx context.Context, projectID int64, healthRiskCode int) ([]model.AlertRecipient, error) {
	rows, err := q.query(ctx,
		`SELECT id, project_id, health_risk_code, role, organization, email, phone_number
		FROM alert_recipients
		WHERE project_id = ? AND (health_risk_code IS NULL OR health_risk_code = ?)
		ORDER BY id`, projectID, healthRiskCode)
	if err != nil {
		return nil, fmt.Errorf("alert recipients: %w", err)
	}
	defer rows.Close()
	var out []model.AlertRecipient
	for rows.Next() {
		var (
			r    model.AlertRecipient
			code sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &code, &r.Role, &r.Organization, &r.Email, &r.PhoneNumber); err != nil {
			return nil, fmt.Errorf("scan alert recipient: %w", err)
		}
		r.HealthRiskCode = intPtr(code)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q queries) stats(ctx context.Context) (Stats, error) {
	st := Stats{Alerts: make(map[model.AlertStatus]int64)}
	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM raw_reports`, &st.RawReports},
		{`SELECT COUNT(*) FROM raw_reports WHERE error_kind <> ''`, &st.FailedRawReports},
		{`SELECT COUNT(*) FROM reports`, &st.Reports},
	}
	for _, c := range counts {
		if err := q.queryRow(ctx, c.query).Scan(c.dest); err != nil {
			return st, fmt.Errorf("stats: %w", err)
		}
	}
	rows, err := q.query(ctx, `SELECT status, COUNT(*) FROM alerts GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return st, fmt.Errorf("stats: %w", err)
		}
		st.Alerts[model.AlertStatus(status)] = n
	}
	return st, rows.Err()
}

// Seeding

func (q queries) seed(ctx context.Context, f Fixtures) error {
	for _, ns := range f.NationalSocieties {
		if _, err := q.exec(ctx,
			`INSERT INTO national_societies (id, name, language_code) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
			ns.ID, ns.Name, ns.LanguageCode); err != nil {
			return fmt.Errorf("seed national society %d: %w", ns.ID, err)
		}
	}
	for _, gw := range f.Gateways {
		gwType := gw.GatewayType
		if gwType == "" {
			gwType = model.GatewaySmsEagle
		}
		if _, err := q.exec(ctx,
			`INSERT INTO gateway_settings (id, api_key, gateway_type, national_society_id, email_address, name)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			gw.ID, gw.APIKey, string(gwType), gw.NationalSocietyID, gw.EmailAddress, gw.Name); err != nil {
			return fmt.Errorf("seed gateway %d: %w", gw.ID, err)
		}
	}
	for _, p := range f.Projects {
		if _, err := q.exec(ctx,
			`INSERT INTO projects (id, national_society_id, name) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
			p.ID, p.NationalSocietyID, p.Name); err != nil {
			return fmt.Errorf("seed project %d: %w", p.ID, err)
		}
	}
	for _, dc := range f.DataCollectors {
		dcType := dc.Type
		if dcType == "" {
			dcType = model.DataCollectorHuman
		}
		if _, err := q.exec(ctx,
			`INSERT INTO data_collectors (id, project_id, display_name, phone_number,
				additional_phone_number, type, is_in_training_mode, village, zone, lat, lon)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			dc.ID, dc.ProjectID, dc.DisplayName, dc.PhoneNumber, dc.AdditionalPhoneNumber,
			string(dcType), dc.IsInTrainingMode, dc.Village, dc.Zone, dc.Location.Lat, dc.Location.Lon); err != nil {
			return fmt.Errorf("seed data collector %d: %w", dc.ID, err)
		}
	}
	for _, phr := range f.ProjectHealthRisks {
		var (
			count, days sql.NullInt64
			km          sql.NullFloat64
		)
		if rule := phr.AlertRule; rule != nil {
			count = sql.NullInt64{Int64: int64(rule.CountThreshold), Valid: true}
			days = sql.NullInt64{Int64: int64(rule.DaysThreshold), Valid: true}
			km = sql.NullFloat64{Float64: rule.KilometersThreshold, Valid: true}
		}
		if _, err := q.exec(ctx,
			`INSERT INTO project_health_risks (id, project_id, health_risk_code, health_risk_name, health_risk_type,
				feedback_message, alert_count_threshold, alert_days_threshold, alert_kilometers_threshold)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			phr.ID, phr.ProjectID, phr.HealthRiskCode, phr.HealthRiskName, string(phr.HealthRiskType),
			phr.FeedbackMessage, count, days, km); err != nil {
			return fmt.Errorf("seed project health risk %d: %w", phr.ID, err)
		}
	}
	for _, r := range f.AlertRecipients {
		if _, err := q.exec(ctx,
			`INSERT INTO alert_recipients (id, project_id, health_risk_code, role, organization, email, phone_number)
			VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			r.ID, r.ProjectID, nullInt(r.HealthRiskCode), r.Role, r.Organization, r.Email, r.PhoneNumber); err != nil {
			return fmt.Errorf("seed alert recipient %d: %w", r.ID, err)
		}
	}
	return nil
}

func expectRows(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// sqlTx adapts queries to the Tx interface.
type sqlTx struct {
	q queries
}

func (t *sqlTx) GatewayByAPIKey(ctx context.Context, apiKey string) (*model.GatewaySetting, error) {
	return t.q.gatewayByAPIKey(ctx, apiKey)
}

func (t *sqlTx) NationalSociety(ctx context.Context, id int64) (*model.NationalSociety, error) {
	return t.q.nationalSociety(ctx, id)
}

func (t *sqlTx) DataCollectorByPhone(ctx context.Context, nationalSocietyID int64, phone string) (*model.DataCollector, error) {
	return t.q.dataCollectorByPhone(ctx, nationalSocietyID, phone)
}

func (t *sqlTx) ProjectHealthRisk(ctx context.Context, projectID int64, healthRiskCode int) (*model.ProjectHealthRisk, error) {
	return t.q.projectHealthRisk(ctx, "project_id = ? AND health_risk_code = ?", projectID, healthRiskCode)
}

func (t *sqlTx) InsertRawReport(ctx context.Context, raw *model.RawReport) error {
	return t.q.insertRawReport(ctx, raw)
}

func (t *sqlTx) LinkRawReport(ctx context.Context, rawID, reportID int64) error {
	return t.q.linkRawReport(ctx, rawID, reportID)
}

func (t *sqlTx) InsertReport(ctx context.Context, r *model.Report) error {
	return t.q.insertReport(ctx, r)
}

func (t *sqlTx) GetReport(ctx context.Context, id int64) (*model.Report, error) {
	return t.q.getReport(ctx, id)
}

func (t *sqlTx) SetReportStatuses(ctx context.Context, ids []int64, status model.ReportStatus) error {
	return t.q.setReportStatuses(ctx, ids, status)
}

func (t *sqlTx) OpenAlerts(ctx context.Context, projectHealthRiskID int64) ([]model.Alert, error) {
	return t.q.openAlerts(ctx, projectHealthRiskID)
}

func (t *sqlTx) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	return t.q.getAlert(ctx, id)
}

func (t *sqlTx) InsertAlert(ctx context.Context, a *model.Alert) error {
	return t.q.insertAlert(ctx, a)
}

func (t *sqlTx) AddAlertReport(ctx context.Context, ar model.AlertReport) error {
	return t.q.addAlertReport(ctx, ar)
}

func (t *sqlTx) SetAlertStatus(ctx context.Context, alertID int64, status model.AlertStatus, at time.Time) error {
	return t.q.setAlertStatus(ctx, alertID, status, at)
}
