package storage_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"epireport/internal/model"
	"epireport/internal/storage"
	"epireport/internal/storage/storagetest"
)

func TestLookups(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, &model.AlertRule{CountThreshold: 3, DaysThreshold: 7, KilometersThreshold: 5})

	err := st.InTx(ctx, func(tx storage.Tx) error {
		gw, err := tx.GatewayByAPIKey(ctx, storagetest.APIKey)
		require.NoError(t, err)
		require.NotNil(t, gw)
		require.Equal(t, model.GatewaySmsEagle, gw.GatewayType)

		missing, err := tx.GatewayByAPIKey(ctx, "unknown")
		require.NoError(t, err)
		require.Nil(t, missing)

		ns, err := tx.NationalSociety(ctx, gw.NationalSocietyID)
		require.NoError(t, err)
		require.Equal(t, "en", ns.LanguageCode)

		dc, err := tx.DataCollectorByPhone(ctx, 1, storagetest.NearbyPhone)
		require.NoError(t, err)
		require.Equal(t, int64(2), dc.ID)
		require.InDelta(t, 0.01, dc.Location.Lon, 1e-9)

		other, err := tx.DataCollectorByPhone(ctx, 2, storagetest.NearbyPhone)
		require.NoError(t, err)
		require.Nil(t, other)

		phr, err := tx.ProjectHealthRisk(ctx, 1, storagetest.CodeHumanWithRule)
		require.NoError(t, err)
		require.NotNil(t, phr.AlertRule)
		require.Equal(t, 3, phr.AlertRule.CountThreshold)

		noRule, err := tx.ProjectHealthRisk(ctx, 1, storagetest.CodeNoRule)
		require.NoError(t, err)
		require.Nil(t, noRule.AlertRule)
		return nil
	})
	require.NoError(t, err)
}

func TestCollectorSocietyComesFromProject(t *testing.T) {
	ctx := context.Background()
	st := storagetest.Open(t)
	f := storagetest.Fixtures(nil)
	f.NationalSocieties = append(f.NationalSocieties, model.NationalSociety{ID: 2, Name: "Other NS", LanguageCode: "fr"})
	f.DataCollectors[0].NationalSocietyID = 2
	require.NoError(t, st.Seed(ctx, f))

	require.NoError(t, st.InTx(ctx, func(tx storage.Tx) error {
		foreign, err := tx.DataCollectorByPhone(ctx, 2, storagetest.Phone)
		require.NoError(t, err)
		require.Nil(t, foreign)

		dc, err := tx.DataCollectorByPhone(ctx, 1, storagetest.Phone)
		require.NoError(t, err)
		require.NotNil(t, dc)
		require.Equal(t, int64(1), dc.NationalSocietyID)
		return nil
	}))
}

func TestAdditionalPhoneNumber(t *testing.T) {
	ctx := context.Background()
	st := storagetest.Open(t)
	f := storagetest.Fixtures(nil)
	f.DataCollectors[0].AdditionalPhoneNumber = "+15550000000"
	require.NoError(t, st.Seed(ctx, f))
	require.NoError(t, st.InTx(ctx, func(tx storage.Tx) error {
		dc, err := tx.DataCollectorByPhone(ctx, 1, "+15550000000")
		require.NoError(t, err)
		require.NotNil(t, dc)
		require.Equal(t, int64(1), dc.ID)
		return nil
	}))
}

func TestReportAndAlertRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, &model.AlertRule{CountThreshold: 2, DaysThreshold: 7, KilometersThreshold: 5})
	received := time.Date(2024, 3, 10, 11, 55, 0, 0, time.UTC)

	var alertID, reportID int64
	err := st.InTx(ctx, func(tx storage.Tx) error {
		raw := &model.RawReport{Sender: storagetest.Phone, Timestamp: "20240310115500", ReceivedAt: received, Text: "3#1#1", APIKey: storagetest.APIKey}
		require.NoError(t, tx.InsertRawReport(ctx, raw))
		report := &model.Report{
			DataCollectorID:     1,
			ProjectHealthRiskID: 1,
			ReportType:          model.ReportTypeSingle,
			ReceivedAt:          received,
			EpiWeek:             11,
			EpiYear:             2024,
			PhoneNumber:         storagetest.Phone,
			ReportedCase:        model.ReportCase{CountMalesBelowFive: 1},
			ReportedCaseCount:   1,
		}
		require.NoError(t, tx.InsertReport(ctx, report))
		require.NoError(t, tx.LinkRawReport(ctx, raw.ID, report.ID))
		alert := &model.Alert{ProjectHealthRiskID: 1, CreatedAt: received}
		require.NoError(t, tx.InsertAlert(ctx, alert))
		require.NoError(t, tx.AddAlertReport(ctx, model.AlertReport{AlertID: alert.ID, ReportID: report.ID, Status: model.ReportStatusNew}))
		alertID, reportID = alert.ID, report.ID
		return nil
	})
	require.NoError(t, err)

	alert, err := st.GetAlert(ctx, alertID)
	require.NoError(t, err)
	require.Equal(t, model.AlertStatusPending, alert.Status)
	require.Nil(t, alert.EscalatedAt)
	require.Len(t, alert.Reports, 1)
	require.Equal(t, reportID, alert.Reports[0].ID)
	require.True(t, alert.Reports[0].ReceivedAt.Equal(received))

	escalatedAt := received.Add(time.Minute)
	require.NoError(t, st.InTx(ctx, func(tx storage.Tx) error {
		open, err := tx.OpenAlerts(ctx, 1)
		require.NoError(t, err)
		require.Len(t, open, 1)
		require.NoError(t, tx.SetAlertStatus(ctx, alertID, model.AlertStatusEscalated, escalatedAt))
		return tx.SetReportStatuses(ctx, []int64{reportID}, model.ReportStatusPending)
	}))

	alert, err = st.GetAlert(ctx, alertID)
	require.NoError(t, err)
	require.Equal(t, model.AlertStatusEscalated, alert.Status)
	require.NotNil(t, alert.EscalatedAt)
	require.True(t, alert.EscalatedAt.Equal(escalatedAt))
	require.Equal(t, model.ReportStatusPending, alert.Reports[0].Status)

	raws, err := st.ListRawReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	require.NotNil(t, raws[0].ReportID)
	require.Equal(t, reportID, *raws[0].ReportID)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Reports)
	require.Equal(t, int64(1), stats.Alerts[model.AlertStatusEscalated])

	_, err = st.GetAlert(ctx, 999)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, nil)
	boom := errors.New("boom")
	err := st.InTx(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.InsertRawReport(ctx, &model.RawReport{Sender: "x", Text: "y", APIKey: "z"}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	raws, err := st.ListRawReports(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, raws)
}

func TestInTxRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, nil)
	var calls int32
	err := st.InTx(ctx, func(tx storage.Tx) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return storage.ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls)
}

func TestConcurrentWritersAreSerialized(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, nil)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- st.RecordRawReport(ctx, &model.RawReport{Sender: storagetest.Phone, Text: "x", APIKey: "k", ErrorKind: model.ErrorOther})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(8), stats.RawReports)
	require.Equal(t, int64(8), stats.FailedRawReports)
}

func TestAlertRecipients(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, nil)
	recipients, err := st.AlertRecipients(ctx, 1, storagetest.CodeHumanWithRule)
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	recipients, err = st.AlertRecipients(ctx, 1, storagetest.CodeNoRule)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	require.Equal(t, "officer@example.org", recipients[0].Email)
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := storagetest.OpenSeeded(t, nil)
	require.NoError(t, st.Seed(ctx, storagetest.Fixtures(nil)))
}
