package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"epireport/internal/config"
	"epireport/internal/engine"
	"epireport/internal/epi"
	"epireport/internal/metrics"
	"epireport/internal/model"
	"epireport/internal/notify"
	"epireport/internal/parser"
	"epireport/internal/storage"
	"epireport/internal/validation"
)

type Result struct {
	RawReportID    int64            `json:"raw_report_id"`
	ReportID       int64            `json:"report_id,omitempty"`
	ErrorKind      model.ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	AlertID        int64            `json:"alert_id,omitempty"`
	NewlyEscalated bool             `json:"newly_escalated,omitempty"`
	Messages       []notify.Message `json:"-"`
}

type Pipeline struct {
	store      storage.Store
	engine     *engine.Engine
	templates  *notify.Templates
	dispatcher *notify.Dispatcher
	metrics    *metrics.Store
	logger     *slog.Logger
	validator  atomic.Pointer[validation.Validator]
	now        func() time.Time
}

func New(cfg *config.Config, store storage.Store, eng *engine.Engine, templates *notify.Templates, dispatcher *notify.Dispatcher, metricsStore *metrics.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		store:      store,
		engine:     eng,
		templates:  templates,
		dispatcher: dispatcher,
		metrics:    metricsStore,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	p.UpdateConfig(cfg)
	return p
}

func (p *Pipeline) UpdateConfig(cfg *config.Config) {
	p.validator.Store(validation.New(validation.Options{
		GatewayType:   model.GatewayType(cfg.Validation.GatewayType),
		MaxFutureSkew: cfg.Validation.MaxFutureSkew,
		Conventions: parser.Conventions{
			Separator:    cfg.Validation.Parser.Separator,
			ActivityCode: cfg.Validation.Parser.ActivityCode,
		},
		Now: func() time.Time { return p.now() },
	}))
	p.engine.UpdateConfig(cfg)
}

// Handle processes one payload. An error is returned only when not even the
// raw report could be recorded.
func (p *Pipeline) Handle(ctx context.Context, payload model.GatewayPayload) (Result, error) {
	start := time.Now()
	defer p.metrics.ObserveDuration(start)

	var (
		res     Result
		outcome validation.Outcome
	)
	err := p.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		res, outcome, err = p.process(ctx, tx, payload)
		return err
	})
	if err != nil {
		return p.fallback(ctx, payload, err)
	}

	p.record(payload, res, outcome)
	if p.dispatcher != nil {
		p.dispatcher.Dispatch(ctx, res.Messages)
	}
	return res, nil
}

// process is the unit of work. It may run several times when the store
// retries on conflicts, so it must not have effects outside tx.
func (p *Pipeline) process(ctx context.Context, tx storage.Tx, payload model.GatewayPayload) (Result, validation.Outcome, error) {
	outcome := p.validator.Load().Validate(ctx, tx, payload)
	if f := outcome.Failure; f != nil && f.Internal {
		return Result{}, outcome, f
	}

	raw := p.rawReport(payload, outcome)
	if err := tx.InsertRawReport(ctx, raw); err != nil {
		return Result{}, outcome, err
	}
	res := Result{RawReportID: raw.ID, ErrorKind: raw.ErrorKind, ErrorMessage: raw.ErrorMessage}

	if !outcome.OK() {
		if msg, ok := p.failureFeedback(payload, outcome); ok {
			res.Messages = append(res.Messages, msg)
		}
		return res, outcome, nil
	}

	c := outcome.Context
	report := buildReport(payload, c)
	if err := tx.InsertReport(ctx, report); err != nil {
		return Result{}, outcome, err
	}
	if err := tx.LinkRawReport(ctx, raw.ID, report.ID); err != nil {
		return Result{}, outcome, err
	}
	res.ReportID = report.ID

	alertResult, err := p.engine.ReportAdded(ctx, tx, report, *c.HealthRisk)
	if err != nil {
		return Result{}, outcome, fmt.Errorf("alert engine: %w", err)
	}

	if msg, ok := notify.NewFeedback(*c.Gateway, report.PhoneNumber, c.HealthRisk.FeedbackMessage); ok {
		res.Messages = append(res.Messages, msg)
	}
	if alertResult.Alert != nil {
		res.AlertID = alertResult.Alert.ID
		if alertResult.NewlyEscalated {
			res.NewlyEscalated = true
			res.Messages = append(res.Messages, notify.NewEscalation(*alertResult.Alert, *c.HealthRisk))
		}
	}
	return res, outcome, nil
}

func (p *Pipeline) failureFeedback(payload model.GatewayPayload, outcome validation.Outcome) (notify.Message, bool) {
	if !outcome.FeedbackAllowed() || p.templates == nil {
		return notify.Message{}, false
	}
	body, err := p.templates.Render(outcome.Context.LanguageCode(), outcome.Failure.Kind.FeedbackKey())
	if err != nil {
		p.logger.Debug("no feedback template", "language", outcome.Context.LanguageCode(), "kind", outcome.Failure.Kind, "err", err)
		return notify.Message{}, false
	}
	return notify.NewFeedback(*outcome.Context.Gateway, strings.TrimSpace(payload.Sender), body)
}

// fallback records the payload alone after the unit of work failed, so
// that every inbound message leaves an audit row.
func (p *Pipeline) fallback(ctx context.Context, payload model.GatewayPayload, cause error) (Result, error) {
	p.logger.Error("unit of work failed, recording raw report only",
		"sender", payload.Sender,
		"text", payload.Text,
		"err", cause,
	)
	p.metrics.AuditFallback()
	raw := p.rawReport(payload, validation.Outcome{})
	raw.ErrorKind = model.ErrorOther
	raw.ErrorMessage = cause.Error()
	if err := p.store.RecordRawReport(context.WithoutCancel(ctx), raw); err != nil {
		return Result{}, errors.Join(cause, fmt.Errorf("record raw report: %w", err))
	}
	p.metrics.RawReport(string(model.ErrorOther))
	return Result{RawReportID: raw.ID, ErrorKind: model.ErrorOther, ErrorMessage: raw.ErrorMessage}, nil
}

func (p *Pipeline) record(payload model.GatewayPayload, res Result, outcome validation.Outcome) {
	p.metrics.RawReport(string(res.ErrorKind))
	if !outcome.OK() {
		p.logger.Warn("report rejected",
			"raw_report_id", res.RawReportID,
			"sender", payload.Sender,
			"timestamp", payload.Timestamp,
			"text", payload.Text,
			"api_key", payload.APIKey,
			"error_kind", res.ErrorKind,
			"reason", res.ErrorMessage,
		)
		return
	}
	c := outcome.Context
	p.metrics.Report(string(c.Parsed.ReportType), c.DataCollector.IsInTrainingMode)
	p.logger.Info("report stored",
		"raw_report_id", res.RawReportID,
		"report_id", res.ReportID,
		"data_collector_id", c.DataCollector.ID,
		"health_risk_code", c.HealthRisk.HealthRiskCode,
		"alert_id", res.AlertID,
		"newly_escalated", res.NewlyEscalated,
	)
}

func (p *Pipeline) rawReport(payload model.GatewayPayload, outcome validation.Outcome) *model.RawReport {
	raw := &model.RawReport{
		Sender:            payload.Sender,
		Timestamp:         payload.Timestamp,
		ReceivedAt:        p.now(),
		Text:              payload.Text,
		IncomingMessageID: payload.IncomingMessageID,
		OutgoingMessageID: payload.OutgoingMessageID,
		ModemNumber:       payload.ModemNumber,
		APIKey:            payload.APIKey,
	}
	c := outcome.Context
	if c.Gateway != nil {
		nsID := c.Gateway.NationalSocietyID
		raw.NationalSocietyID = &nsID
	}
	if c.DataCollector != nil {
		dcID := c.DataCollector.ID
		raw.DataCollectorID = &dcID
		raw.IsTraining = c.DataCollector.IsInTrainingMode
	}
	if !c.ReceivedAt.IsZero() {
		raw.ReceivedAt = c.ReceivedAt
	}
	if f := outcome.Failure; f != nil {
		raw.ErrorKind = f.Kind
		raw.ErrorMessage = f.Reason
	}
	return raw
}

func buildReport(payload model.GatewayPayload, c validation.Context) *model.Report {
	week, year := epi.EpiDate(c.ReceivedAt)
	count := 1
	if c.HealthRisk.HealthRiskType == model.HealthRiskHuman {
		count = c.Parsed.ReportedCase.Total()
	}
	return &model.Report{
		DataCollectorID:         c.DataCollector.ID,
		ProjectHealthRiskID:     c.HealthRisk.ID,
		ReportType:              c.Parsed.ReportType,
		Status:                  model.ReportStatusNew,
		IsTraining:              c.DataCollector.IsInTrainingMode,
		ReceivedAt:              c.ReceivedAt,
		EpiWeek:                 week,
		EpiYear:                 year,
		PhoneNumber:             strings.TrimSpace(payload.Sender),
		Location:                c.DataCollector.Location,
		Village:                 c.DataCollector.Village,
		Zone:                    c.DataCollector.Zone,
		ReportedCase:            c.Parsed.ReportedCase,
		DataCollectionPointCase: c.Parsed.DataCollectionPointCase,
		ReportedCaseCount:       count,
	}
}
