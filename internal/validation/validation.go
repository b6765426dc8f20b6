package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"epireport/internal/epi"
	"epireport/internal/model"
	"epireport/internal/parser"
)

// Lookup resolves live domain state. A nil result with a nil error means
// "not found"; errors are reserved for storage failures.
type Lookup interface {
	GatewayByAPIKey(ctx context.Context, apiKey string) (*model.GatewaySetting, error)
	NationalSociety(ctx context.Context, id int64) (*model.NationalSociety, error)
	DataCollectorByPhone(ctx context.Context, nationalSocietyID int64, phone string) (*model.DataCollector, error)
	ProjectHealthRisk(ctx context.Context, projectID int64, healthRiskCode int) (*model.ProjectHealthRisk, error)
}

// Context is what the stages have resolved so far. Stages never mutate a
// Context they were given; they return an extended copy.
type Context struct {
	Gateway         *model.GatewaySetting
	NationalSociety *model.NationalSociety
	DataCollector   *model.DataCollector
	Parsed          *model.ParsedReport
	HealthRisk      *model.ProjectHealthRisk
	ReceivedAt      time.Time
}

func (c Context) LanguageCode() string {
	if c.NationalSociety == nil {
		return ""
	}
	return c.NationalSociety.LanguageCode
}

type Failure struct {
	Kind   model.ErrorKind
	Reason string
	// Internal marks unexpected failures (storage errors); those are dropped
	// silently and never answered. Err keeps the cause.
	Internal bool
	Err      error
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Reason
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Outcome is either a success carrying the full Context, or a Failure
// carrying whatever Context had been resolved before it.
type Outcome struct {
	Context Context
	Failure *Failure
}

func (o Outcome) OK() bool {
	return o.Failure == nil
}

// FeedbackAllowed reports whether the failure may be answered: the gateway
// must be known, the kind must have a template and the failure must not be
// an internal one.
func (o Outcome) FeedbackAllowed() bool {
	if o.Failure == nil || o.Failure.Internal || o.Context.Gateway == nil {
		return false
	}
	return o.Failure.Kind.FeedbackKey() != ""
}

type Options struct {
	GatewayType   model.GatewayType
	MaxFutureSkew time.Duration
	Conventions   parser.Conventions
	Now           func() time.Time
}

type Validator struct {
	opts   Options
	stages []stage
}

type stage func(ctx context.Context, lookup Lookup, p model.GatewayPayload, c Context) (Context, *Failure)

func New(opts Options) *Validator {
	if opts.GatewayType == "" {
		opts.GatewayType = model.GatewaySmsEagle
	}
	if opts.MaxFutureSkew <= 0 {
		opts.MaxFutureSkew = 3 * time.Minute
	}
	if opts.Conventions.Separator == "" {
		opts.Conventions = parser.DefaultConventions()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	v := &Validator{opts: opts}
	v.stages = []stage{
		v.resolveGateway,
		v.resolveDataCollector,
		v.parseMessage,
		v.checkCollectorCompatibility,
		v.resolveHealthRisk,
		v.checkHealthRiskCompatibility,
		v.parseTimestamp,
		v.checkReceivalTime,
	}
	return v
}

func (v *Validator) Validate(ctx context.Context, lookup Lookup, p model.GatewayPayload) Outcome {
	var c Context
	for _, run := range v.stages {
		next, failure := run(ctx, lookup, p, c)
		if failure != nil {
			return Outcome{Context: c, Failure: failure}
		}
		c = next
	}
	return Outcome{Context: c}
}

func fail(kind model.ErrorKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func internal(err error) *Failure {
	return &Failure{Kind: model.ErrorOther, Reason: err.Error(), Internal: true, Err: err}
}

func (v *Validator) resolveGateway(ctx context.Context, lookup Lookup, p model.GatewayPayload, c Context) (Context, *Failure) {
	gw, err := lookup.GatewayByAPIKey(ctx, p.APIKey)
	if err != nil {
		return c, internal(err)
	}
	if gw == nil {
		return c, fail(model.ErrorGatewayInvalid, "a gateway setting with API key %q does not exist", p.APIKey)
	}
	if gw.GatewayType != v.opts.GatewayType {
		return c, fail(model.ErrorGatewayInvalid, "gateway type %q is different than %q", gw.GatewayType, v.opts.GatewayType)
	}
	ns, err := lookup.NationalSociety(ctx, gw.NationalSocietyID)
	if err != nil {
		return c, internal(err)
	}
	if ns == nil {
		return c, fail(model.ErrorGatewayInvalid, "national society %d of gateway %d does not exist", gw.NationalSocietyID, gw.ID)
	}
	c.Gateway = gw
	c.NationalSociety = ns
	return c, nil
}

func (v *Validator) resolveDataCollector(ctx context.Context, lookup Lookup, p model.GatewayPayload, c Context) (Context, *Failure) {
	phone := strings.TrimSpace(p.Sender)
	if phone == "" {
		return c, fail(model.ErrorDataCollectorNotFound, "a phone number cannot be empty")
	}
	dc, err := lookup.DataCollectorByPhone(ctx, c.Gateway.NationalSocietyID, phone)
	if err != nil {
		return c, internal(err)
	}
	if dc == nil {
		return c, fail(model.ErrorDataCollectorNotFound, "a data collector with phone number %q does not exist in national society %d", phone, c.Gateway.NationalSocietyID)
	}
	c.DataCollector = dc
	return c, nil
}

func (v *Validator) parseMessage(_ context.Context, _ Lookup, p model.GatewayPayload, c Context) (Context, *Failure) {
	parsed, err := parser.Parse(p.Text, v.opts.Conventions)
	if err != nil {
		return c, fail(model.ErrorFormat, "cannot parse message %q: %v", p.Text, err)
	}
	c.Parsed = &parsed
	return c, nil
}

var collectorReportTypes = map[model.DataCollectorType][]model.ReportType{
	model.DataCollectorHuman: {
		model.ReportTypeSingle, model.ReportTypeAggregate, model.ReportTypeNonHuman, model.ReportTypeActivity,
	},
	model.DataCollectorCollectionPoint: {
		model.ReportTypeDataCollectionPoint, model.ReportTypeNonHuman, model.ReportTypeActivity,
	},
}

var reportHealthRiskTypes = map[model.ReportType][]model.HealthRiskType{
	model.ReportTypeSingle:    {model.HealthRiskHuman},
	model.ReportTypeAggregate: {model.HealthRiskHuman},
	model.ReportTypeNonHuman:  {model.HealthRiskNonHuman, model.HealthRiskUnusualEvent},
	model.ReportTypeActivity:  {model.HealthRiskActivity},
	model.ReportTypeDataCollectionPoint: {
		model.HealthRiskHuman, model.HealthRiskNonHuman, model.HealthRiskUnusualEvent, model.HealthRiskActivity,
	},
}

func CollectorAccepts(dcType model.DataCollectorType, reportType model.ReportType) bool {
	return contains(collectorReportTypes[dcType], reportType)
}

func HealthRiskAccepts(reportType model.ReportType, hrType model.HealthRiskType) bool {
	return contains(reportHealthRiskTypes[reportType], hrType)
}

func (v *Validator) checkCollectorCompatibility(_ context.Context, _ Lookup, _ model.GatewayPayload, c Context) (Context, *Failure) {
	if !CollectorAccepts(c.DataCollector.Type, c.Parsed.ReportType) {
		return c, fail(model.ErrorUnsupportedCombination, "a data collector of type %q cannot send a report of type %q", c.DataCollector.Type, c.Parsed.ReportType)
	}
	return c, nil
}

func (v *Validator) resolveHealthRisk(ctx context.Context, lookup Lookup, _ model.GatewayPayload, c Context) (Context, *Failure) {
	phr, err := lookup.ProjectHealthRisk(ctx, c.DataCollector.ProjectID, c.Parsed.HealthRiskCode)
	if err != nil {
		return c, internal(err)
	}
	if phr == nil {
		return c, fail(model.ErrorHealthRiskNotFound, "a health risk with code %d is not listed in project %d", c.Parsed.HealthRiskCode, c.DataCollector.ProjectID)
	}
	c.HealthRisk = phr
	return c, nil
}

func (v *Validator) checkHealthRiskCompatibility(_ context.Context, _ Lookup, _ model.GatewayPayload, c Context) (Context, *Failure) {
	if !HealthRiskAccepts(c.Parsed.ReportType, c.HealthRisk.HealthRiskType) {
		return c, fail(model.ErrorUnsupportedCombination, "a report of type %q cannot refer to a %q health risk", c.Parsed.ReportType, c.HealthRisk.HealthRiskType)
	}
	return c, nil
}

func (v *Validator) parseTimestamp(_ context.Context, _ Lookup, p model.GatewayPayload, c Context) (Context, *Failure) {
	ts, err := epi.ParseGatewayTimestamp(p.Timestamp)
	if err != nil {
		return c, fail(model.ErrorFormat, "cannot parse timestamp: %v", err)
	}
	c.ReceivedAt = ts
	return c, nil
}

func (v *Validator) checkReceivalTime(_ context.Context, _ Lookup, _ model.GatewayPayload, c Context) (Context, *Failure) {
	if c.ReceivedAt.After(v.opts.Now().Add(v.opts.MaxFutureSkew)) {
		return c, fail(model.ErrorFormat, "the receival time %s cannot be in the future", c.ReceivedAt.Format(time.RFC3339))
	}
	return c, nil
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
