package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"epireport/internal/model"
)

var ErrFormat = errors.New("report format error")

const (
	sexMale   = 1
	sexFemale = 2

	ageBelowFive   = 1
	ageAtLeastFive = 2
)

// Conventions describe how a gateway's data collectors encode reports.
type Conventions struct {
	Separator    string
	ActivityCode int
}

func DefaultConventions() Conventions {
	return Conventions{Separator: "#", ActivityCode: 99}
}

// Parse turns an SMS body into a ParsedReport. Recognized shapes:
//
//	code                           NonHuman, or Activity for the activity code
//	code#sex#age                   Single
//	code#m<5#m>=5#f<5#f>=5         Aggregate
//	code#m<5#m>=5#f<5#f>=5#r#d#o   DataCollectionPoint (referred, deaths, other villages)
func Parse(text string, conv Conventions) (model.ParsedReport, error) {
	if conv.Separator == "" {
		conv.Separator = DefaultConventions().Separator
	}
	trim := strings.TrimSpace(text)
	if trim == "" {
		return model.ParsedReport{}, fmt.Errorf("%w: empty message", ErrFormat)
	}
	parts := strings.Split(trim, conv.Separator)
	values := make([]int, len(parts))
	for i, part := range parts {
		v, err := parseCount(part)
		if err != nil {
			return model.ParsedReport{}, fmt.Errorf("%w: token %d: %v", ErrFormat, i+1, err)
		}
		values[i] = v
	}

	report := model.ParsedReport{HealthRiskCode: values[0]}
	switch len(values) {
	case 1:
		report.ReportType = model.ReportTypeNonHuman
		if values[0] == conv.ActivityCode {
			report.ReportType = model.ReportTypeActivity
		}
	case 3:
		c, err := singleCase(values[1], values[2])
		if err != nil {
			return model.ParsedReport{}, err
		}
		report.ReportType = model.ReportTypeSingle
		report.ReportedCase = c
	case 5:
		report.ReportType = model.ReportTypeAggregate
		report.ReportedCase = aggregateCase(values[1:5])
	case 8:
		report.ReportType = model.ReportTypeDataCollectionPoint
		report.ReportedCase = aggregateCase(values[1:5])
		report.DataCollectionPointCase = model.DataCollectionPointCase{
			ReferredCount:          values[5],
			DeathCount:             values[6],
			FromOtherVillagesCount: values[7],
		}
	default:
		return model.ParsedReport{}, fmt.Errorf("%w: unexpected token count %d", ErrFormat, len(values))
	}
	return report, nil
}

func parseCount(token string) (int, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, errors.New("empty token")
	}
	for _, ch := range token {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("non-numeric token %q", token)
		}
	}
	return strconv.Atoi(token)
}

func singleCase(sex, age int) (model.ReportCase, error) {
	var c model.ReportCase
	switch {
	case sex == sexMale && age == ageBelowFive:
		c.CountMalesBelowFive = 1
	case sex == sexMale && age == ageAtLeastFive:
		c.CountMalesAtLeastFive = 1
	case sex == sexFemale && age == ageBelowFive:
		c.CountFemalesBelowFive = 1
	case sex == sexFemale && age == ageAtLeastFive:
		c.CountFemalesAtLeastFive = 1
	default:
		return c, fmt.Errorf("%w: unknown sex %d or age group %d", ErrFormat, sex, age)
	}
	return c, nil
}

func aggregateCase(v []int) model.ReportCase {
	return model.ReportCase{
		CountMalesBelowFive:     v[0],
		CountMalesAtLeastFive:   v[1],
		CountFemalesBelowFive:   v[2],
		CountFemalesAtLeastFive: v[3],
	}
}
