package registry

import (
	"encoding/json"
	"fmt"

	"inntekt/internal/period"
)

// IncomeType classifies an income line item.
type IncomeType string

const (
	IncomeWage             IncomeType = "WAGE"
	IncomeBusiness         IncomeType = "BUSINESS"
	IncomePensionOrWelfare IncomeType = "PENSION_OR_WELFARE"
	IncomePublicBenefit    IncomeType = "PUBLIC_BENEFIT"
)

// incomeTypeCodes maps the registry's reporting codes onto our enum. An
// unknown code fails the whole lookup: schema drift upstream must surface,
// not silently drop records.
var incomeTypeCodes = map[string]IncomeType{
	"LOENNSINNTEKT":         IncomeWage,
	"NAERINGSINNTEKT":       IncomeBusiness,
	"PENSJON_ELLER_TRYGD":   IncomePensionOrWelfare,
	"YTELSE_FRA_OFFENTLIGE": IncomePublicBenefit,
}

// IncomeRecord is one income line item for one month. PayerOrgNumber is
// set only when the payer is an organization, and serializes as null
// otherwise.
type IncomeRecord struct {
	Amount         float64    `json:"amount"`
	Type           IncomeType `json:"incomeType"`
	PayerOrgNumber *string    `json:"payerOrgNumber"`
}

// MonthlyIncome groups the records reported for one calendar month, in
// the order the registry returned them.
type MonthlyIncome struct {
	YearMonth period.YearMonth `json:"yearMonth"`
	Records   []IncomeRecord   `json:"records"`
}

// Upstream response shape.
type lookupResponse struct {
	Months []monthEntry `json:"arbeidsInntektMaaned"`
}

type monthEntry struct {
	YearMonth string    `json:"aarMaaned"`
	Info      monthInfo `json:"arbeidsInntektInformasjon"`
}

type monthInfo struct {
	Incomes []incomeEntry `json:"inntektListe"`
}

type incomeEntry struct {
	Amount     json.Number `json:"beloep"`
	TypeCode   string      `json:"inntektType"`
	Enterprise *enterprise `json:"virksomhet"`
}

type enterprise struct {
	ActorType  string `json:"aktoerType"`
	Identifier string `json:"identifikator"`
}

const payerTypeOrganization = "ORGANIZATION"

func (m monthEntry) toMonthlyIncome() (MonthlyIncome, error) {
	ym, err := period.Parse(m.YearMonth)
	if err != nil {
		return MonthlyIncome{}, err
	}

	records := make([]IncomeRecord, 0, len(m.Info.Incomes))
	for _, entry := range m.Info.Incomes {
		record, err := entry.toRecord()
		if err != nil {
			return MonthlyIncome{}, fmt.Errorf("month %s: %w", m.YearMonth, err)
		}
		records = append(records, record)
	}
	return MonthlyIncome{YearMonth: ym, Records: records}, nil
}

func (e incomeEntry) toRecord() (IncomeRecord, error) {
	incomeType, ok := incomeTypeCodes[e.TypeCode]
	if !ok {
		return IncomeRecord{}, fmt.Errorf("unknown income type code %q", e.TypeCode)
	}

	amount, err := e.Amount.Float64()
	if err != nil {
		return IncomeRecord{}, fmt.Errorf("amount %q: %w", e.Amount, err)
	}

	record := IncomeRecord{Amount: amount, Type: incomeType}
	if e.Enterprise != nil && e.Enterprise.ActorType == payerTypeOrganization {
		org := e.Enterprise.Identifier
		record.PayerOrgNumber = &org
	}
	return record, nil
}
