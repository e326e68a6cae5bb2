// Package eu parses the EU Financial Sanctions Files (FSF) consolidated XML
// export into canonical sanctions entities. Structural mapping is
// EU-specific per spec §4.B ("EU / UK_HMT: analogous per-source mappings;
// structural details delegated to the parser for that source").
package eu

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/sanctionswatch/core/pkg/parse"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

type export struct {
	XMLName  xml.Name       `xml:"export"`
	Entities []sanctionedEU `xml:"sanctionEntity"`
}

type sanctionedEU struct {
	LogicalID  string   `xml:"logicalId,attr"`
	SubjectType string  `xml:"subjectType"`
	WholeName  string   `xml:"nameAlias>wholeName"`
	NameAliases []string `xml:"nameAlias>alias"`
	Programs   []string `xml:"regulation>programme"`
	Remark     string   `xml:"remark"`
	Addresses  []struct {
		Street  string `xml:"street"`
		City    string `xml:"city"`
		ZipCode string `xml:"zipCode"`
		Country string `xml:"country"`
	} `xml:"address"`
	BirthDates []struct {
		Date string `xml:"date"`
	} `xml:"birthdate"`
	Citizenships []string `xml:"citizenship>country"`
}

// subjectTypeMap maps the EU subjectType code to the canonical entity type.
var subjectTypeMap = map[string]sanctions.EntityType{
	"person":      sanctions.EntityPerson,
	"legalperson": sanctions.EntityCompany,
	"vessel":      sanctions.EntityVessel,
	"aircraft":    sanctions.EntityAircraft,
}

// Parser implements parse.Parser for the EU consolidated list.
type Parser struct{}

// New returns an EU Parser.
func New() *Parser { return &Parser{} }

// Source implements parse.Parser.
func (p *Parser) Source() sanctions.Source { return sanctions.SourceEU }

// Parse implements parse.Parser.
func (p *Parser) Parse(ctx context.Context, content []byte, minEntities int) (parse.Result, error) {
	var doc export
	if err := xml.Unmarshal(content, &doc); err != nil {
		return parse.Result{}, &sanctions.ParsingError{Source: sanctions.SourceEU, Reason: "malformed export document", Err: err}
	}

	stats := parse.Stats{ByEntityType: map[sanctions.EntityType]int{}}
	entities := make([]*sanctions.SanctionedEntity, 0, len(doc.Entities))

	for _, rec := range doc.Entities {
		select {
		case <-ctx.Done():
			return parse.Result{}, ctx.Err()
		default:
		}
		stats.RecordsTotal++
		e, err := convert(rec)
		if err != nil {
			stats.RecordsFailed++
			if len(stats.FailureSamples) < 10 {
				stats.FailureSamples = append(stats.FailureSamples, fmt.Sprintf("logicalId=%s: %v", rec.LogicalID, err))
			}
			continue
		}
		stats.ByEntityType[e.EntityType]++
		if len(e.Aliases) > 0 {
			stats.WithAliases++
		}
		if len(e.Addresses) > 0 {
			stats.WithAddresses++
		}
		if e.PersonalInfo != nil && e.PersonalInfo.DateOfBirth != "" {
			stats.WithBirthDates++
		}
		entities = append(entities, e)
	}

	if len(entities) < minEntities {
		return parse.Result{}, &sanctions.InvalidSourceDataError{Source: sanctions.SourceEU, Got: len(entities), Required: minEntities}
	}

	return parse.Result{Entities: entities, Stats: stats}, nil
}

func convert(rec sanctionedEU) (*sanctions.SanctionedEntity, error) {
	if strings.TrimSpace(rec.LogicalID) == "" {
		return nil, fmt.Errorf("missing logicalId")
	}
	name := strings.TrimSpace(rec.WholeName)
	if name == "" {
		return nil, fmt.Errorf("missing wholeName for logicalId=%s", rec.LogicalID)
	}

	entityType, ok := subjectTypeMap[strings.ToLower(strings.TrimSpace(rec.SubjectType))]
	if !ok {
		entityType = sanctions.EntityOther
	}

	e := &sanctions.SanctionedEntity{
		UID:           "EU-" + strings.TrimSpace(rec.LogicalID),
		Source:        sanctions.SourceEU,
		EntityType:    entityType,
		Name:          name,
		Programs:      append([]string(nil), rec.Programs...),
		Remarks:       rec.Remark,
		Nationalities: append([]string(nil), rec.Citizenships...),
	}

	for _, alias := range rec.NameAliases {
		if a := strings.TrimSpace(alias); a != "" && !strings.EqualFold(a, name) {
			e.Aliases = append(e.Aliases, a)
		}
	}
	for _, addr := range rec.Addresses {
		e.Addresses = append(e.Addresses, sanctions.Address{
			Street: addr.Street, City: addr.City, PostalCode: addr.ZipCode, Country: addr.Country,
		})
	}

	if entityType == sanctions.EntityPerson {
		pi := &sanctions.PersonalInfo{}
		if len(rec.BirthDates) > 0 {
			pi.DateOfBirth = rec.BirthDates[0].Date
		}
		if len(rec.Citizenships) > 0 {
			pi.Nationality = rec.Citizenships[0]
		}
		e.PersonalInfo = pi
	}

	if err := e.Canonicalize(); err != nil {
		return nil, err
	}
	return e, nil
}
