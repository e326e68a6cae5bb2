// Package ukhmt parses the UK HM Treasury consolidated list XML export into
// canonical sanctions entities. Structural mapping is UK-specific per spec
// §4.B.
package ukhmt

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/sanctionswatch/core/pkg/parse"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

type consolidatedList struct {
	XMLName xml.Name  `xml:"ConsolidatedList"`
	Designations []designation `xml:"FinancialSanctionsTarget"`
}

type designation struct {
	GroupID      string   `xml:"GroupID"`
	GroupType    string   `xml:"GroupTypeDescription"`
	Name1        string   `xml:"Name1"`
	Name2        string   `xml:"Name2"`
	Name3        string   `xml:"Name3"`
	OrgName      string   `xml:"OrganisationName"`
	Regimes      []string `xml:"RegimeName"`
	OtherInfo    string   `xml:"OtherInformation"`
	Aliases      []struct {
		Name string `xml:"AliasName"`
	} `xml:"AliasDetails"`
	Addresses []struct {
		Line1   string `xml:"Address1"`
		Line2   string `xml:"Address2"`
		City    string `xml:"City"`
		PostCode string `xml:"PostCode"`
		Country string `xml:"Country"`
	} `xml:"AddressDetails"`
	DatesOfBirth []string `xml:"DOB"`
	Nationalities []string `xml:"Nationality"`
}

var groupTypeMap = map[string]sanctions.EntityType{
	"individual":   sanctions.EntityPerson,
	"entity":       sanctions.EntityCompany,
	"ship":         sanctions.EntityVessel,
}

// Parser implements parse.Parser for the UK HM Treasury consolidated list.
type Parser struct{}

// New returns a UK HMT Parser.
func New() *Parser { return &Parser{} }

// Source implements parse.Parser.
func (p *Parser) Source() sanctions.Source { return sanctions.SourceUKHMT }

// Parse implements parse.Parser.
func (p *Parser) Parse(ctx context.Context, content []byte, minEntities int) (parse.Result, error) {
	var doc consolidatedList
	if err := xml.Unmarshal(content, &doc); err != nil {
		return parse.Result{}, &sanctions.ParsingError{Source: sanctions.SourceUKHMT, Reason: "malformed ConsolidatedList document", Err: err}
	}

	stats := parse.Stats{ByEntityType: map[sanctions.EntityType]int{}}
	entities := make([]*sanctions.SanctionedEntity, 0, len(doc.Designations))

	for _, rec := range doc.Designations {
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
				stats.FailureSamples = append(stats.FailureSamples, fmt.Sprintf("groupID=%s: %v", rec.GroupID, err))
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
		return parse.Result{}, &sanctions.InvalidSourceDataError{Source: sanctions.SourceUKHMT, Got: len(entities), Required: minEntities}
	}

	return parse.Result{Entities: entities, Stats: stats}, nil
}

func convert(rec designation) (*sanctions.SanctionedEntity, error) {
	if strings.TrimSpace(rec.GroupID) == "" {
		return nil, fmt.Errorf("missing GroupID")
	}

	entityType, ok := groupTypeMap[strings.ToLower(strings.TrimSpace(rec.GroupType))]
	if !ok {
		entityType = sanctions.EntityOther
	}

	var name string
	if entityType == sanctions.EntityPerson {
		name = strings.TrimSpace(strings.Join(nonEmpty(rec.Name1, rec.Name2, rec.Name3), " "))
	} else {
		name = strings.TrimSpace(rec.OrgName)
	}
	if name == "" {
		return nil, fmt.Errorf("no usable name for groupID=%s", rec.GroupID)
	}

	e := &sanctions.SanctionedEntity{
		UID:           "UK-" + strings.TrimSpace(rec.GroupID),
		Source:        sanctions.SourceUKHMT,
		EntityType:    entityType,
		Name:          name,
		Programs:      append([]string(nil), rec.Regimes...),
		Remarks:       rec.OtherInfo,
		Nationalities: append([]string(nil), rec.Nationalities...),
	}

	for _, a := range rec.Aliases {
		if alias := strings.TrimSpace(a.Name); alias != "" && !strings.EqualFold(alias, name) {
			e.Aliases = append(e.Aliases, alias)
		}
	}
	for _, addr := range rec.Addresses {
		e.Addresses = append(e.Addresses, sanctions.Address{
			Street:     strings.TrimSpace(addr.Line1 + " " + addr.Line2),
			City:       addr.City,
			PostalCode: addr.PostCode,
			Country:    addr.Country,
		})
	}

	if entityType == sanctions.EntityPerson {
		pi := &sanctions.PersonalInfo{}
		if len(rec.DatesOfBirth) > 0 {
			pi.DateOfBirth = rec.DatesOfBirth[0]
		}
		if len(rec.Nationalities) > 0 {
			pi.Nationality = rec.Nationalities[0]
		}
		e.PersonalInfo = pi
	}

	if err := e.Canonicalize(); err != nil {
		return nil, err
	}
	return e, nil
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}
