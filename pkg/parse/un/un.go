// Package un parses the UN Security Council Consolidated List XML into
// canonical sanctions entities, per spec §4.B: INDIVIDUALS/INDIVIDUAL and
// ENTITIES/ENTITY sections keyed by DATAID, uid synthesized as
// "UN-IND-<DATAID>" / "UN-ENT-<DATAID>".
package un

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/sanctionswatch/core/pkg/parse"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

type consolidatedList struct {
	XMLName     xml.Name     `xml:"CONSOLIDATED_LIST"`
	Individuals []individual `xml:"INDIVIDUALS>INDIVIDUAL"`
	Entities    []unEntity   `xml:"ENTITIES>ENTITY"`
}

type individual struct {
	DataID        string   `xml:"DATAID"`
	FirstName     string   `xml:"FIRST_NAME"`
	SecondName    string   `xml:"SECOND_NAME"`
	ThirdName     string   `xml:"THIRD_NAME"`
	FourthName    string   `xml:"FOURTH_NAME"`
	UNListType    string   `xml:"UN_LIST_TYPE"`
	Committee     string   `xml:"COMMITTEE"`
	Comments      string   `xml:"COMMENTS1"`
	Nationalities []string `xml:"NATIONALITY>VALUE"`
	Addresses     []struct {
		Street  string `xml:"STREET"`
		City    string `xml:"CITY"`
		Country string `xml:"COUNTRY"`
	} `xml:"INDIVIDUAL_ADDRESS"`
	DatesOfBirth []struct {
		Date string `xml:"DATE"`
		Year string `xml:"YEAR"`
	} `xml:"INDIVIDUAL_DATE_OF_BIRTH"`
	PlacesOfBirth []struct {
		City    string `xml:"CITY"`
		Country string `xml:"COUNTRY"`
	} `xml:"INDIVIDUAL_PLACE_OF_BIRTH"`
	Aliases []struct {
		AliasName string `xml:"ALIAS_NAME"`
	} `xml:"INDIVIDUAL_ALIAS"`
}

type unEntity struct {
	DataID     string `xml:"DATAID"`
	FirstName  string `xml:"FIRST_NAME"`
	UNListType string `xml:"UN_LIST_TYPE"`
	Committee  string `xml:"COMMITTEE"`
	Comments   string `xml:"COMMENTS1"`
	Addresses  []struct {
		Street  string `xml:"STREET"`
		City    string `xml:"CITY"`
		Country string `xml:"COUNTRY"`
	} `xml:"ENTITY_ADDRESS"`
	Aliases []struct {
		AliasName string `xml:"ALIAS_NAME"`
	} `xml:"ENTITY_ALIAS"`
}

// Parser implements parse.Parser for the UN Consolidated List.
type Parser struct{}

// New returns a UN Parser.
func New() *Parser { return &Parser{} }

// Source implements parse.Parser.
func (p *Parser) Source() sanctions.Source { return sanctions.SourceUN }

// Parse implements parse.Parser.
func (p *Parser) Parse(ctx context.Context, content []byte, minEntities int) (parse.Result, error) {
	var doc consolidatedList
	if err := xml.Unmarshal(content, &doc); err != nil {
		return parse.Result{}, &sanctions.ParsingError{Source: sanctions.SourceUN, Reason: "malformed CONSOLIDATED_LIST document", Err: err}
	}

	stats := parse.Stats{ByEntityType: map[sanctions.EntityType]int{}}
	entities := make([]*sanctions.SanctionedEntity, 0, len(doc.Individuals)+len(doc.Entities))

	for _, rec := range doc.Individuals {
		select {
		case <-ctx.Done():
			return parse.Result{}, ctx.Err()
		default:
		}
		stats.RecordsTotal++
		e, err := convertIndividual(rec)
		if err != nil {
			stats.RecordsFailed++
			if len(stats.FailureSamples) < 10 {
				stats.FailureSamples = append(stats.FailureSamples, fmt.Sprintf("dataid=%s: %v", rec.DataID, err))
			}
			continue
		}
		trackStats(&stats, e)
		entities = append(entities, e)
	}

	for _, rec := range doc.Entities {
		select {
		case <-ctx.Done():
			return parse.Result{}, ctx.Err()
		default:
		}
		stats.RecordsTotal++
		e, err := convertEntity(rec)
		if err != nil {
			stats.RecordsFailed++
			if len(stats.FailureSamples) < 10 {
				stats.FailureSamples = append(stats.FailureSamples, fmt.Sprintf("dataid=%s: %v", rec.DataID, err))
			}
			continue
		}
		trackStats(&stats, e)
		entities = append(entities, e)
	}

	if len(entities) < minEntities {
		return parse.Result{}, &sanctions.InvalidSourceDataError{Source: sanctions.SourceUN, Got: len(entities), Required: minEntities}
	}

	return parse.Result{Entities: entities, Stats: stats}, nil
}

func trackStats(stats *parse.Stats, e *sanctions.SanctionedEntity) {
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
}

func programs(listType, committee string) []string {
	var out []string
	if strings.TrimSpace(listType) != "" {
		out = append(out, listType)
	}
	if strings.TrimSpace(committee) != "" {
		out = append(out, committee)
	}
	return out
}

func convertIndividual(rec individual) (*sanctions.SanctionedEntity, error) {
	if strings.TrimSpace(rec.DataID) == "" {
		return nil, fmt.Errorf("missing DATAID")
	}
	name := joinNameParts(rec.FirstName, rec.SecondName, rec.ThirdName, rec.FourthName)
	if name == "" {
		return nil, fmt.Errorf("no name parts for dataid=%s", rec.DataID)
	}

	e := &sanctions.SanctionedEntity{
		UID:           "UN-IND-" + strings.TrimSpace(rec.DataID),
		Source:        sanctions.SourceUN,
		EntityType:    sanctions.EntityPerson,
		Name:          name,
		Programs:      programs(rec.UNListType, rec.Committee),
		Remarks:       rec.Comments,
		Nationalities: append([]string(nil), rec.Nationalities...),
	}

	for _, a := range rec.Aliases {
		if alias := strings.TrimSpace(a.AliasName); alias != "" && !strings.EqualFold(alias, name) {
			e.Aliases = append(e.Aliases, alias)
		}
	}
	for _, addr := range rec.Addresses {
		e.Addresses = append(e.Addresses, sanctions.Address{Street: addr.Street, City: addr.City, Country: addr.Country})
	}

	pi := &sanctions.PersonalInfo{}
	if len(rec.DatesOfBirth) > 0 {
		dob := rec.DatesOfBirth[0]
		if dob.Date != "" {
			pi.DateOfBirth = dob.Date
		} else if dob.Year != "" {
			pi.DateOfBirth = dob.Year
		}
	}
	if len(rec.PlacesOfBirth) > 0 {
		pob := rec.PlacesOfBirth[0]
		pi.PlaceOfBirth = strings.TrimSpace(joinNonEmpty(", ", pob.City, pob.Country))
	}
	if len(rec.Nationalities) > 0 {
		pi.Nationality = rec.Nationalities[0]
	}
	e.PersonalInfo = pi

	if err := e.Canonicalize(); err != nil {
		return nil, err
	}
	return e, nil
}

func convertEntity(rec unEntity) (*sanctions.SanctionedEntity, error) {
	if strings.TrimSpace(rec.DataID) == "" {
		return nil, fmt.Errorf("missing DATAID")
	}
	name := strings.TrimSpace(rec.FirstName)
	if name == "" {
		return nil, fmt.Errorf("no name for dataid=%s", rec.DataID)
	}

	e := &sanctions.SanctionedEntity{
		UID:        "UN-ENT-" + strings.TrimSpace(rec.DataID),
		Source:     sanctions.SourceUN,
		EntityType: sanctions.EntityCompany,
		Name:       name,
		Programs:   programs(rec.UNListType, rec.Committee),
		Remarks:    rec.Comments,
	}
	for _, a := range rec.Aliases {
		if alias := strings.TrimSpace(a.AliasName); alias != "" && !strings.EqualFold(alias, name) {
			e.Aliases = append(e.Aliases, alias)
		}
	}
	for _, addr := range rec.Addresses {
		e.Addresses = append(e.Addresses, sanctions.Address{Street: addr.Street, City: addr.City, Country: addr.Country})
	}

	if err := e.Canonicalize(); err != nil {
		return nil, err
	}
	return e, nil
}

func joinNameParts(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return strings.Join(out, " ")
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return strings.Join(out, sep)
}
