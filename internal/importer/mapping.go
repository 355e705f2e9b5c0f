package importer

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/nextgenfi/targeting-cli/internal/model"
)

// field identifies a mapped candidate column.
type field int

const (
	fieldNone field = iota
	fieldID
	fieldFirstName
	fieldLastName
	fieldEmail
	fieldPhone
	fieldCity
	fieldState
	fieldLatitude
	fieldLongitude
	fieldAssetValue
	fieldHasInsurance
	fieldDoNotCall
	fieldHomeowner
	fieldIncome
	fieldAge
	fieldChildren
)

// headerAliases maps normalized header names to fields. Scout-style codes
// (homeownercd, dnc, child) are accepted alongside plain names.
var headerAliases = map[string]field{
	"id": fieldID, "candidate_id": fieldID, "person_id": fieldID,
	"first_name": fieldFirstName, "firstname": fieldFirstName,
	"last_name": fieldLastName, "lastname": fieldLastName,
	"email": fieldEmail,
	"phone": fieldPhone, "phone_number": fieldPhone,
	"city":  fieldCity,
	"state": fieldState,
	"latitude": fieldLatitude, "lat": fieldLatitude,
	"longitude": fieldLongitude, "lon": fieldLongitude, "lng": fieldLongitude,
	"asset_value": fieldAssetValue, "house_value": fieldAssetValue, "housevalue": fieldAssetValue,
	"home_value": fieldAssetValue, "prop_valcalc": fieldAssetValue,
	"has_insurance": fieldHasInsurance, "hasinsurance": fieldHasInsurance, "insured": fieldHasInsurance,
	"do_not_call": fieldDoNotCall, "dnc": fieldDoNotCall,
	"homeowner": fieldHomeowner, "homeownercd": fieldHomeowner,
	"income": fieldIncome,
	"age":    fieldAge,
	"children": fieldChildren, "child": fieldChildren, "has_children": fieldChildren,
}

// homeValueCodes converts letter-coded home value ranges to range midpoints.
var homeValueCodes = map[string]float64{
	"A": 12500, "B": 37500, "C": 62500, "D": 87500, "E": 112500, "F": 137500,
	"G": 162500, "H": 187500, "I": 212500, "J": 237500, "K": 262500, "L": 287500,
	"M": 325000, "N": 375000, "O": 425000, "P": 475000, "Q": 625000, "R": 875000,
	"S": 1000000,
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	return h
}

// columnMap resolves each header cell to a field; unknown headers map to
// fieldNone and are kept as enrichment attributes.
type columnMap struct {
	fields []field
	names  []string
}

func newColumnMap(header []string) (*columnMap, error) {
	m := &columnMap{fields: make([]field, len(header)), names: make([]string, len(header))}
	seen := map[field]bool{}
	for i, h := range header {
		name := normalizeHeader(h)
		m.names[i] = name
		f := headerAliases[name]
		if f != fieldNone {
			if seen[f] {
				return nil, eris.Errorf("importer: column %q duplicates an earlier column", h)
			}
			seen[f] = true
		}
		m.fields[i] = f
	}
	if !seen[fieldLatitude] || !seen[fieldLongitude] {
		return nil, eris.New("importer: latitude and longitude columns are required")
	}
	if !seen[fieldID] && !seen[fieldEmail] {
		return nil, eris.New("importer: an id or email column is required")
	}
	return m, nil
}

// candidate builds a Candidate from one row. A row without an ID derives a
// stable one from the email address.
func (m *columnMap) candidate(row []string) (model.Candidate, error) {
	var c model.Candidate
	en := model.Enrichment{}
	enriched := false

	for i, f := range m.fields {
		if i >= len(row) {
			break
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			continue
		}
		var err error
		switch f {
		case fieldID:
			c.ID = v
		case fieldFirstName:
			c.FirstName = v
		case fieldLastName:
			c.LastName = v
		case fieldEmail:
			c.Email = strings.ToLower(v)
		case fieldPhone:
			c.Phone = v
		case fieldCity:
			c.City = v
		case fieldState:
			c.State = strings.ToUpper(v)
		case fieldLatitude:
			c.Latitude, err = parseCoord(v, 90)
		case fieldLongitude:
			c.Longitude, err = parseCoord(v, 180)
		case fieldAssetValue:
			c.AssetValue, err = parseAssetValue(v)
		case fieldHasInsurance:
			c.HasInsurance, err = parseBool(v)
		case fieldDoNotCall:
			c.DoNotCall, err = parseBool(v)
		case fieldHomeowner:
			enriched = true
			en.Homeowner, err = parseHomeowner(v)
		case fieldIncome:
			enriched = true
			var x float64
			x, err = strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
			if err == nil && (math.IsNaN(x) || math.IsInf(x, 0)) {
				err = eris.Errorf("%q is not a finite number", v)
			}
			en.Income = &x
		case fieldAge:
			enriched = true
			var a int
			a, err = strconv.Atoi(v)
			en.Age = &a
		case fieldChildren:
			enriched = true
			var b bool
			b, err = parseBool(v)
			en.Children = &b
		case fieldNone:
			if en.Attrs == nil {
				en.Attrs = map[string]string{}
			}
			en.Attrs[m.names[i]] = v
			enriched = true
		}
		if err != nil {
			return model.Candidate{}, eris.Wrapf(err, "column %q", m.names[i])
		}
	}

	if c.ID == "" {
		if c.Email == "" {
			return model.Candidate{}, eris.New("row has neither id nor email")
		}
		c.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+c.Email)).String()
	}
	if c.Latitude == nil || c.Longitude == nil {
		return model.Candidate{}, eris.New("row is missing coordinates")
	}
	if enriched {
		c.Enrichment = &en
	}
	return c, nil
}

func parseCoord(v string, limit float64) (*float64, error) {
	x, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(x) || x < -limit || x > limit {
		return nil, eris.Errorf("%v is out of range", x)
	}
	return &x, nil
}

func parseAssetValue(v string) (float64, error) {
	if code, ok := homeValueCodes[strings.ToUpper(v)]; ok {
		return code, nil
	}
	v = strings.NewReplacer("$", "", ",", "").Replace(v)
	x, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, eris.Errorf("%q is not a finite number", v)
	}
	if x < 0 {
		return 0, eris.Errorf("negative value %v", x)
	}
	return x, nil
}

// parseHomeowner accepts booleans and ownership codes: H is owner, any
// other single letter (R renter, U unknown) is not.
func parseHomeowner(v string) (bool, error) {
	if len(v) == 1 && !strings.ContainsAny(v, "01tfynTFYN") {
		return strings.EqualFold(v, "H"), nil
	}
	return parseBool(v)
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "t", "true", "y", "yes":
		return true, nil
	case "0", "f", "false", "n", "no":
		return false, nil
	}
	return false, eris.Errorf("invalid boolean %q", v)
}
