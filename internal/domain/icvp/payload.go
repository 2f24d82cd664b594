// Package icvp issues Digital Vaccination Certificates for the
// International Certificate of Vaccination or Prophylaxis.
package icvp

import (
	"errors"
)

// ErrNoVaccination is returned for a DVC model without vaccine details.
var ErrNoVaccination = errors.New("DVC model has no vaccineDetails")

// Vaccination is the compact form of the first vaccine event.
type Vaccination struct {
	DoseNumber     string      `json:"dn"`
	Disease        string      `json:"tg"`
	Classification string      `json:"vp"`
	Manufacturer   interface{} `json:"ma"`
	Date           string      `json:"dt"`
	Batch          string      `json:"bo"`
	TradeItem      string      `json:"mp,omitempty"`
	ManufacturerID string      `json:"mid,omitempty"`
	ValidFrom      string      `json:"vls,omitempty"`
	ValidUntil     string      `json:"vle,omitempty"`
	Clinician      string      `json:"cn,omitempty"`
	Issuer         string      `json:"is,omitempty"`
}

// Payload is the compact DVC carried in the QR credential.
type Payload struct {
	Name        string      `json:"n"`
	DateOfBirth string      `json:"dob"`
	Vaccination Vaccination `json:"v"`
	Sex         string      `json:"s,omitempty"`
	Nationality string      `json:"ntl,omitempty"`
	NationalID  string      `json:"nid,omitempty"`
	Guardian    string      `json:"gn,omitempty"`
}

// Serialize reduces a DVC logical model to its QR payload.
func Serialize(model map[string]interface{}) (*Payload, error) {
	details, _ := model["vaccineDetails"].([]interface{})
	if len(details) == 0 {
		return nil, ErrNoVaccination
	}
	vd, ok := details[0].(map[string]interface{})
	if !ok {
		return nil, ErrNoVaccination
	}

	p := &Payload{
		Name:        str(model, "name"),
		DateOfBirth: str(model, "dob"),
		Sex:         str(model, "sex"),
		Nationality: str(model, "nationality"),
		NationalID:  str(model, "nid"),
		Guardian:    str(model, "guardian"),
		Vaccination: Vaccination{
			DoseNumber:     firstCode(vd["doseNumber"]),
			Disease:        str(vd, "disease", "code"),
			Classification: firstCode(vd["vaccineClassification"]),
			Manufacturer:   vd["manufacturer"],
			Date:           str(vd, "date"),
			Batch:          str(vd, "batchNo"),
			TradeItem:      str(vd, "vaccineTradeItem", "value"),
			ManufacturerID: str(vd, "manufacturerId", "value"),
			ValidFrom:      str(vd, "validityPeriod", "start"),
			ValidUntil:     str(vd, "validityPeriod", "end"),
			Clinician:      str(vd, "clinicianName"),
			Issuer:         str(vd, "issuer", "display"),
		},
	}
	return p, nil
}

// str walks nested objects and returns the string at the end of path.
func str(m map[string]interface{}, path ...string) string {
	var cur interface{} = m
	for _, key := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	s, _ := cur.(string)
	return s
}

func firstCode(concept interface{}) string {
	obj, _ := concept.(map[string]interface{})
	coding, _ := obj["coding"].([]interface{})
	if len(coding) == 0 {
		return ""
	}
	c, _ := coding[0].(map[string]interface{})
	return str(c, "code")
}
