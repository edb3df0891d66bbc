package domain

import "strings"

// InsuranceType is an insurance domain used to tag and filter documents.
type InsuranceType string

// Known insurance types.
const (
	InsuranceTravel    InsuranceType = "Travel"
	InsuranceHealth    InsuranceType = "Health"
	InsuranceCar       InsuranceType = "Car"
	InsuranceApartment InsuranceType = "Apartment"
	InsuranceLife      InsuranceType = "Life"
	InsuranceBusiness  InsuranceType = "Business"
	InsuranceDental    InsuranceType = "Dental"
	InsuranceMortgage  InsuranceType = "Mortgage"
)

// InsuranceTypes lists every known insurance type.
var InsuranceTypes = []InsuranceType{
	InsuranceTravel,
	InsuranceHealth,
	InsuranceCar,
	InsuranceApartment,
	InsuranceLife,
	InsuranceBusiness,
	InsuranceDental,
	InsuranceMortgage,
}

// ParseInsuranceType matches s case-insensitively against the known types.
func ParseInsuranceType(s string) (InsuranceType, bool) {
	s = strings.TrimSpace(s)
	for _, t := range InsuranceTypes {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// insurancePathAliases maps corpus path segments to insurance types.
var insurancePathAliases = map[string]InsuranceType{
	"travel":    InsuranceTravel,
	"abroad":    InsuranceTravel,
	"health":    InsuranceHealth,
	"car":       InsuranceCar,
	"vehicle":   InsuranceCar,
	"apartment": InsuranceApartment,
	"home":      InsuranceApartment,
	"life":      InsuranceLife,
	"business":  InsuranceBusiness,
	"dental":    InsuranceDental,
	"mortgage":  InsuranceMortgage,
}

// InsuranceTypeFromPath derives the insurance type from a corpus path of
// the form ".../insurance/<topic>/...". Returns false when no known topic
// is found.
func InsuranceTypeFromPath(path string) (InsuranceType, bool) {
	path = strings.ReplaceAll(path, "\\", "/")
	idx := strings.Index(path, "/insurance/")
	if idx < 0 {
		return "", false
	}
	topic := path[idx+len("/insurance/"):]
	if slash := strings.Index(topic, "/"); slash >= 0 {
		topic = topic[:slash]
	}
	if dot := strings.Index(topic, "."); dot >= 0 {
		topic = topic[:dot]
	}
	topic = strings.TrimSuffix(strings.ToLower(topic), "-insurance")
	if t, ok := insurancePathAliases[topic]; ok {
		return t, true
	}
	return ParseInsuranceType(topic)
}
