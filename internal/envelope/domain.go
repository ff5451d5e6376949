package envelope

import "strings"

// Domain describes one registry flavour served by the mock.
type Domain struct {
	Name         string
	RegistryType string
	RecordType   string
	ContractFile string
}

const DefaultDomain = "social"

var domains = map[string]Domain{
	"social": {Name: "social", RegistryType: "ns:org:RegistryType:Social", RecordType: "Person", ContractFile: "social_api_v1.0.0.yaml"},
	"crvs":   {Name: "crvs", RegistryType: "ns:org:RegistryType:CRVS", RecordType: "CRVSPerson", ContractFile: "crvs_api_v1.0.0.yaml"},
	"fr":     {Name: "fr", RegistryType: "ns:org:RegistryType:FR", RecordType: "Farmer", ContractFile: "fr_api_v1.0.0.yaml"},
	"dr":     {Name: "dr", RegistryType: "ns:org:RegistryType:DR", RecordType: "DisasterRecord", ContractFile: "dr_api_v1.0.0.yaml"},
	"ibr":    {Name: "ibr", RegistryType: "ns:org:RegistryType:IBR", RecordType: "IBRRecord", ContractFile: "ibr_api_v1.0.0.yaml"},
}

// LookupDomain returns the named domain, falling back to social for
// anything unknown. The boolean reports whether the name was known.
func LookupDomain(name string) (Domain, bool) {
	d, ok := domains[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return domains[DefaultDomain], false
	}
	return d, true
}
