package model

import "fmt"

type Rule struct {
	Type      string // e.g. "DOMAIN-SUFFIX", "IP-CIDR", "MATCH"
	Value     string // domain/suffix/keyword/cidr/cc
	Action    string // DIRECT/REJECT/group name
	NoResolve bool   // only meaningful for IP-CIDR/IP-CIDR6
}

// String renders the rule as a Clash rule line.
func (r Rule) String() string {
	if r.Type == "MATCH" {
		return fmt.Sprintf("MATCH,%s", r.Action)
	}
	if (r.Type == "IP-CIDR" || r.Type == "IP-CIDR6") && r.NoResolve {
		return fmt.Sprintf("%s,%s,%s,no-resolve", r.Type, r.Value, r.Action)
	}
	return fmt.Sprintf("%s,%s,%s", r.Type, r.Value, r.Action)
}
