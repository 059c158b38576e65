// Package banks resolves Nigerian bank names to CBN bank codes.
package banks

import (
	"sort"
	"strings"
)

// UnknownCode is returned by Resolve when a bank name is not recognised.
const UnknownCode = "999"

// UnknownName is returned by Name when a code is not recognised.
const UnknownName = "Unknown Bank"

// codes maps lower-cased bank names (and common aliases) to CBN codes.
var codes = map[string]string{
	"access bank":              "044",
	"access bank (diamond)":    "063",
	"citibank":                 "023",
	"ecobank":                  "050",
	"fidelity bank":            "070",
	"first bank":               "011",
	"first city monument bank": "214",
	"fcmb":                     "214",
	"gtbank":                   "058",
	"guaranty trust bank":      "058",
	"heritage bank":            "030",
	"keystone bank":            "082",
	"polaris bank":             "076",
	"providus bank":            "101",
	"stanbic ibtc":             "221",
	"standard chartered":       "068",
	"sterling bank":            "232",
	"suntrust bank":            "100",
	"union bank":               "032",
	"uba":                      "033",
	"united bank for africa":   "033",
	"unity bank":               "215",
	"wema bank":                "035",
	"zenith bank":              "057",

	// Digital banks
	"kuda":    "50211",
	"rubies":  "50218",
	"sparkle": "090325",
	"vfd":     "50153",

	// Fintech / mobile money
	"moniepoint": "50515",
	"opay":       "999992",
	"palmpay":    "999991",
	"paga":       "327",
	"carbon":     "565",
	"gtworld":    "758",
}

// Bank is a single directory entry.
type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Resolve returns the CBN code for a bank name, or UnknownCode.
func Resolve(name string) string {
	if code, ok := codes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return code
	}
	return UnknownCode
}

// Name returns the first bank name (alphabetically) registered for code, or
// UnknownName.
func Name(code string) string {
	for _, b := range All() {
		if b.Code == code {
			return b.Name
		}
	}
	return UnknownName
}

// IsValid reports whether code belongs to a known bank.
func IsValid(code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// All returns the directory sorted by name.
func All() []Bank {
	out := make([]Bank, 0, len(codes))
	for name, code := range codes {
		out = append(out, Bank{Name: name, Code: code})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
