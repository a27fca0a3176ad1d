package geo

import (
	"regexp"
	"strconv"

	"zonalcore/internal/faults"
)

// Dot-ids encode up to three nested levels: ISO3 country, then optional
// numeric region and subregion, e.g. "BRA", "BRA.1", "BRA.1.12".
var adminIDPattern = regexp.MustCompile(`^([A-Z]{3})(?:\.(\d+)(?:\.(\d+))?)?$`)

// ParseAdminID splits a hierarchical dot-id into its components.
func ParseAdminID(id string) (AdminUnit, error) {
	m := adminIDPattern.FindStringSubmatch(id)
	if m == nil {
		return AdminUnit{}, faults.New(faults.KindValidation, "malformed admin id %q", id)
	}
	adm := AdminUnit{ID: id, Country: m[1]}
	if m[2] != "" {
		region, err := strconv.Atoi(m[2])
		if err != nil {
			return AdminUnit{}, faults.Wrap(faults.KindValidation, err, "admin id %q region", id)
		}
		adm.Region = &region
	}
	if m[3] != "" {
		sub, err := strconv.Atoi(m[3])
		if err != nil {
			return AdminUnit{}, faults.Wrap(faults.KindValidation, err, "admin id %q subregion", id)
		}
		adm.Subregion = &sub
	}
	return adm, nil
}
