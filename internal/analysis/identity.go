package analysis

import (
	"encoding/json"

	"github.com/google/uuid"

	"zonalcore/internal/faults"
)

// jobNamespace is the fixed UUID namespace for job identities. Changing it,
// or schemaVersion, deliberately invalidates every previously cached result.
var jobNamespace = uuid.MustParse("a1b4c6de-2f5a-4c1d-9e3b-7d8f0a2c4e61")

// schemaVersion is folded into the identity so that semantic changes to the
// request encoding or the compute engine produce fresh job ids.
const schemaVersion = "v1"

// Identity derives the deterministic job id from the request payload. Equal
// requests always map to the same id, which is what makes submission
// idempotent.
func Identity(req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", faults.Wrap(faults.KindValidation, err, "encode request for identity")
	}
	name := make([]byte, 0, len(schemaVersion)+1+len(payload))
	name = append(name, schemaVersion...)
	name = append(name, '\n')
	name = append(name, payload...)
	return uuid.NewSHA1(jobNamespace, name).String(), nil
}
