package registry

// Policy selects how a record write is authorized.
type Policy int

const (
	// PolicyNormal permits the write only when the doctor holds an explicit
	// consent grant for the patient.
	PolicyNormal Policy = iota

	// PolicyEmergency permits any registered, active doctor to write,
	// bypassing consent. Entries written under this policy are always
	// flagged IsEmergency so they surface in retrospective audit review.
	PolicyEmergency
)

func (p Policy) String() string {
	if p == PolicyEmergency {
		return "emergency"
	}
	return "normal"
}

// Decision is the result of evaluating an access policy.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Decide evaluates whether doctor may append a record for patient under the
// given policy. It is a pure function: stores call it inside the same
// transaction that performs the write, so the decision and the mutation see
// one consistent state. doctor and patient may be nil when unknown.
func Decide(p Policy, doctor *Doctor, patient *Patient, hasGrant bool) Decision {
	if doctor == nil || !doctor.Active {
		return Decision{Allowed: false, Reason: "doctor not registered or inactive"}
	}
	if patient == nil || !patient.Active {
		return Decision{Allowed: false, Reason: "patient not registered or inactive"}
	}

	if p == PolicyEmergency {
		return Decision{Allowed: true, Reason: "emergency override, consent bypassed"}
	}

	if !hasGrant {
		return Decision{Allowed: false, Reason: "no consent grant for doctor"}
	}
	return Decision{Allowed: true, Reason: "consent grant present"}
}
