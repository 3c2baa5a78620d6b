package freq

import "fmt"

// Clinical is the space of a typical clinical study with subject groups, members
// within groups (matched test/control subjects share a member id) and
// longitudinal timepoints.
var Clinical = MustSpace("clinical",
	Member{Name: "dataset", Bits: 0b000},
	Member{Name: "group", Bits: 0b100},
	Member{Name: "member", Bits: 0b010},
	Member{Name: "timepoint", Bits: 0b001},
	Member{Name: "subject", Bits: 0b110},
	Member{Name: "session", Bits: 0b111},
	Member{Name: "group_timepoint", Bits: 0b101},
	Member{Name: "subject_timepoint", Bits: 0b011},
)

// Frequencies of the Clinical space.
var (
	Dataset          = Clinical.MustParse("dataset")
	Group            = Clinical.MustParse("group")
	MemberDim        = Clinical.MustParse("member")
	Timepoint        = Clinical.MustParse("timepoint")
	Subject          = Clinical.MustParse("subject")
	Session          = Clinical.MustParse("session")
	GroupTimepoint   = Clinical.MustParse("group_timepoint")
	SubjectTimepoint = Clinical.MustParse("subject_timepoint")
)

var spaces = map[string]*Space{
	Clinical.Name(): Clinical,
}

// LookupSpace returns a built-in space by name.
func LookupSpace(name string) (*Space, error) {
	s, ok := spaces[name]
	if !ok {
		return nil, fmt.Errorf("unknown frequency space %q", name)
	}
	return s, nil
}
