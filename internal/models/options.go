package models

// Choice is a two-valued option parsed from the literal tokens "yes" and "no".
type Choice int

const (
	No Choice = iota
	Yes
)

const (
	yesToken = "yes"
	noToken  = "no"
)

// ParseChoice converts a boundary token. Anything but "yes" is No.
func ParseChoice(token string) Choice {
	if token == yesToken {
		return Yes
	}
	return No
}

func (c Choice) Bool() bool {
	return c == Yes
}

func (c Choice) String() string {
	if c == Yes {
		return yesToken
	}
	return noToken
}

// SnapshotOptions holds the recognised per-request snapshot options.
type SnapshotOptions struct {
	// Memory includes the VM's RAM state in the snapshot.
	Memory bool
	// Quiesce asks VMware Tools to make the guest filesystem consistent first.
	Quiesce bool
	// Cascade removes the snapshot's children along with it.
	Cascade bool
}

// ParseSnapshotOptions converts the yes/no tokens once at the boundary.
func ParseSnapshotOptions(memory, quiesce, cascade string) SnapshotOptions {
	return SnapshotOptions{
		Memory:  ParseChoice(memory).Bool(),
		Quiesce: ParseChoice(quiesce).Bool(),
		Cascade: ParseChoice(cascade).Bool(),
	}
}
