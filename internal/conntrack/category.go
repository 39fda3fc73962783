package conntrack

// Category identifies the role of a tracked connection. The integer value
// doubles as the display weight: inbound relay traffic sorts first, the
// synthesized localhost entry last. Category is fixed at classification
// time and never changes for the lifetime of a record.
type Category int

const (
	Inbound Category = iota
	Outbound
	Client
	Directory
	Control
	Localhost
)

// NumCounted is the number of categories tracked in the snapshot count
// vector. The localhost entry is synthesized rather than observed and is
// not counted.
const NumCounted = int(Localhost)

func (c Category) String() string {
	switch c {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	case Client:
		return "client"
	case Directory:
		return "directory"
	case Control:
		return "control"
	case Localhost:
		return "localhost"
	}
	return "unknown"
}
