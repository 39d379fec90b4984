package domain

// AdmissionResult is the outcome of the atomic admission step. The numeric
// values are what the admission script returns.
type AdmissionResult int

const (
	Accepted         AdmissionResult = 0
	OutOfStock       AdmissionResult = 1
	AlreadyPurchased AdmissionResult = 2
)

func (r AdmissionResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case OutOfStock:
		return "out_of_stock"
	case AlreadyPurchased:
		return "already_purchased"
	default:
		return "unknown"
	}
}

// PersistResult is the outcome of the transactional order write.
type PersistResult int

const (
	PersistCreated PersistResult = iota
	// PersistDuplicate means an order for the same user and item already exists.
	PersistDuplicate
	// PersistOutOfStock means the conditional stock decrement matched no row.
	PersistOutOfStock
)

func (r PersistResult) String() string {
	switch r {
	case PersistCreated:
		return "created"
	case PersistDuplicate:
		return "duplicate"
	case PersistOutOfStock:
		return "out_of_stock"
	default:
		return "unknown"
	}
}
