package filemanager

// Operation names one of the fixed actions a consumer can call. The value
// is also the method identifier on the wire.
type Operation string

const (
	Browse       Operation = "Browse"
	Load         Operation = "Load"
	Restriction  Operation = "Restriction"
	ErrorDetails Operation = "ErrorDetails"
	Save         Operation = "Save"
	Delete       Operation = "Delete"
	Rename       Operation = "Rename"
	Lock         Operation = "Lock"
	ClearFlags   Operation = "ClearFlags"
	CreateFolder Operation = "CreateFolder"
	Copy         Operation = "Copy"
	Subscription Operation = "Subscription"
)

// NotificationTopic is the push topic behind the Subscription slot.
const NotificationTopic = "Notification"

// Operations lists every slot allocated for an attached consumer.
var Operations = []Operation{
	Browse, Load, Restriction, ErrorDetails,
	Save, Delete, Rename, Lock, ClearFlags, CreateFolder, Copy,
	Subscription,
}

// IsGetter reports whether a newer call on the same consumer supersedes
// a pending one.
func (o Operation) IsGetter() bool {
	switch o {
	case Browse, Load, Restriction, ErrorDetails:
		return true
	}
	return false
}

func (o Operation) IsSetter() bool {
	switch o {
	case Save, Delete, Rename, Lock, ClearFlags, CreateFolder, Copy:
		return true
	}
	return false
}

func (o Operation) String() string { return string(o) }
