package access

type AccessState string

const (
	AccessActive AccessState = "active"
	AccessLapsed AccessState = "lapsed"
	AccessNone   AccessState = "none"
)
