package slack

// AlertInfo holds the data needed to build an operator notification.
type AlertInfo struct {
	Title      string
	Severity   string
	TenantID   string
	TenantName string
	Component  string
	Detail     string
	Action     string
}
