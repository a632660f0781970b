package activity

// ListActivityOptions provides filtering options for listing activity.
type ListActivityOptions struct {
	ProjectID     string
	ClaimToken    *string
	ActivityTypes []ActivityType
	Limit         int
	Offset        int
	// Ascending returns oldest entries first.
	Ascending bool
}
