package domain

// Category is the recovery class assigned to a failed remote call, plus the
// outcomes the retry orchestrator can report back to a workflow.
type Category string

const (
	CategoryNone             Category = ""
	CategoryAuthExpired      Category = "auth_expired"
	CategoryRateLimited      Category = "rate_limited"
	CategoryTransientNetwork Category = "transient_network"
	CategoryTransientProxy   Category = "transient_proxy"
	CategoryFatal            Category = "fatal"

	// CategoryRenewed tells the caller the session was renewed and its
	// client must be rebuilt before the step is re-issued.
	CategoryRenewed     Category = "renewed"
	CategoryAccountDead Category = "account_dead"
	CategoryCanceled    Category = "canceled"
)

func (c Category) Transient() bool {
	return c == CategoryTransientNetwork || c == CategoryTransientProxy
}

// Terminal reports whether no further retry of the same call may follow.
func (c Category) Terminal() bool {
	switch c {
	case CategoryFatal, CategoryAccountDead, CategoryCanceled:
		return true
	default:
		return false
	}
}

func (c Category) String() string {
	if c == CategoryNone {
		return "none"
	}
	return string(c)
}
