package events

// Domain events published after successful mutations of the expense tracker data.
const (
	ExpenseAdded         = "expense.added"
	ExpenseUpdated       = "expense.updated"
	ExpenseDeleted       = "expense.deleted"
	CategoryChanged      = "category.changed"
	PaymentMethodChanged = "payment_method.changed"
	EstablishmentChanged = "establishment.changed"
	SyncNeeded           = "sync.needed"
)

var domainEvents = []string{
	ExpenseAdded,
	ExpenseUpdated,
	ExpenseDeleted,
	CategoryChanged,
	PaymentMethodChanged,
	EstablishmentChanged,
	SyncNeeded,
}

// DomainEvents lists every domain event name.
func DomainEvents() []string {
	out := make([]string, len(domainEvents))
	copy(out, domainEvents)
	return out
}

// ExpenseEvents are the events that change expense aggregates.
func ExpenseEvents() []string {
	return []string{ExpenseAdded, ExpenseUpdated, ExpenseDeleted}
}

// IsDomainEvent reports whether name is one of the domain events.
func IsDomainEvent(name string) bool {
	for _, e := range domainEvents {
		if e == name {
			return true
		}
	}
	return false
}
