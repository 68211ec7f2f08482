package domain

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Order statuses. PENDING and PROCESSING are the only non-terminal states;
// transitions are monotonic toward a terminal state.
const (
	OrderStatusPending    = "PENDING"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCancelled  = "CANCELLED"
	OrderStatusFailed     = "FAILED"
)

// Payment statuses. Everything except PENDING is terminal.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusCancelled = "CANCELLED"
)

const (
	PaymentMethodCryptomus = "cryptomus"
	PaymentMethodWeepay    = "weepay"
	PaymentMethodIyzico    = "iyzico"
)

const (
	DeliveryTypeAutomatic = "AUTOMATIC"
	DeliveryTypeManual    = "MANUAL"
)

// OrderTerminal reports whether an order status permits no further transition.
func OrderTerminal(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusCancelled || status == OrderStatusFailed
}

// PaymentTerminal reports whether a payment status permits no further transition.
func PaymentTerminal(status string) bool {
	return status == PaymentStatusCompleted || status == PaymentStatusFailed || status == PaymentStatusCancelled
}
