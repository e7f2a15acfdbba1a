package enums

// OutboxEventType names a domain event emitted via the transactional outbox.
type OutboxEventType string

const (
	EventOrderCreated     OutboxEventType = "order.created"
	EventOrderCancelled   OutboxEventType = "order.cancelled"
	EventOrderExpired     OutboxEventType = "order.expired"
	EventPaymentSettled   OutboxEventType = "payment.settled"
	EventPaymentFailed    OutboxEventType = "payment.failed"
	EventRefundCompleted  OutboxEventType = "refund.completed"
	EventTransferReleased OutboxEventType = "transfer.released"
	EventPayoutCreated    OutboxEventType = "payout.created"
	EventPayoutSettled    OutboxEventType = "payout.settled"
	EventPayoutFailed     OutboxEventType = "payout.failed"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregateTransaction OutboxAggregateType = "payment_transaction"
	AggregatePayout      OutboxAggregateType = "payout"
)
