package domain

// EventBus routes inbound events from transports to pipeline workers.
type EventBus interface {
	Publish(ev InboundEvent)
	Subscribe() <-chan InboundEvent
	Close()
}
